package main

import (
	"context"
	"fmt"

	"github.com/any-hub/any-cache/internal/fetcher"
)

// fetchOnce 下载命令行给出的 URL 并逐行输出 "url<TAB>path"，任一失败则返回 1。
func fetchOnce(ctx context.Context, coordinator *fetcher.Coordinator, opts cliOptions) int {
	results := coordinator.FetchMany(ctx, opts.urls, fetcher.Options{
		Referer: opts.referer,
		Keep:    opts.keep,
	})

	code := 0
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(stdErr, "%s\t%v\n", res.Key, res.Err)
			code = 1
			continue
		}
		fmt.Fprintf(stdOut, "%s\t%s\n", res.Key, res.Path)
	}
	return code
}
