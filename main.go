package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/config"
	"github.com/any-hub/any-cache/internal/download"
	"github.com/any-hub/any-cache/internal/fetcher"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/server"
	"github.com/any-hub/any-cache/internal/version"
)

const shutdownTimeout = 10 * time.Second

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	referer     string
	keep        time.Duration
	urls        []string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage"] = cfg.Global.StoragePath
		fields["index"] = cfg.Global.IndexPath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 索引恢复 → 下载引擎 → 协调器 → Sweeper/HTTP，
	// 所有入口共享同一个索引与正文目录。
	recorder := metrics.New()
	index, store, err := cache.Open(cache.Options{
		StoragePath: cfg.Global.StoragePath,
		IndexPath:   cfg.Global.IndexPath,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "恢复缓存索引失败: %v\n", err)
		return 1
	}

	engine := download.NewEngine(server.NewUpstreamClient(cfg), store, download.Options{
		Segments:       cfg.Download.Segments,
		BufferSize:     cfg.Download.BufferSize,
		MaxRetries:     cfg.Download.MaxRetries,
		InitialBackoff: cfg.Download.InitialBackoff.DurationValue(),
		UserAgent:      cfg.Download.UserAgent,
	}, logger)

	coordinator, err := fetcher.New(fetcher.Config{
		Index:            index,
		Store:            store,
		Downloader:       engine,
		Logger:           logger,
		Metrics:          recorder,
		DefaultKeep:      cfg.Global.DefaultKeep.DurationValue(),
		BatchConcurrency: cfg.Global.BatchConcurrency,
		ProgressInterval: cfg.Download.ProgressInterval.DurationValue(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化下载协调器失败: %v\n", err)
		return 1
	}
	defer coordinator.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["entries"] = index.Len()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("缓存初始化完成")

	if len(opts.urls) > 0 {
		return fetchOnce(ctx, coordinator, opts)
	}

	sweeper := cache.NewSweeper(index, store, cfg.Global.SweepInterval.DurationValue(), logger, recorder)
	if err := serve(ctx, cfg, coordinator, sweeper, recorder, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("any-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		referer    string
		keep       time.Duration
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ANY_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&referer, "referer", "", "一次性下载时附带的 Referer")
	fs.DurationVar(&keep, "keep", 0, "一次性下载条目的保留时长（默认使用 DefaultKeep）")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if keep < 0 {
		return cliOptions{}, errors.New("解析参数失败: --keep 不能为负数")
	}

	path := os.Getenv("ANY_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		referer:     referer,
		keep:        keep,
		urls:        fs.Args(),
	}, nil
}

// serve 并行运行 Sweeper 与 Fiber 服务，ctx 结束后优雅关闭两者。
// 任一方异常退出都会取消另一方。
func serve(
	ctx context.Context,
	cfg *config.Config,
	coordinator *fetcher.Coordinator,
	sweeper *cache.Sweeper,
	recorder *metrics.Recorder,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Fetcher:    coordinator,
		Metrics:    recorder,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
			DisableStartupMessage: true,
			GracefulContext:       gctx,
			ShutdownTimeout:       shutdownTimeout,
		})
	})
	return g.Wait()
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
