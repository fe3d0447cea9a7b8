package cache

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
)

// Options 描述启动恢复所需的目录、快照路径与观测依赖。
type Options struct {
	StoragePath string
	IndexPath   string
	Logger      *logrus.Logger
	Metrics     *metrics.Recorder
}

// Open 完成启动恢复流程：
//  1. 创建/复用正文目录；
//  2. 读取快照（损坏即返回 ErrCorruptIndex，调用方应终止进程）；
//  3. 丢弃正文文件已不存在或不在目录内的条目，并重写快照；
//  4. 删除目录中未被任何条目引用的孤儿文件（含残留的临时文件）。
func Open(opts Options) (*Index, Store, error) {
	log := logging.Component(opts.Logger, "cache")

	store, err := NewStore(opts.StoragePath)
	if err != nil {
		return nil, nil, err
	}

	index, err := LoadIndex(opts.IndexPath, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, nil, err
	}

	loaded := index.Len()
	pruned := index.Prune(func(entry Entry) bool {
		return store.Exists(entry.Path)
	})
	opts.Metrics.Evicted(metrics.ReasonMissing, pruned)
	if err := index.Save(); err != nil {
		return nil, nil, fmt.Errorf("rewrite index snapshot: %w", err)
	}

	orphans, err := store.Reclaim(index.Paths())
	if err != nil {
		return nil, nil, err
	}

	log.WithFields(logrus.Fields{
		"action":  "cache_open",
		"storage": store.Dir(),
		"index":   index.Path(),
		"loaded":  loaded,
		"pruned":  pruned,
		"orphans": len(orphans),
		"entries": index.Len(),
	}).Info("cache index restored")

	return index, store, nil
}
