package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/download"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
)

const (
	defaultBatchConcurrency = 4
	defaultProgressInterval = 3 * time.Second
)

var (
	// ErrEmptyKey 表示调用方传入了空 URL。
	ErrEmptyKey = errors.New("fetch key required")
	// ErrClosed 表示 Coordinator 已关闭，不再接受新的下载。
	ErrClosed = errors.New("fetch coordinator closed")
)

// Downloader 执行单次下载，*download.Engine 是默认实现。
type Downloader interface {
	Download(ctx context.Context, req download.Request, obs download.Observer) (*download.Payload, error)
}

// Options 是单次 Fetch 的参数，Keep <= 0 时使用 Coordinator 的默认保留时长。
type Options struct {
	Referer string
	Keep    time.Duration
}

// Result 是 FetchMany 中单个 key 的结果，彼此独立。
type Result struct {
	Key  string
	Path string
	Err  error
}

// Config 汇总 Coordinator 的依赖。
type Config struct {
	Index            *cache.Index
	Store            cache.Store
	Downloader       Downloader
	Logger           *logrus.Logger
	Metrics          *metrics.Recorder
	DefaultKeep      time.Duration
	BatchConcurrency int
	ProgressInterval time.Duration
}

// Coordinator 负责“查索引 → 去重下载 → 落盘 → 登记条目”的完整流程。
type Coordinator struct {
	index            *cache.Index
	store            cache.Store
	downloader       Downloader
	logger           *logrus.Entry
	metrics          *metrics.Recorder
	defaultKeep      time.Duration
	batchConcurrency int
	progressInterval time.Duration
	now              func() time.Time

	flights singleflight.Group
	mu      sync.Mutex
	active  map[string]struct{}
	closed  bool

	// 下载运行在 lifecycle 上，而不是调用方的 ctx 上。
	lifecycle context.Context
	cancel    context.CancelFunc
	transfers sync.WaitGroup
}

// New 校验依赖并构造 Coordinator。
func New(cfg Config) (*Coordinator, error) {
	if cfg.Index == nil {
		return nil, errors.New("cache index is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.Downloader == nil {
		return nil, errors.New("downloader is required")
	}
	if cfg.DefaultKeep <= 0 {
		cfg.DefaultKeep = cache.DefaultKeep
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}

	lifecycle, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		index:            cfg.Index,
		store:            cfg.Store,
		downloader:       cfg.Downloader,
		logger:           logging.Component(cfg.Logger, "fetcher"),
		metrics:          cfg.Metrics,
		defaultKeep:      cfg.DefaultKeep,
		batchConcurrency: cfg.BatchConcurrency,
		progressInterval: cfg.ProgressInterval,
		now:              time.Now,
		active:           make(map[string]struct{}),
		lifecycle:        lifecycle,
		cancel:           cancel,
	}, nil
}

// Fetch 返回 key 对应的本地文件路径。索引命中时直接返回；否则同一 key 的并发调用
// 共享同一次下载。调用方 ctx 取消只会让该调用方提前返回，下载本身继续服务其他等待者。
func (c *Coordinator) Fetch(ctx context.Context, key string, opts Options) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrEmptyKey
	}
	if c.lifecycle.Err() != nil {
		return "", ErrClosed
	}

	if entry, ok := c.index.Lookup(key); ok {
		c.metrics.Hit()
		return entry.Path, nil
	}
	c.metrics.Miss()

	// 调用方已放弃时不再发起新的下载。
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ch := c.flights.DoChan(key, func() (interface{}, error) {
		return c.transfer(key, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// FetchMany 以有限并发获取一批 key，结果顺序与输入一致。
func (c *Coordinator) FetchMany(ctx context.Context, keys []string, opts Options) []Result {
	results := make([]Result, len(keys))
	var g errgroup.Group
	g.SetLimit(c.batchConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			path, err := c.Fetch(ctx, key, opts)
			results[i] = Result{Key: key, Path: path, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// LookupOnly 只查询索引，不触发下载，也不等待进行中的下载。
func (c *Coordinator) LookupOnly(key string) (string, bool) {
	entry, ok := c.index.Lookup(key)
	if !ok {
		c.metrics.Miss()
		return "", false
	}
	c.metrics.Hit()
	return entry.Path, true
}

// Evict 主动失效 key：先移出索引，再删除正文文件。
func (c *Coordinator) Evict(key string) (bool, error) {
	entry, ok, err := c.index.Remove(key)
	if !ok {
		return false, err
	}
	c.metrics.Evicted(metrics.ReasonManual, 1)
	if rmErr := c.store.Remove(entry.Path); rmErr != nil {
		err = errors.Join(err, fmt.Errorf("remove artifact: %w", rmErr))
	}
	c.logger.WithFields(logging.EntryFields("evict", entry.Key, entry.Path, entry.ExpiresAt)).
		Info("cache entry evicted")
	return true, err
}

// InFlight 返回正在下载的 key，按字典序排列。
func (c *Coordinator) InFlight() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.active))
	for key := range c.active {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Entries 返回当前索引快照。
func (c *Coordinator) Entries() []cache.Entry {
	return c.index.Snapshot()
}

// Close 取消所有进行中的下载并等待它们退出，之后的 Fetch 返回 ErrClosed。
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.transfers.Wait()
	return nil
}

// transfer 由 singleflight 的首个调用方触发，在独立 goroutine 中执行。
func (c *Coordinator) transfer(key string, opts Options) (string, error) {
	if !c.begin(key) {
		return "", ErrClosed
	}
	defer c.finish(key)

	// 上一轮下载可能刚好在本轮注册前完成。
	if entry, ok := c.index.Lookup(key); ok {
		return entry.Path, nil
	}

	keep := opts.Keep
	if keep <= 0 {
		keep = c.defaultKeep
	}
	log := c.logger.WithFields(logging.FetchFields("fetch", key, opts.Referer))
	started := c.now()

	payload, err := c.downloader.Download(c.lifecycle, download.Request{URL: key, Referer: opts.Referer},
		newLogObserver(log, c.progressInterval))
	if err != nil {
		c.metrics.TransferFailed(time.Since(started))
		log.WithError(err).Error("transfer failed")
		return "", err
	}
	defer payload.Close()

	path, size, err := c.store.Put(c.lifecycle, payload)
	if err != nil {
		c.metrics.TransferFailed(time.Since(started))
		log.WithError(err).Error("store artifact failed")
		return "", fmt.Errorf("store artifact: %w", err)
	}

	entry := cache.NewEntry(key, path, c.now(), keep)
	previous, replaced, err := c.index.Insert(entry)
	if err != nil {
		// 快照写失败时内存索引仍然有效，本次结果照常返回。
		log.WithError(err).Warn("entry cached but snapshot not persisted")
	}
	if replaced && previous.Path != path {
		if rmErr := c.store.Remove(previous.Path); rmErr != nil {
			log.WithError(rmErr).WithField("path", previous.Path).Warn("replaced artifact removal failed")
		}
	}

	c.metrics.TransferSucceeded(size, time.Since(started))
	log.WithFields(logrus.Fields{
		"path":       path,
		"bytes":      size,
		"expires_at": entry.ExpiresAt.Format(time.RFC3339),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("artifact cached")
	return path, nil
}

// begin 登记进行中的 key；Coordinator 已关闭时返回 false。
func (c *Coordinator) begin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.transfers.Add(1)
	c.active[key] = struct{}{}
	c.metrics.InflightInc()
	return true
}

func (c *Coordinator) finish(key string) {
	c.mu.Lock()
	delete(c.active, key)
	c.mu.Unlock()
	c.metrics.InflightDec()
	c.transfers.Done()
}
