package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
)

// DefaultSweepInterval 是 Sweeper 默认的扫描周期。
const DefaultSweepInterval = time.Second

// Sweeper 周期性扫描索引，删除已过期条目的正文文件并把它们移出索引。
// 过期判定只在这里发生，Lookup 路径不承担清理开销。
type Sweeper struct {
	index    *Index
	store    Store
	interval time.Duration
	logger   *logrus.Entry
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewSweeper 构造 Sweeper，interval <= 0 时使用 DefaultSweepInterval。
func NewSweeper(index *Index, store Store, interval time.Duration, logger *logrus.Logger, recorder *metrics.Recorder) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		index:    index,
		store:    store,
		interval: interval,
		logger:   logging.Component(logger, "sweeper"),
		metrics:  recorder,
		now:      time.Now,
	}
}

// Run 按固定周期执行 Sweep，直到 ctx 被取消后返回 nil。
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"action":   "sweeper_start",
		"interval": s.interval.String(),
	}).Debug("eviction sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("action", "sweeper_stop").Debug("eviction sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep 执行一次扫描：先删除过期条目的文件，再批量移出索引并只持久化一次。
// 返回被移出索引的条目数。
func (s *Sweeper) Sweep() int {
	now := s.now()
	expired := s.index.Expired(now)
	if len(expired) == 0 {
		return 0
	}

	for _, entry := range expired {
		if err := s.store.Remove(entry.Path); err != nil {
			s.logger.WithError(err).
				WithFields(logging.EntryFields("sweep_remove_file", entry.Key, entry.Path, entry.ExpiresAt)).
				Warn("expired artifact removal failed")
		}
	}

	removed, err := s.index.RemoveEntries(expired)
	if err != nil {
		// persistLocked 已输出 error 日志，这里只补充批次信息。
		s.logger.WithError(err).WithField("action", "sweep").Warn("sweep persisted with error")
	}
	s.metrics.Evicted(metrics.ReasonExpired, removed)
	s.logger.WithFields(logrus.Fields{
		"action":  "sweep",
		"expired": removed,
		"remain":  s.index.Len(),
	}).Debug("expired entries evicted")
	return removed
}
