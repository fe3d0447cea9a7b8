package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
)

// Index 维护 key → Entry 的映射，并在每次变更后同步重写快照文件。
// 快照写失败只记录错误日志，内存中的索引在进程生命周期内仍然是权威数据。
type Index struct {
	path    string
	logger  *logrus.Entry
	metrics *metrics.Recorder

	mu      sync.RWMutex
	entries map[string]Entry
}

// LoadIndex 从 path 读取快照构建索引。文件不存在或为空时得到空索引；
// 文件损坏时返回包装了 ErrCorruptIndex 的错误。
func LoadIndex(path string, logger *logrus.Logger, recorder *metrics.Recorder) (*Index, error) {
	if path == "" {
		return nil, errors.New("index path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve index path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	loaded, err := readSnapshot(abs)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		path:    abs,
		logger:  logging.Component(logger, "cache"),
		metrics: recorder,
		entries: make(map[string]Entry, len(loaded)),
	}
	for _, entry := range loaded {
		idx.entries[entry.Key] = entry
	}
	recorder.SetEntries(len(idx.entries))
	return idx, nil
}

// Path 返回快照文件的绝对路径。
func (i *Index) Path() string {
	return i.path
}

// Lookup 查找 key 对应的条目。条目存在但正文文件已丢失时视为未命中，
// 同时从索引中移除该条目并重写快照。Lookup 不检查过期时间，过期清理由 Sweeper 负责。
func (i *Index) Lookup(key string) (Entry, bool) {
	i.mu.RLock()
	entry, ok := i.entries[key]
	i.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if regularFileExists(entry.Path) {
		return entry, true
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	current, still := i.entries[key]
	if still && current.Path == entry.Path {
		delete(i.entries, key)
		i.logger.WithFields(logging.EntryFields("index_purge_missing", key, entry.Path, entry.ExpiresAt)).
			Warn("cached artifact missing, entry dropped")
		i.metrics.Evicted(metrics.ReasonMissing, 1)
		_ = i.persistLocked()
	}
	return Entry{}, false
}

// Insert 写入（或替换）条目并持久化。若替换了旧条目，返回旧条目以便调用方回收其文件。
func (i *Index) Insert(entry Entry) (Entry, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	previous, replaced := i.entries[entry.Key]
	i.entries[entry.Key] = entry
	return previous, replaced, i.persistLocked()
}

// Remove 删除 key 并持久化，返回被删除的条目。
func (i *Index) Remove(key string) (Entry, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	delete(i.entries, key)
	return entry, true, i.persistLocked()
}

// Expired 返回在 now 时刻已严格过期的条目。
func (i *Index) Expired(now time.Time) []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var expired []Entry
	for _, entry := range i.entries {
		if entry.Expired(now) {
			expired = append(expired, entry)
		}
	}
	sortEntries(expired)
	return expired
}

// RemoveEntries 批量删除条目并只持久化一次。仅当索引中的条目仍指向同一文件时才删除，
// 避免误删在此期间被替换的新条目。返回实际删除的数量。
func (i *Index) RemoveEntries(entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	removed := 0
	for _, entry := range entries {
		current, ok := i.entries[entry.Key]
		if !ok || current.Path != entry.Path {
			continue
		}
		delete(i.entries, entry.Key)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, i.persistLocked()
}

// Prune 删除 keep 返回 false 的条目（不持久化），返回删除数量。启动恢复时使用。
func (i *Index) Prune(keep func(Entry) bool) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	dropped := 0
	for key, entry := range i.entries {
		if keep(entry) {
			continue
		}
		delete(i.entries, key)
		dropped++
		i.logger.WithFields(logging.EntryFields("index_prune", key, entry.Path, entry.ExpiresAt)).
			Debug("stale entry dropped")
	}
	i.metrics.SetEntries(len(i.entries))
	return dropped
}

// Snapshot 返回按创建时间排序的条目副本。
func (i *Index) Snapshot() []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Entry, 0, len(i.entries))
	for _, entry := range i.entries {
		out = append(out, entry)
	}
	sortEntries(out)
	return out
}

// Paths 返回所有条目引用的正文路径集合，用于孤儿文件回收。
func (i *Index) Paths() map[string]struct{} {
	i.mu.RLock()
	defer i.mu.RUnlock()
	paths := make(map[string]struct{}, len(i.entries))
	for _, entry := range i.entries {
		paths[entry.Path] = struct{}{}
	}
	return paths
}

// Len 返回当前条目数。
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// Save 立即重写快照。
func (i *Index) Save() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.persistLocked()
}

// persistLocked 在持有写锁时整体重写快照，失败时输出 error 级别日志。
func (i *Index) persistLocked() error {
	i.metrics.SetEntries(len(i.entries))
	entries := make([]Entry, 0, len(i.entries))
	for _, entry := range i.entries {
		entries = append(entries, entry)
	}
	sortEntries(entries)

	if err := writeSnapshot(i.path, entries); err != nil {
		i.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "index_persist",
			"path":    i.path,
			"entries": len(entries),
		}).Error("index snapshot write failed")
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}
