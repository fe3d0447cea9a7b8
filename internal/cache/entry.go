package cache

import "time"

// DefaultKeep 是未指定保留时长时条目的存活时间。
const DefaultKeep = time.Hour

// Entry 描述一个已完成下载的缓存条目。ExpiresAt 始终由 CreatedAt + keep 推导，
// 请通过 NewEntry 构造而不要单独设置。
type Entry struct {
	Key       string    `json:"url"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"time"`
	ExpiresAt time.Time `json:"to"`
}

// NewEntry 根据完成时间与保留时长构造条目，keep <= 0 时使用 DefaultKeep。
func NewEntry(key, path string, createdAt time.Time, keep time.Duration) Entry {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return Entry{
		Key:       key,
		Path:      path,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(keep),
	}
}

// Expired 报告条目在 now 时刻是否已严格过期。
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// Keep 返回条目的保留时长。
func (e Entry) Keep() time.Duration {
	return e.ExpiresAt.Sub(e.CreatedAt)
}
