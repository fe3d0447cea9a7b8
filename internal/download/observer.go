package download

// Observer 接收单次下载的生命周期事件。分段下载时 Progress 会被多个 goroutine
// 并发调用，实现需自行保证并发安全。Completed 对每次 Download 恰好触发一次。
type Observer interface {
	Started(url string, total int64)
	Progress(url string, received, total int64)
	Completed(url string, err error)
}

// NopObserver 忽略所有事件。
type NopObserver struct{}

func (NopObserver) Started(string, int64) {}
func (NopObserver) Progress(string, int64, int64) {}
func (NopObserver) Completed(string, error) {}
