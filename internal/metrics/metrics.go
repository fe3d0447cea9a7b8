// Package metrics exposes Prometheus collectors for the download cache.
// Each Recorder owns a private registry so several caches (and tests) can
// live in one process without duplicate-registration panics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anycache"

// Eviction reasons.
const (
	ReasonExpired = "expired"
	ReasonMissing = "missing"
	ReasonManual  = "manual"
)

// Recorder 汇总缓存命中、传输与淘汰指标。所有方法允许 nil 接收者，
// 未注入 Recorder 的组件可以直接调用而无需判空。
type Recorder struct {
	registry *prometheus.Registry

	lookups          *prometheus.CounterVec
	transfers        *prometheus.CounterVec
	transferBytes    prometheus.Counter
	transferDuration prometheus.Histogram
	evictions        *prometheus.CounterVec
	entries          prometheus.Gauge
	inflight         prometheus.Gauge
}

// New 创建 Recorder 并注册全部指标以及 Go runtime/process 采集器。
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Cache lookups partitioned by hit or miss.",
		}, []string{"result"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Download transfers partitioned by outcome.",
		}, []string{"result"}),
		transferBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes persisted into the artifact store.",
		}),
		transferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Wall time of download transfers.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Entries removed from the index partitioned by reason.",
		}, []string{"reason"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Entries currently held by the cache index.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight",
			Help:      "Keys with an active transfer.",
		}),
	}

	r.registry.MustRegister(
		r.lookups,
		r.transfers,
		r.transferBytes,
		r.transferDuration,
		r.evictions,
		r.entries,
		r.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry 返回私有注册表，供测试或自定义导出使用。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler 返回 /-/metrics 使用的 http.Handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Hit() {
	if r == nil {
		return
	}
	r.lookups.WithLabelValues("hit").Inc()
}

func (r *Recorder) Miss() {
	if r == nil {
		return
	}
	r.lookups.WithLabelValues("miss").Inc()
}

// TransferSucceeded 记录一次成功传输的字节数与耗时。
func (r *Recorder) TransferSucceeded(size int64, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.transfers.WithLabelValues("success").Inc()
	r.transferBytes.Add(float64(size))
	r.transferDuration.Observe(elapsed.Seconds())
}

// TransferFailed 记录一次失败传输。
func (r *Recorder) TransferFailed(elapsed time.Duration) {
	if r == nil {
		return
	}
	r.transfers.WithLabelValues("failure").Inc()
	r.transferDuration.Observe(elapsed.Seconds())
}

// Evicted 按原因累加淘汰数量。
func (r *Recorder) Evicted(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.evictions.WithLabelValues(reason).Add(float64(n))
}

// SetEntries 同步索引条目数。
func (r *Recorder) SetEntries(n int) {
	if r == nil {
		return
	}
	r.entries.Set(float64(n))
}

func (r *Recorder) InflightInc() {
	if r == nil {
		return
	}
	r.inflight.Inc()
}

func (r *Recorder) InflightDec() {
	if r == nil {
		return
	}
	r.inflight.Dec()
}
