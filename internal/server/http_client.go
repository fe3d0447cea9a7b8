package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/any-cache/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回下载引擎共享的 http.Client。
// 分段下载会对同一主机并发建连，因此每主机空闲连接数与 Segments 取较大值。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 10 * time.Minute
	transport := defaultTransport.Clone()
	if cfg != nil {
		if d := cfg.Download.UpstreamTimeout.DurationValue(); d > 0 {
			timeout = d
		}
		if perHost := cfg.Download.Segments * cfg.Global.BatchConcurrency; perHost > transport.MaxIdleConnsPerHost {
			transport.MaxIdleConnsPerHost = perHost
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
