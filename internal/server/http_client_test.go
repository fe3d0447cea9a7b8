package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/any-cache/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Download: config.DownloadConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientDefaults(t *testing.T) {
	client := NewUpstreamClient(nil)
	if client.Timeout != 10*time.Minute {
		t.Fatalf("expected default timeout 10m, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok || transport == defaultTransport {
		t.Fatalf("client should use a cloned transport")
	}
}

func TestNewUpstreamClientScalesIdleConnections(t *testing.T) {
	cfg := &config.Config{
		Global:   config.GlobalConfig{BatchConcurrency: 32},
		Download: config.DownloadConfig{Segments: 8},
	}
	transport := NewUpstreamClient(cfg).Transport.(*http.Transport)
	if transport.MaxIdleConnsPerHost != 256 {
		t.Fatalf("expected 256 idle connections per host, got %d", transport.MaxIdleConnsPerHost)
	}
}
