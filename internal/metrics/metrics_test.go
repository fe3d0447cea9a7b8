package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounters(t *testing.T) {
	r := New()
	r.Hit()
	r.Hit()
	r.Miss()
	r.TransferSucceeded(128, 10*time.Millisecond)
	r.TransferFailed(time.Millisecond)
	r.Evicted(ReasonExpired, 3)
	r.Evicted(ReasonMissing, 0)
	r.SetEntries(7)

	if got := testutil.ToFloat64(r.lookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(r.lookups.WithLabelValues("miss")); got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(r.transferBytes); got != 128 {
		t.Fatalf("expected 128 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(r.evictions.WithLabelValues(ReasonExpired)); got != 3 {
		t.Fatalf("expected 3 expired evictions, got %v", got)
	}
	if got := testutil.ToFloat64(r.entries); got != 7 {
		t.Fatalf("expected entries gauge 7, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Hit()
	r.Miss()
	r.TransferSucceeded(1, time.Second)
	r.TransferFailed(time.Second)
	r.Evicted(ReasonManual, 1)
	r.SetEntries(1)
	r.InflightInc()
	r.InflightDec()
	if r.Registry() != nil {
		t.Fatalf("nil recorder should expose nil registry")
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	r := New()
	r.Hit()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "anycache_lookups_total") {
		t.Fatalf("metrics output missing anycache_lookups_total")
	}
}
