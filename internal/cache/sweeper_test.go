package cache

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
)

func TestSweepRemovesOnlyStrictlyExpired(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	expired := NewEntry("expired", writeArtifact(t, store, "a"), base, time.Second)
	boundary := NewEntry("boundary", writeArtifact(t, store, "b"), base.Add(time.Second), time.Second)
	alive := NewEntry("alive", writeArtifact(t, store, "c"), base, time.Hour)
	for _, e := range []Entry{expired, boundary, alive} {
		if _, _, err := idx.Insert(e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	recorder := metrics.New()
	sweeper := NewSweeper(idx, store, time.Second, logging.Discard(), recorder)
	// boundary 在 now 时刻恰好到期，严格小于才会被清理。
	sweeper.now = func() time.Time { return base.Add(2 * time.Second) }

	if removed := sweeper.Sweep(); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, err := os.Stat(expired.Path); !os.IsNotExist(err) {
		t.Fatalf("expired artifact should be deleted, stat err=%v", err)
	}
	if _, ok := idx.Lookup("boundary"); !ok {
		t.Fatalf("entry expiring exactly now must survive")
	}
	if _, ok := idx.Lookup("alive"); !ok {
		t.Fatalf("unexpired entry must survive")
	}

	reloaded, err := LoadIndex(idx.Path(), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reloaded.Lookup("expired"); ok {
		t.Fatalf("snapshot should no longer contain the swept entry")
	}
	if !strings.Contains(scrape(t, recorder), `anycache_evictions_total{reason="expired"} 1`) {
		t.Fatalf("expired eviction should be counted")
	}
}

func TestSweepWithMissingFileStillRemovesEntry(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	entry := NewEntry("gone", writeArtifact(t, store, "x"), time.Now().Add(-time.Hour), time.Second)
	if _, _, err := idx.Insert(entry); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := os.Remove(entry.Path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	sweeper := NewSweeper(idx, store, time.Second, logging.Discard(), nil)
	if removed := sweeper.Sweep(); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if idx.Len() != 0 {
		t.Fatalf("index should be empty after sweep")
	}
}

func TestSweepNothingExpiredSkipsWrite(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	if _, _, err := idx.Insert(NewEntry("k", writeArtifact(t, store, "x"), time.Now(), time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	before, err := os.Stat(idx.Path())
	if err != nil {
		t.Fatalf("stat snapshot: %v", err)
	}
	if err := os.Chtimes(idx.Path(), before.ModTime().Add(-time.Hour), before.ModTime().Add(-time.Hour)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sweeper := NewSweeper(idx, store, time.Second, logging.Discard(), nil)
	if removed := sweeper.Sweep(); removed != 0 {
		t.Fatalf("expected no evictions, got %d", removed)
	}
	after, err := os.Stat(idx.Path())
	if err != nil {
		t.Fatalf("stat snapshot: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime().Add(-time.Hour)) {
		t.Fatalf("snapshot should not be rewritten when nothing expired")
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	entry := NewEntry("short", writeArtifact(t, store, "x"), time.Now(), 10*time.Millisecond)
	if _, _, err := idx.Insert(entry); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sweeper := NewSweeper(idx, store, 20*time.Millisecond, logging.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for idx.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if idx.Len() != 0 {
		t.Fatalf("background sweeper should evict the short-lived entry")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run should return nil on cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after cancellation")
	}
}

// scrape renders the recorder's registry in text exposition format.
func scrape(t *testing.T, recorder *metrics.Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}
