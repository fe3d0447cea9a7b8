package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/any-cache/internal/logging"
)

func TestIndexLoadMissingOrEmptySnapshot(t *testing.T) {
	dir := t.TempDir()

	idx, err := LoadIndex(filepath.Join(dir, "absent.json"), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("missing snapshot should load as empty index: %v", err)
	}
	if idx.Len() != 0 {
		t.Fatalf("expected empty index, got %d", idx.Len())
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("  \n"), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, err := LoadIndex(empty, logging.Discard(), nil); err != nil {
		t.Fatalf("blank snapshot should load as empty index: %v", err)
	}
}

func TestIndexLoadCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"garbage.json": "{not json",
		"object.json":  `{"url":"x"}`,
		"null.json":    "null",
		"string.json":  `"[]"`,
		"no-path.json": `[{"url":"https://example.test/a","time":"2024-01-01T00:00:00Z","to":"2024-01-01T01:00:00Z"}]`,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write snapshot: %v", err)
		}
		if _, err := LoadIndex(path, logging.Discard(), nil); !errors.Is(err, ErrCorruptIndex) {
			t.Fatalf("%s: expected ErrCorruptIndex, got %v", name, err)
		}
	}
}

func TestIndexInsertPersistsSnapshot(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	path := writeArtifact(t, store, "body")
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if _, replaced, err := idx.Insert(NewEntry("https://example.test/a.bin", path, created, 2*time.Second)); err != nil || replaced {
		t.Fatalf("insert: replaced=%v err=%v", replaced, err)
	}

	raw, err := os.ReadFile(idx.Path())
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		t.Fatalf("snapshot should be a JSON array: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec["url"] != "https://example.test/a.bin" || rec["path"] != path {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["time"] != "2024-05-01T12:00:00Z" || rec["to"] != "2024-05-01T12:00:02Z" {
		t.Fatalf("unexpected timestamps: %v", rec)
	}

	reloaded, err := LoadIndex(idx.Path(), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	entry, ok := reloaded.Lookup("https://example.test/a.bin")
	if !ok || entry.Path != path || entry.Keep() != 2*time.Second {
		t.Fatalf("reloaded entry mismatch: %+v ok=%v", entry, ok)
	}
}

func TestIndexLookupPurgesMissingArtifact(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	path := writeArtifact(t, store, "body")
	if _, _, err := idx.Insert(NewEntry("k", path, time.Now(), time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}

	if _, ok := idx.Lookup("k"); ok {
		t.Fatalf("lookup should miss when artifact is gone")
	}
	if idx.Len() != 0 {
		t.Fatalf("stale entry should be removed from memory")
	}
	reloaded, err := LoadIndex(idx.Path(), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != 0 {
		t.Fatalf("stale entry should be removed from the snapshot")
	}
}

func TestIndexLookupIgnoresExpiry(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	path := writeArtifact(t, store, "body")
	if _, _, err := idx.Insert(NewEntry("k", path, time.Now().Add(-2*time.Hour), time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, ok := idx.Lookup("k"); !ok {
		t.Fatalf("expired but present entries stay valid until swept")
	}
}

func TestIndexInsertReturnsReplacedEntry(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	oldPath := writeArtifact(t, store, "v1")
	newPath := writeArtifact(t, store, "v2")
	now := time.Now()

	if _, _, err := idx.Insert(NewEntry("k", oldPath, now, time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	previous, replaced, err := idx.Insert(NewEntry("k", newPath, now, time.Hour))
	if err != nil || !replaced || previous.Path != oldPath {
		t.Fatalf("expected replaced entry with %s, got %+v replaced=%v err=%v", oldPath, previous, replaced, err)
	}
	if idx.Len() != 1 {
		t.Fatalf("one key maps to one entry, got %d", idx.Len())
	}
}

func TestIndexRemoveEntriesSkipsReplaced(t *testing.T) {
	store := newTestStore(t)
	idx := newTestIndex(t)
	now := time.Now()
	stale := NewEntry("k", writeArtifact(t, store, "v1"), now, time.Hour)
	fresh := NewEntry("k", writeArtifact(t, store, "v2"), now, time.Hour)
	if _, _, err := idx.Insert(fresh); err != nil {
		t.Fatalf("insert: %v", err)
	}

	removed, err := idx.RemoveEntries([]Entry{stale})
	if err != nil {
		t.Fatalf("remove entries: %v", err)
	}
	if removed != 0 || idx.Len() != 1 {
		t.Fatalf("entry replaced since selection must survive, removed=%d len=%d", removed, idx.Len())
	}
}

func TestIndexPersistFailureKeepsMemoryState(t *testing.T) {
	dir := t.TempDir()
	snapshotDir := filepath.Join(dir, "state")
	idx, err := LoadIndex(filepath.Join(snapshotDir, "record.json"), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.Chmod(snapshotDir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(snapshotDir, 0o755) })
	if probe, err := os.CreateTemp(snapshotDir, "probe-*"); err == nil {
		probe.Close()
		os.Remove(probe.Name())
		t.Skip("directory permissions not enforced (running as root?)")
	}

	if _, _, err := idx.Insert(NewEntry("k", "/nowhere.cache", time.Now(), time.Hour)); err == nil {
		t.Fatalf("expected persist error on read-only directory")
	}
	if idx.Len() != 1 {
		t.Fatalf("in-memory index must stay authoritative after a failed write")
	}
}

func TestIndexSnapshotOrdering(t *testing.T) {
	idx := newTestIndex(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, e := range []Entry{
		NewEntry("c", "/tmp/c.cache", base.Add(time.Minute), time.Hour),
		NewEntry("b", "/tmp/b.cache", base, time.Hour),
		NewEntry("a", "/tmp/a.cache", base, time.Hour),
	} {
		if _, _, err := idx.Insert(e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	snap := idx.Snapshot()
	got := []string{snap[0].Key, snap[1].Key, snap[2].Key}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected ordering %v", got)
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := LoadIndex(filepath.Join(t.TempDir(), "cache-record.json"), logging.Discard(), nil)
	if err != nil {
		t.Fatalf("failed to load index: %v", err)
	}
	return idx
}
