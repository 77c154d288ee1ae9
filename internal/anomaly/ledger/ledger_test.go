package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	anomaly "solarwatch/internal/anomaly/domain"
)

var testKey = anomaly.IssueKey{Plant: "plant-a", Scope: "INV-01", Kind: anomaly.KindLowPower}

func TestShouldNotifySuppressionWindow(t *testing.T) {
	l := New()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	if !l.ShouldNotify(testKey, "v1", now) {
		t.Fatal("first notification must pass")
	}
	l.Record(testKey, "v1", "msg", now)

	if l.ShouldNotify(testKey, "v1", now.Add(5*time.Minute)) {
		t.Fatal("identical repeat within window must be suppressed")
	}
	if !l.ShouldNotify(testKey, "v2", now.Add(5*time.Minute)) {
		t.Fatal("changed details within window must notify")
	}
	if !l.ShouldNotify(testKey, "v1", now.Add(16*time.Minute)) {
		t.Fatal("repeat after window elapsed must notify")
	}
}

func TestResolve(t *testing.T) {
	l := New()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	if _, ok := l.Resolve(testKey); ok {
		t.Fatal("resolving a never-alerted key must return nothing")
	}

	l.Record(testKey, "v1", "msg", now)
	entry, ok := l.Resolve(testKey)
	if !ok {
		t.Fatal("expected entry on resolve")
	}
	if entry.Details != "v1" || entry.Message != "msg" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, ok := l.Resolve(testKey); ok {
		t.Fatal("second resolve must find nothing")
	}
}

func TestSweep(t *testing.T) {
	l := New()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	oldKey := anomaly.IssueKey{Plant: "plant-a", Scope: "INV-02", Kind: anomaly.KindOutdated}

	l.Record(oldKey, "v1", "old", now.Add(-20*time.Minute))
	l.Record(testKey, "v1", "fresh", now)

	removed := l.Sweep(now)
	if removed != 1 {
		t.Fatalf("expected 1 entry swept, got %d", removed)
	}
	if _, ok := l.Get(oldKey); ok {
		t.Fatal("aged entry must be swept")
	}
	if _, ok := l.Get(testKey); !ok {
		t.Fatal("entry recorded in the same cycle must survive")
	}
}

func TestSweepExactRetentionBoundary(t *testing.T) {
	l := New()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	l.Record(testKey, "v1", "edge", now.Add(-DefaultRetention))

	if removed := l.Sweep(now); removed != 0 {
		t.Fatalf("entry aged exactly the retention window must survive, swept %d", removed)
	}
	if removed := l.Sweep(now.Add(time.Second)); removed != 1 {
		t.Fatalf("entry strictly older than the retention window must be swept, swept %d", removed)
	}
}

func TestEntriesDeterministicOrder(t *testing.T) {
	l := New()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	l.Record(anomaly.IssueKey{Plant: "plant-b", Scope: "INV-01", Kind: anomaly.KindOutdated}, "x", "m", now)
	l.Record(anomaly.IssueKey{Plant: "plant-a", Scope: "INV-01", Kind: anomaly.KindOutdated}, "x", "m", now)

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key.Plant != "plant-a" {
		t.Fatalf("expected sorted order, got %+v", entries)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("missing file must load empty, got %d entries", len(loaded))
	}

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	l := New()
	l.Record(testKey, "v1", "msg", now)
	if err := l.SaveTo(ctx, store); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := New()
	if err := reloaded.LoadFrom(ctx, store); err != nil {
		t.Fatalf("load: %v", err)
	}
	entry, ok := reloaded.Get(testKey)
	if !ok {
		t.Fatal("expected entry after reload")
	}
	if !entry.NotifiedAt.Equal(now) {
		t.Fatalf("timestamp mangled on round trip: %v", entry.NotifiedAt)
	}
	if entry.Details != "v1" || entry.Message != "msg" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestLoadFromKeepsStateOnError(t *testing.T) {
	l := New()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	l.Record(testKey, "v1", "msg", now)

	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "missing-dir-file"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	// Missing file loads empty: state is replaced, not kept.
	if err := l.LoadFrom(context.Background(), store); err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("expected replaced state, got %d entries", l.Len())
	}
}
