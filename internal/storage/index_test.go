package storage

import (
	"testing"
	"time"
)

func TestIndexPutGet(t *testing.T) {
	idx := NewIndex(100)
	idx.Put("a", "1", 0)

	v, ok := idx.Get("a")
	if !ok || v != "1" {
		t.Fatalf("expected (1, true), got (%s, %v)", v, ok)
	}
	if _, ok := idx.Get("missing"); ok {
		t.Fatal("expected missing key to return false")
	}
}

func TestIndexDeleteIdempotent(t *testing.T) {
	idx := NewIndex(100)
	idx.Put("a", "1", 0)
	idx.Delete("a")
	idx.Delete("a")
	if _, ok := idx.Get("a"); ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestIndexTTLExpiry(t *testing.T) {
	idx := NewIndex(100)
	expiresAt := time.Now().Add(10 * time.Millisecond).UnixMilli()
	idx.Put("temp", "v", expiresAt)

	if _, ok := idx.Get("temp"); !ok {
		t.Fatal("expected key to be present before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := idx.Get("temp"); ok {
		t.Fatal("expected key to be expired")
	}
}

func TestIndexMGet(t *testing.T) {
	idx := NewIndex(100)
	idx.Put("a", "1", 0)
	idx.Put("b", "2", 0)

	got := idx.MGet([]string{"a", "b", "c"})
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("unexpected mget result: %+v", got)
	}
	if _, ok := got["c"]; ok {
		t.Fatal("expected missing key c to be absent, not null-valued")
	}
}

func TestIndexListKeysPrefixAndLimit(t *testing.T) {
	idx := NewIndex(100)
	idx.Put("user:1", "a", 0)
	idx.Put("user:2", "b", 0)
	idx.Put("order:1", "c", 0)

	keys := idx.ListKeys("user:", 10)
	if len(keys) != 2 {
		t.Fatalf("expected 2 matching keys, got %v", keys)
	}

	if keys := idx.ListKeys("", 0); len(keys) != 0 {
		t.Fatalf("expected limit=0 to yield empty list, got %v", keys)
	}

	if keys := idx.ListKeys("", 1); len(keys) != 1 {
		t.Fatalf("expected limit=1 to yield exactly one key, got %v", keys)
	}
}

func TestIndexSweepExpired(t *testing.T) {
	idx := NewIndex(100)
	idx.Put("soon", "v", time.Now().Add(5*time.Millisecond).UnixMilli())
	idx.Put("forever", "v", 0)

	time.Sleep(15 * time.Millisecond)
	removed := idx.SweepExpired()
	if removed != 1 {
		t.Fatalf("expected 1 expired entry removed, got %d", removed)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", idx.Len())
	}
}

func TestIndexClear(t *testing.T) {
	idx := NewIndex(100)
	idx.Put("a", "1", 0)
	idx.Clear()
	if idx.Len() != 0 {
		t.Fatal("expected empty index after Clear")
	}
}

func TestIndexSnapshotExcludesExpired(t *testing.T) {
	idx := NewIndex(100)
	idx.Put("live", "v", 0)
	idx.Put("dead", "v", time.Now().Add(-time.Minute).UnixMilli())

	snap := idx.Snapshot()
	if _, ok := snap["dead"]; ok {
		t.Fatal("expected expired entry excluded from snapshot")
	}
	if _, ok := snap["live"]; !ok {
		t.Fatal("expected live entry present in snapshot")
	}
}
