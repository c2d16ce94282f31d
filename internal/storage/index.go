// Package storage holds the concurrent in-memory index (C4) that serves
// reads directly and is written only through the coordinator (C5); reads
// also remove entries they find expired.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullsync/toska/internal/filter"
	"github.com/nullsync/toska/internal/logging"
)

// item is a live entry: (value, optional expiry deadline in epoch ms).
type item struct {
	value     string
	expiresAt int64 // 0 means immortal
}

func (it item) expired(nowMS int64) bool {
	return it.expiresAt > 0 && it.expiresAt <= nowMS
}

// Index is a concurrent key→value map with TTL expiry and an optional
// Cuckoo-filter fast path for negative lookups, adapted from the
// teacher's BasicStore item map and Cuckoo-filter-guarded Get.
type Index struct {
	mu      sync.RWMutex
	entries map[string]item
	cf      *filter.CuckooFilter

	bytesUsed  int64 // atomic, approximate live payload bytes
	unreliable int32 // atomic bool: set once cf.Add fails, disables the Get fast path
}

// NewIndex creates an empty index, sizing its Cuckoo filter for
// expectedItems keys at a 0.1% false positive rate.
func NewIndex(expectedItems uint64) *Index {
	cf, _ := filter.New(expectedItems, 0.001)
	return &Index{
		entries: make(map[string]item),
		cf:      cf,
	}
}

// Get returns the value for key and whether it was found and unexpired.
// A Cuckoo-filter miss short-circuits the map lookup entirely, unless the
// filter has been marked unreliable by a prior Add failure.
func (idx *Index) Get(key string) (string, bool) {
	if idx.cf != nil && atomic.LoadInt32(&idx.unreliable) == 0 && !idx.cf.Contains([]byte(key)) {
		return "", false
	}

	idx.mu.RLock()
	it, ok := idx.entries[key]
	idx.mu.RUnlock()
	if !ok {
		return "", false
	}

	if it.expired(time.Now().UnixMilli()) {
		idx.deleteExpired(key)
		return "", false
	}

	return it.value, true
}

// MGet returns a snapshot of values for keys; missing/expired keys are
// simply absent from the result map, letting the caller render null.
func (idx *Index) MGet(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	now := time.Now().UnixMilli()

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, key := range keys {
		it, ok := idx.entries[key]
		if !ok || it.expired(now) {
			continue
		}
		out[key] = it.value
	}
	return out
}

// ListKeys returns up to limit keys matching prefix (empty prefix matches
// all). limit == 0 yields the empty list. Expired entries encountered
// during iteration are removed.
func (idx *Index) ListKeys(prefix string, limit int) []string {
	if limit == 0 {
		return []string{}
	}

	now := time.Now().UnixMilli()
	var expiredKeys []string
	result := make([]string, 0, limit)

	idx.mu.RLock()
	keys := make([]string, 0, len(idx.entries))
	for k := range idx.entries {
		keys = append(keys, k)
	}
	idx.mu.RUnlock()
	sort.Strings(keys)

	idx.mu.RLock()
	for _, k := range keys {
		it, ok := idx.entries[k]
		if !ok {
			continue
		}
		if it.expired(now) {
			expiredKeys = append(expiredKeys, k)
			continue
		}
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		result = append(result, k)
		if len(result) >= limit {
			break
		}
	}
	idx.mu.RUnlock()

	for _, k := range expiredKeys {
		idx.deleteExpired(k)
	}

	return result
}

// Put installs (or replaces) key with value and expiresAt (0 = immortal).
// Only called by the coordinator's single-writer goroutine.
func (idx *Index) Put(key, value string, expiresAt int64) {
	idx.mu.Lock()
	old, existed := idx.entries[key]
	idx.entries[key] = item{value: value, expiresAt: expiresAt}
	idx.mu.Unlock()

	if existed {
		atomic.AddInt64(&idx.bytesUsed, int64(len(value))-int64(len(old.value)))
	} else {
		atomic.AddInt64(&idx.bytesUsed, int64(len(key))+int64(len(value)))
	}

	if idx.cf != nil {
		if err := idx.cf.Add([]byte(key)); err != nil {
			atomic.StoreInt32(&idx.unreliable, 1)
			logging.Warn(context.Background(), logging.ComponentFilter, "filter-add",
				"cuckoo filter add failed, disabling negative-lookup fast path",
				map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
}

// Delete removes key. Safe to call on an already-absent key.
func (idx *Index) Delete(key string) {
	idx.mu.Lock()
	old, existed := idx.entries[key]
	if existed {
		delete(idx.entries, key)
	}
	idx.mu.Unlock()

	if existed {
		atomic.AddInt64(&idx.bytesUsed, -(int64(len(key)) + int64(len(old.value))))
		if idx.cf != nil {
			idx.cf.Delete([]byte(key))
		}
	}
}

// Clear removes every entry, used before loading a replacement snapshot.
func (idx *Index) Clear() {
	idx.mu.Lock()
	idx.entries = make(map[string]item)
	idx.mu.Unlock()
	atomic.StoreInt64(&idx.bytesUsed, 0)
	if idx.cf != nil {
		idx.cf.Clear()
	}
}

// SweepExpired removes every entry whose expiry has passed, for the
// periodic TTL sweeper. Returns the number of entries removed.
func (idx *Index) SweepExpired() int {
	now := time.Now().UnixMilli()

	idx.mu.RLock()
	var expired []string
	for k, it := range idx.entries {
		if it.expired(now) {
			expired = append(expired, k)
		}
	}
	idx.mu.RUnlock()

	for _, k := range expired {
		idx.deleteExpired(k)
	}
	return len(expired)
}

func (idx *Index) deleteExpired(key string) {
	idx.mu.Lock()
	old, existed := idx.entries[key]
	if !existed || !old.expired(time.Now().UnixMilli()) {
		// Replaced by a fresh Put since the caller saw it expired.
		idx.mu.Unlock()
		return
	}
	delete(idx.entries, key)
	idx.mu.Unlock()

	atomic.AddInt64(&idx.bytesUsed, -(int64(len(key)) + int64(len(old.value))))
	if idx.cf != nil {
		idx.cf.Delete([]byte(key))
	}
}

// Len returns the current live entry count (not adjusted for lazily
// un-swept expired entries).
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// BytesUsed returns the approximate live payload size in bytes.
func (idx *Index) BytesUsed() int64 {
	return atomic.LoadInt64(&idx.bytesUsed)
}

// FilterStats reports the Cuckoo filter's load, or ok=false if this index
// was built without one.
func (idx *Index) FilterStats() (filter.FilterStats, bool) {
	if idx.cf == nil {
		return filter.FilterStats{}, false
	}
	return idx.cf.Stats(), true
}

// Entry is a point-in-time copy of one live index entry.
type Entry struct {
	Value     string
	ExpiresAt int64
}

// Snapshot returns a point-in-time copy of all non-expired entries,
// suitable for writing to a snapshot file.
func (idx *Index) Snapshot() map[string]Entry {
	now := time.Now().UnixMilli()
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make(map[string]Entry, len(idx.entries))
	for k, it := range idx.entries {
		if it.expired(now) {
			continue
		}
		out[k] = Entry{Value: it.value, ExpiresAt: it.expiresAt}
	}
	return out
}
