package middleware

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// rateLimitShards is the fan-out of the bucket map, striping lock
// contention across client identities the way the teacher's
// internal/filter.CuckooFilter stripes its bucket array by fingerprint hash.
const rateLimitShards = 32

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

type bucketShard struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

// rateLimiter is a token-bucket limiter keyed by client identity, sharded
// by xxhash(identity) to keep per-request locking cheap under concurrency.
type rateLimiter struct {
	shards [rateLimitShards]*bucketShard
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{}
	for i := range rl.shards {
		rl.shards[i] = &bucketShard{buckets: make(map[string]*tokenBucket)}
	}
	return rl
}

func (rl *rateLimiter) shardFor(identity string) *bucketShard {
	h := xxhash.Sum64String(identity)
	return rl.shards[h%rateLimitShards]
}

// allow applies the refill-then-decrement rule (spec.md §4.8) and reports
// whether the request may proceed.
func (rl *rateLimiter) allow(identity string, perSec, burst float64, now time.Time) bool {
	shard := rl.shardFor(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	b, ok := shard.buckets[identity]
	if !ok {
		b = &tokenBucket{tokens: burst, lastRefill: now}
		shard.buckets[identity] = b
	}

	elapsedMS := now.Sub(b.lastRefill).Milliseconds()
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	refilled := b.tokens + perSec*float64(elapsedMS)/1000
	if refilled > burst {
		refilled = burst
	}
	b.lastRefill = now

	if refilled >= 1 {
		b.tokens = refilled - 1
		return true
	}
	b.tokens = refilled
	return false
}
