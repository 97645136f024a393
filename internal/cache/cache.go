// Package cache implements the analysis result cache (spec §4.6): entries
// are keyed by the deterministic 6-tuple projection from internal/cachekey
// and carry a (root_before, root_after) pair so a hit can be replayed as a
// diff-merge against the caller's current root. The cache is advisory —
// losing an entry only costs a recompute, never correctness.
package cache

import "time"

// Pair is the cached (root_before, root_after) snapshot for one AMT run
// against one observable. RootBefore/RootAfter are JSON blobs (sha256
// handles resolved) rather than live model.RootAnalysis, so the cache
// never holds a reference the caller could mutate.
type Pair struct {
	RootBefore []byte
	RootAfter  []byte
	CreatedAt  time.Time
}

// Cache is the pluggable contract for the result cache.
type Cache interface {
	// Get returns the cached pair for key, or ok=false on miss. An entry
	// found past its TTL is a miss and is lazily removed.
	Get(key string) (pair Pair, ok bool)
	// Put stores pair under key with the given ttl. Best-effort: a Cache
	// implementation may silently drop writes under memory/storage
	// pressure without that being an error.
	Put(key string, pair Pair, ttl time.Duration) error
	// Invalidate drops a single key.
	Invalidate(key string)
	// Size returns the number of live (non-expired) entries.
	Size() int
}
