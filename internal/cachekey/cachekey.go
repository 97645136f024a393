// Package cachekey computes the deterministic cache-key projection from
// spec §3 invariant (5): (observable.type, observable.value, observable.time?,
// AMT.name, AMT.version, extended_cache_keys…), hashed to a short string.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ace-core/ace/internal/model"
)

// Project computes the cache key for one (observable, AMT) pair. amt must
// have a non-nil CacheTTL (callers are expected to check this before
// calling Project — an AMT with no cache policy has no cache key).
func Project(o *model.Observable, amt *model.AnalysisModuleType) string {
	parts := make([]string, 0, 5+len(amt.ExtendedCacheKeys))
	parts = append(parts, o.Type, o.Value)
	if o.Time != nil {
		parts = append(parts, o.Time.UTC().Format(time.RFC3339Nano))
	} else {
		parts = append(parts, "")
	}
	parts = append(parts, amt.Name, amt.Version)
	parts = append(parts, amt.ExtendedCacheKeys...)

	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ProjectWithExtra computes the cache key when the request supplies
// additional extended-cache-key values at request time (spec §3:
// "extended_cache_keys (ordered list of additional key components the
// module supplies at request time)").
func ProjectWithExtra(o *model.Observable, amt *model.AnalysisModuleType, extra []string) string {
	combined := amt.Clone()
	combined.ExtendedCacheKeys = append(append([]string(nil), combined.ExtendedCacheKeys...), extra...)
	return Project(o, combined)
}

// Readable renders a debug-friendly (non-hashed) projection, used only in
// logs — never as a lookup key since it isn't collision-resistant against
// values containing the separator.
func Readable(o *model.Observable, amt *model.AnalysisModuleType) string {
	var b strings.Builder
	b.WriteString(o.Type)
	b.WriteByte('/')
	b.WriteString(o.Value)
	b.WriteByte('@')
	b.WriteString(amt.Name)
	b.WriteByte(':')
	b.WriteString(amt.Version)
	return b.String()
}
