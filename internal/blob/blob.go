// Package blob implements the content-addressed blob store (spec §4.8):
// store(bytes) -> sha256, load(sha256) -> bytes | None. Analysis.details
// and RootAnalysis.details hold sha256 handles; transport layers
// serialize handles, not bodies, unless explicitly loaded.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Store is the pluggable contract for the blob store.
type Store interface {
	// Put writes data and returns its lowercase hex sha256 handle. Storing
	// the same bytes twice returns the same handle and is a no-op the
	// second time (content addressing makes Put naturally idempotent).
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the bytes for handle, or ok=false if unknown.
	Get(ctx context.Context, handle string) (data []byte, ok bool, err error)
	// Delete removes handle, if present. Safe to call on an unknown handle.
	Delete(ctx context.Context, handle string) error
}

// Handle computes the sha256 handle for data without storing it.
func Handle(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
