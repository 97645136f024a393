// Package queue implements the per-AMT work queue (spec §4.4): FIFO with
// lease + visibility timeout. Leased requests are invisible until lease
// expiry, at which point they return to the head of the queue and their
// ownership is cleared. The queue is fair within an AMT (FIFO modulo
// requeues) but makes no cross-AMT fairness guarantee.
package queue

import (
	"context"
	"time"

	"github.com/ace-core/ace/internal/model"
)

// Queue is the pluggable contract for one AMT's work queue.
type Queue interface {
	// Put enqueues req at the tail.
	Put(ctx context.Context, req *model.AnalysisRequest) error
	// Get leases the head of the queue to owner for visibilityTimeout.
	// Returns (nil, nil) if the queue is empty.
	Get(ctx context.Context, owner string, visibilityTimeout time.Duration) (*model.AnalysisRequest, error)
	// Ack permanently removes a leased request.
	Ack(ctx context.Context, id string) error
	// Nack returns a leased request to the head immediately, clearing
	// ownership.
	Nack(ctx context.Context, id string) error
	// Renew extends a held lease. Fails if owner no longer holds it.
	Renew(ctx context.Context, id, owner string, visibilityTimeout time.Duration) error
	// Size returns the number of requests currently visible (queued, not
	// leased).
	Size(ctx context.Context) (int, error)
}
