package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ace-core/ace/internal/model"
)

type memEntry struct {
	req        *model.AnalysisRequest
	owner      string
	expiresUTC time.Time
}

// MemQueue is an in-memory FIFO queue, adapted from the teacher's
// pkg/storage/memory in-process store pattern: a doubly linked list for
// the visible (unleased) requests plus a side map for leased ones,
// protected by a single mutex. Good enough for the single-process CLI
// backend and for unit tests.
type MemQueue struct {
	mu      sync.Mutex
	visible *list.List // of *memEntry, FIFO order, not currently leased
	leased  map[string]*memEntry
}

// NewMemQueue returns an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		visible: list.New(),
		leased:  make(map[string]*memEntry),
	}
}

func (q *MemQueue) Put(_ context.Context, req *model.AnalysisRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.visible.PushBack(&memEntry{req: req.Clone()})
	return nil
}

func (q *MemQueue) Get(_ context.Context, owner string, visibilityTimeout time.Duration) (*model.AnalysisRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reapExpiredLocked()

	front := q.visible.Front()
	if front == nil {
		return nil, nil
	}
	q.visible.Remove(front)

	e := front.Value.(*memEntry)
	e.owner = owner
	e.expiresUTC = time.Now().UTC().Add(visibilityTimeout)
	q.leased[e.req.ID] = e

	return e.req.Clone(), nil
}

func (q *MemQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, id)
	return nil
}

func (q *MemQueue) Nack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.leased[id]
	if !ok {
		return nil
	}
	delete(q.leased, id)
	e.owner = ""
	q.visible.PushFront(e)
	return nil
}

func (q *MemQueue) Renew(_ context.Context, id, owner string, visibilityTimeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.leased[id]
	if !ok {
		return aceErrNotLeased(id)
	}
	if e.owner != owner {
		return aceErrNotOwner(id, owner)
	}
	e.expiresUTC = time.Now().UTC().Add(visibilityTimeout)
	return nil
}

func (q *MemQueue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reapExpiredLocked()
	return q.visible.Len(), nil
}

// reapExpiredLocked moves every leased entry past its visibility timeout
// back to the head of the visible queue, clearing ownership. Caller holds
// q.mu.
func (q *MemQueue) reapExpiredLocked() {
	now := time.Now().UTC()
	for id, e := range q.leased {
		if now.Before(e.expiresUTC) {
			continue
		}
		delete(q.leased, id)
		e.owner = ""
		q.visible.PushFront(e)
	}
}

var _ Queue = (*MemQueue)(nil)
