package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ace-core/ace/internal/model"
)

func newTestRequest(id string) *model.AnalysisRequest {
	return &model.AnalysisRequest{
		ID:        id,
		RootUUID:  "root-1",
		AMTName:   "amt_a",
		State:     model.RequestQueued,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemQueue_FIFOOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	require.NoError(t, q.Put(ctx, newTestRequest("r1")))
	require.NoError(t, q.Put(ctx, newTestRequest("r2")))
	require.NoError(t, q.Put(ctx, newTestRequest("r3")))

	for _, want := range []string{"r1", "r2", "r3"} {
		got, err := q.Get(ctx, "owner-1", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, want, got.ID)
		require.NoError(t, q.Ack(ctx, got.ID))
	}
}

func TestMemQueue_GetOnEmptyReturnsNil(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()

	got, err := q.Get(ctx, "owner-1", time.Minute)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemQueue_LeasedRequestInvisibleUntilExpiry(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	require.NoError(t, q.Put(ctx, newTestRequest("r1")))

	leased, err := q.Get(ctx, "owner-1", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "r1", leased.ID)

	// Still leased: a second Get finds nothing.
	none, err := q.Get(ctx, "owner-2", time.Minute)
	require.NoError(t, err)
	require.Nil(t, none)

	time.Sleep(20 * time.Millisecond)

	reclaimed, err := q.Get(ctx, "owner-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.Equal(t, "r1", reclaimed.ID)
}

func TestMemQueue_NackReturnsToHead(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	require.NoError(t, q.Put(ctx, newTestRequest("r1")))
	require.NoError(t, q.Put(ctx, newTestRequest("r2")))

	leased, err := q.Get(ctx, "owner-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "r1", leased.ID)

	require.NoError(t, q.Nack(ctx, "r1"))

	again, err := q.Get(ctx, "owner-2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "r1", again.ID, "nacked request should return to the head")
}

func TestMemQueue_RenewExtendsLease(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	require.NoError(t, q.Put(ctx, newTestRequest("r1")))

	_, err := q.Get(ctx, "owner-1", 20*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, q.Renew(ctx, "r1", "owner-1", time.Minute))

	time.Sleep(30 * time.Millisecond)

	none, err := q.Get(ctx, "owner-2", time.Minute)
	require.NoError(t, err)
	require.Nil(t, none, "renewed lease should not have expired")
}

func TestMemQueue_RenewWrongOwnerFails(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	require.NoError(t, q.Put(ctx, newTestRequest("r1")))
	_, err := q.Get(ctx, "owner-1", time.Minute)
	require.NoError(t, err)

	err = q.Renew(ctx, "r1", "owner-2", time.Minute)
	require.Error(t, err)
}

func TestMemQueue_Size(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	require.NoError(t, q.Put(ctx, newTestRequest("r1")))
	require.NoError(t, q.Put(ctx, newTestRequest("r2")))

	n, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = q.Get(ctx, "owner-1", time.Minute)
	require.NoError(t, err)

	n, err = q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "leased request should not count toward size")
}

func TestManager_RebindReturnsOldQueue(t *testing.T) {
	m := NewManager(func(_, _ string) Queue { return NewMemQueue() })

	qv1 := m.Bind("amt_a", "1.0")
	require.NoError(t, qv1.Put(context.Background(), newTestRequest("r1")))

	old := m.Rebind("amt_a", "2.0")
	require.Same(t, qv1, old)

	require.Nil(t, m.QueueForVersion("amt_a", "1.0"), "stale version must not be addressable as current")
	require.NotNil(t, m.QueueForVersion("amt_a", "2.0"))
	require.Same(t, m.QueueForVersion("amt_a", "2.0"), m.Current("amt_a"))
}
