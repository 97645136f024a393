package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ace-core/ace/internal/aceerr"
)

func TestMemLocker_AcquireRelease(t *testing.T) {
	l := NewMemLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "root:A", "owner-1", 10, 1)
	require.NoError(t, err)
	require.True(t, ok)

	holder, held := l.Holder("root:A")
	require.True(t, held)
	require.Equal(t, "owner-1", holder)

	require.NoError(t, l.Release("root:A", "owner-1"))
	_, held = l.Holder("root:A")
	require.False(t, held)
}

func TestMemLocker_SecondOwnerBlocksUntilRelease(t *testing.T) {
	l := NewMemLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "root:A", "owner-1", 10, 1)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, l.Release("root:A", "owner-1"))
	}()

	ok, err = l.Acquire(ctx, "root:A", "owner-2", 10, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemLocker_ReleaseByNonHolderIsNoOp(t *testing.T) {
	l := NewMemLocker()
	ctx := context.Background()
	_, err := l.Acquire(ctx, "root:A", "owner-1", 10, 1)
	require.NoError(t, err)

	require.NoError(t, l.Release("root:A", "owner-2"))

	holder, held := l.Holder("root:A")
	require.True(t, held)
	require.Equal(t, "owner-1", holder)
}

func TestMemLocker_WaitTimeoutReturnsFalseWithoutError(t *testing.T) {
	l := NewMemLocker()
	ctx := context.Background()
	_, err := l.Acquire(ctx, "root:A", "owner-1", 10, 10)
	require.NoError(t, err)

	ok, err := l.Acquire(ctx, "root:A", "owner-2", 10, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestMemLocker_DeadlockAvoidance mirrors spec §8 scenario 5: two workers
// each hold one lock and try to acquire the other's in opposite orders.
// Exactly one must be refused with a deadlock signal; once it releases
// what it holds, the other's still-pending acquisition must complete.
func TestMemLocker_DeadlockAvoidance(t *testing.T) {
	l := NewMemLocker()
	ctx := context.Background()

	require.True(t, mustAcquire(t, l, ctx, "root:A", "worker-1"))
	require.True(t, mustAcquire(t, l, ctx, "root:B", "worker-2"))

	type outcome struct {
		owner      string
		held       string // the lock already held, released on deadlock
		wanted     string
		ok         bool
		err        error
	}
	results := make(chan outcome, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ok, err := l.Acquire(ctx, "root:B", "worker-1", 10, 2)
		results <- outcome{owner: "worker-1", held: "root:A", wanted: "root:B", ok: ok, err: err}
	}()
	go func() {
		defer wg.Done()
		ok, err := l.Acquire(ctx, "root:A", "worker-2", 10, 2)
		results <- outcome{owner: "worker-2", held: "root:B", wanted: "root:A", ok: ok, err: err}
	}()

	first := <-results
	require.True(t, aceerr.Is(first.err, aceerr.KindDeadlock), "one side of the cross-acquire must be refused as a deadlock")
	require.False(t, first.ok)
	require.NoError(t, l.Release(first.held, first.owner))

	second := <-results
	wg.Wait()
	require.NoError(t, second.err)
	require.True(t, second.ok, "once the deadlocked side releases, the other's pending acquisition must complete")
}

func mustAcquire(t *testing.T, l *MemLocker, ctx context.Context, name, owner string) bool {
	t.Helper()
	ok, err := l.Acquire(ctx, name, owner, 10, 1)
	require.NoError(t, err)
	return ok
}
