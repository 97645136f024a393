package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 2})
	require.True(t, l.Allow("key-a"))
	require.True(t, l.Allow("key-a"))
	require.False(t, l.Allow("key-a"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	require.True(t, l.Allow("key-a"))
	require.False(t, l.Allow("key-a"))
	require.True(t, l.Allow("key-b"))
}

func TestLimiter_EvictIdleDropsOldBuckets(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1, IdleEvictAfter: time.Millisecond})
	l.Allow("key-a")
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, l.EvictIdle())
	require.Equal(t, 0, l.Size())
}
