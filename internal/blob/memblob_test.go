package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	handle, err := s.Put(ctx, []byte("hello analysis"))
	require.NoError(t, err)
	require.Equal(t, Handle([]byte("hello analysis")), handle)

	data, ok, err := s.Get(ctx, handle)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello analysis"), data)
}

func TestMemStore_PutIsContentAddressedAndIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	h1, err := s.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	h2, err := s.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestMemStore_GetMissingHandle(t *testing.T) {
	s := NewMemStore()
	_, ok, err := s.Get(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStore_DeleteMissingIsNoOp(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Delete(context.Background(), "deadbeef"))
}
