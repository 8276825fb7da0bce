package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	require.NoError(t, store.Delete(ctx, "k"))
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	value := []byte("original")
	require.NoError(t, store.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)
}
