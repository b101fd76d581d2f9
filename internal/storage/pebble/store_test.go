package pebble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ammledger/internal/storage"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutBatch(ctx, []storage.Entry{
		{Namespace: "pool-1", Key: "ReserveA", Value: []byte("1001000")},
		{Namespace: "pool-1", Key: "ReserveB", Value: []byte("999004")},
		{Namespace: "pool-2", Key: "ReserveA", Value: []byte("5")},
	}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get(ctx, "pool-1", "ReserveB")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "999004", string(v))

	v, _, _ = s.Get(ctx, "pool-2", "ReserveA")
	require.Equal(t, "5", string(v))
}

func TestStoreMissingKey(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(context.Background(), "pool-1", "KLast")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreClosed(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.PutBatch(context.Background(), []storage.Entry{{Namespace: "p", Key: "k"}})
	require.ErrorIs(t, err, storage.ErrClosed)
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
