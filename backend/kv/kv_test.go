package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spann-db/spann/backend"
)

func TestMemoryStoreAppendAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AppendPosting(ctx, 1, []byte("abc")))
	require.NoError(t, s.AppendPosting(ctx, 1, []byte("def")))

	v, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(v))
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), 42)
	assert.ErrorIs(t, err, backend.ErrHeadMissing)
}

func TestMemoryStoreMultiGetPartial(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, 1, []byte("x")))

	out, err := s.MultiGet(ctx, []uint32{1, 2}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out[1])
	_, ok := out[2]
	assert.False(t, ok)
}

func TestLocalStoreAppendAndDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AppendPosting(ctx, 7, []byte("hello")))
	require.NoError(t, s.AppendPosting(ctx, 7, []byte(" world")))

	v, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(v))

	require.NoError(t, s.Delete(ctx, 7))
	_, err = s.Get(ctx, 7)
	assert.True(t, errors.Is(err, backend.ErrHeadMissing))
}

func TestLocalStoreMultiGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 1, []byte("a")))
	require.NoError(t, s.Put(ctx, 2, []byte("b")))

	out, err := s.MultiGet(ctx, []uint32{1, 2, 3}, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
