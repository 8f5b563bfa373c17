package ssdblock

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spann-db/spann/backend"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blocks.bin"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 1, []byte("hello world")))
	v, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(v))
}

func TestGetMissingReturnsHeadMissing(t *testing.T) {
	s := open(t)
	_, err := s.Get(context.Background(), 99)
	assert.ErrorIs(t, err, backend.ErrHeadMissing)
}

func TestValueSpanningMultiplePages(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("x"), PageSize*3+17)
	require.NoError(t, s.Put(ctx, 5, payload))

	v, err := s.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, payload, v)
}

func TestAppendPostingGrowsValue(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	require.NoError(t, s.AppendPosting(ctx, 3, []byte("abc")))
	require.NoError(t, s.AppendPosting(ctx, 3, []byte("def")))

	v, err := s.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(v))
}

func TestCompressiblePayloadRoundTrips(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("AAAA-BBBB-CCCC-"), 100) // well over CompressThreshold, highly compressible
	require.NoError(t, s.Put(ctx, 8, payload))

	v, err := s.Get(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, payload, v)
}

func TestDeleteFreesPagesForReuse(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 1, bytes.Repeat([]byte("a"), PageSize*2)))
	require.NoError(t, s.Delete(ctx, 1))

	before := s.nextPage.Load()
	require.NoError(t, s.Put(ctx, 2, []byte("tiny")))
	after := s.nextPage.Load()

	assert.Equal(t, before, after, "freed pages should be reused instead of growing nextPage")

	_, err := s.Get(ctx, 1)
	assert.ErrorIs(t, err, backend.ErrHeadMissing)
}

func TestMultiGetPartial(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, 1, []byte("x")))

	out, err := s.MultiGet(ctx, []uint32{1, 2}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out[1])
	_, ok := out[2]
	assert.False(t, ok)
}

func TestSaveSSDInfo(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, 1, []byte("abc")))
	require.NoError(t, s.Put(ctx, 2, bytes.Repeat([]byte("y"), PageSize+1)))

	f, err := os.CreateTemp(t.TempDir(), "ssdinfo")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, s.SaveSSDInfo(f))

	info, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(info), 8)
}
