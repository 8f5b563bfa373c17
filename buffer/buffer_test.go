package buffer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, optFns ...func(*Options)) *Buffer {
	t.Helper()
	dir := t.TempDir()
	fns := append([]func(*Options){func(o *Options) { o.Dir = dir }}, optFns...)
	b, err := Open(fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	b := openTest(t)

	id0, err := b.Put([]byte("alpha"))
	require.NoError(t, err)
	id1, err := b.Put([]byte("beta"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), id0)
	assert.Equal(t, uint64(1), id1)

	v0, err := b.Get(id0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(v0))

	v1, err := b.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, "beta", string(v1))
}

func TestGetBeyondCurrentIDReturnsEmpty(t *testing.T) {
	b := openTest(t)
	_, err := b.Put([]byte("only"))
	require.NoError(t, err)

	v, err := b.Get(100)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCurrentIDAdvancesMonotonically(t *testing.T) {
	b := openTest(t)
	assert.Equal(t, uint64(0), b.CurrentID())
	_, err := b.Put([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b.CurrentID())
}

func TestSyncDurabilityFsyncsImmediately(t *testing.T) {
	b := openTest(t, func(o *Options) { o.DurabilityMode = DurabilitySync })
	id, err := b.Put([]byte("durable"))
	require.NoError(t, err)
	v, err := b.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(v))
}

func TestReopenReplaysExistingSegments(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(func(o *Options) { o.Dir = dir; o.CompressSealed = false })
	require.NoError(t, err)

	ids := make([]uint64, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := b.Put([]byte(fmt.Sprintf("rec-%d", i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, b.Close())

	reopened, err := Open(func(o *Options) { o.Dir = dir; o.CompressSealed = false })
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(5), reopened.CurrentID())
	for i, id := range ids {
		v, err := reopened.Get(id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("rec-%d", i), string(v))
	}
}

func TestSegmentRotationAndCompression(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(func(o *Options) {
		o.Dir = dir
		o.SegmentBytes = 64 // force rotation almost immediately
		o.CompressSealed = true
	})
	require.NoError(t, err)
	defer b.Close()

	var ids []uint64
	for i := 0; i < 20; i++ {
		id, err := b.Put([]byte(fmt.Sprintf("payload-%02d", i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Give the background compressor a moment to finish sealing segments.
	time.Sleep(100 * time.Millisecond)

	for i, id := range ids {
		v, err := b.Get(id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("payload-%02d", i), string(v))
	}

	b.segMu.RLock()
	numSegments := len(b.segments)
	b.segMu.RUnlock()
	assert.Greater(t, numSegments, 1)
}
