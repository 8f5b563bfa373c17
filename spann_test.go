package spann

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spann-db/spann/backend/kv"
)

// waitUntil polls cond until it returns true or the deadline passes,
// needed because AddIndex/DeleteIndex only make the buffer durable; the
// dispatcher drains it on its own background goroutine.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func newTestIndex(t *testing.T, optFns ...Option) *Index {
	t.Helper()
	dir := t.TempDir()
	opts := append([]Option{
		WithBufferDir(dir),
		WithLatencyLimit(50 * time.Millisecond),
		WithPostingSizeLimit(5),
		WithReplicaCount(2),
	}, optFns...)
	ix, err := New(2, kv.NewMemoryStore(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestAddIndexThenSearchIndexFindsExactMatchAfterDrain(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	vid, err := ix.AddIndex(ctx, []float32{1, 1})
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		results, err := ix.SearchIndex(ctx, []float32{1, 1}, 1)
		return err == nil && len(results) == 1 && results[0].VID == vid
	})
}

func TestAddIndexRejectsWrongDimension(t *testing.T) {
	ix := newTestIndex(t)
	_, err := ix.AddIndex(context.Background(), []float32{1, 1, 1})
	assert.Error(t, err)
}

func TestAddIndexRejectsEmptyData(t *testing.T) {
	ix := newTestIndex(t)
	_, err := ix.AddIndex(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyData)
}

func TestDeleteIndexRemovesVectorFromSearchResults(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	vid, err := ix.AddIndex(ctx, []float32{2, 2})
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		results, err := ix.SearchIndex(ctx, []float32{2, 2}, 1)
		return err == nil && len(results) == 1 && results[0].VID == vid
	})

	require.NoError(t, ix.DeleteIndex(ctx, vid))

	waitUntil(t, time.Second, func() bool {
		results, err := ix.SearchIndex(ctx, []float32{2, 2}, 1)
		return err == nil && len(results) == 0
	})
}

func TestSearchIndexReturnsTopKOrderedByDistance(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	origin, err := ix.AddIndex(ctx, []float32{0, 0})
	require.NoError(t, err)
	far, err := ix.AddIndex(ctx, []float32{10, 10})
	require.NoError(t, err)
	near, err := ix.AddIndex(ctx, []float32{0, 1})
	require.NoError(t, err)

	var results []Result
	waitUntil(t, time.Second, func() bool {
		results, err = ix.SearchIndex(ctx, []float32{0, 0}, 2)
		return err == nil && len(results) == 2
	})

	assert.Equal(t, origin, results[0].VID)
	assert.Equal(t, near, results[1].VID)
	assert.NotEqual(t, far, results[0].VID)
	assert.NotEqual(t, far, results[1].VID)
}

func TestCheckpointResumesDispatcherAfterSnapshot(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	vid, err := ix.AddIndex(ctx, []float32{3, 3})
	require.NoError(t, err)

	require.NoError(t, ix.Checkpoint(ctx))

	second, err := ix.AddIndex(ctx, []float32{4, 4})
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		a, errA := ix.SearchIndex(ctx, []float32{3, 3}, 1)
		b, errB := ix.SearchIndex(ctx, []float32{4, 4}, 1)
		return errA == nil && errB == nil &&
			len(a) == 1 && a[0].VID == vid &&
			len(b) == 1 && b[0].VID == second
	})
}

func TestOperationsFailAfterClose(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Close())

	_, err := ix.AddIndex(context.Background(), []float32{1, 1})
	assert.ErrorIs(t, err, ErrClosed)

	err = ix.DeleteIndex(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = ix.SearchIndex(context.Background(), []float32{1, 1}, 1)
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	assert.NoError(t, ix.Close())
}

func TestSeedHeadInstallsExplicitCentroidBeforeFirstInsert(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	hid, err := ix.SeedHead([]float32{0, 0})
	require.NoError(t, err)
	assert.True(t, ix.heads.Contains(hid))

	vid, err := ix.AddIndex(ctx, []float32{0.1, 0.1})
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool {
		results, err := ix.SearchIndex(ctx, []float32{0, 0}, 1)
		return err == nil && len(results) == 1 && results[0].VID == vid
	})
}
