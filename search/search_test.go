package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spann-db/spann/backend/kv"
	"github.com/spann-db/spann/distance"
	"github.com/spann-db/spann/headindex"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/versionmap"
)

func putPosting(t *testing.T, be *kv.MemoryStore, hid uint32, recs []record.VectorInfo) {
	t.Helper()
	var buf []byte
	for _, r := range recs {
		buf = record.Encode(buf, r)
	}
	require.NoError(t, be.Put(context.Background(), hid, buf))
}

func TestSearchReturnsLiveNearestNeighbors(t *testing.T) {
	be := kv.NewMemoryStore()
	heads := headindex.New(2)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))
	versions := versionmap.New()
	require.NoError(t, versions.EnsureCapacity(10))

	putPosting(t, be, 1, []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{0, 0}},
		{VID: 11, Version: 0, Payload: []float32{1, 1}},
		{VID: 12, Version: 0, Payload: []float32{5, 5}},
	})

	s, err := New(Options{Dim: 2, InternalResultNum: 8, MaxDistRatio: 4, LatencyLimit: 50 * time.Millisecond}, heads, be, versions, nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(10), results[0].VID)
	assert.Equal(t, uint32(11), results[1].VID)
}

func TestSearchFiltersTombstonedAndStaleVersions(t *testing.T) {
	be := kv.NewMemoryStore()
	heads := headindex.New(2)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))
	versions := versionmap.New()
	require.NoError(t, versions.EnsureCapacity(10))
	versions.Tombstone(10)
	versions.BumpVersion(11, 0) // record below still carries version 0, now stale

	putPosting(t, be, 1, []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{0, 0}},
		{VID: 11, Version: 0, Payload: []float32{0, 0}},
		{VID: 12, Version: 0, Payload: []float32{0, 0}},
	})

	s, err := New(Options{Dim: 2, InternalResultNum: 8, MaxDistRatio: 4, LatencyLimit: 50 * time.Millisecond}, heads, be, versions, nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), []float32{0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(12), results[0].VID)
}

func TestSearchTranslatesVIDsInImmutableMode(t *testing.T) {
	be := kv.NewMemoryStore()
	heads := headindex.New(2)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))
	versions := versionmap.New()
	require.NoError(t, versions.EnsureCapacity(10))

	putPosting(t, be, 1, []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{0, 0}},
	})

	translate := map[uint32]uint32{10: 9001}
	s, err := New(Options{Dim: 2, InternalResultNum: 8, MaxDistRatio: 4, LatencyLimit: 50 * time.Millisecond}, heads, be, versions, translate)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), []float32{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(9001), results[0].VID)
}

func TestSearchReturnsNilWhenNoCandidateHeads(t *testing.T) {
	be := kv.NewMemoryStore()
	heads := headindex.New(2) // empty
	versions := versionmap.New()

	s, err := New(Options{Dim: 2, InternalResultNum: 8, MaxDistRatio: 4, Metric: distance.MetricL2, LatencyLimit: 50 * time.Millisecond}, heads, be, versions, nil)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), []float32{0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
