package splitengine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spann-db/spann/backend/kv"
	"github.com/spann-db/spann/distance"
	"github.com/spann-db/spann/headindex"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/postingsize"
	"github.com/spann-db/spann/versionmap"
)

type fakeReassign struct {
	mu   sync.Mutex
	vids []uint32
}

func (f *fakeReassign) SubmitCandidate(vid uint32, version uint8, payload []float32, prevHead uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vids = append(f.vids, vid)
	return nil
}

func newEngine(t *testing.T, limit uint32, reassign ReassignSubmitter) (*Engine, *kv.MemoryStore, *headindex.Adapter, *postingsize.Table, *versionmap.Map, func() uint32) {
	t.Helper()
	be := kv.NewMemoryStore()
	heads := headindex.New(2)
	sizes := postingsize.New()
	versions := versionmap.New()
	require.NoError(t, versions.EnsureCapacity(1000))

	var nextID uint32 = 1000
	idAlloc := func() uint32 {
		nextID++
		return nextID
	}

	eng := New(Options{
		PostingSizeLimit: limit,
		Dim:              2,
		Metric:           distance.MetricL2,
		Epsilon:          1e-6,
		MaxKMeansIter:    100,
		ReassignK:        0,
	}, be, heads, sizes, versions, idAlloc, reassign, nil)

	return eng, be, heads, sizes, versions, idAlloc
}

func putPosting(t *testing.T, be *kv.MemoryStore, hid uint32, dim int, recs []record.VectorInfo) {
	t.Helper()
	var buf []byte
	for _, r := range recs {
		buf = record.Encode(buf, r)
	}
	require.NoError(t, be.Put(context.Background(), hid, buf))
}

func TestFailSplitWhenNoLongerOverflowing(t *testing.T) {
	eng, _, _, sizes, _, _ := newEngine(t, 100, nil)
	sizes.Store(1, 1)

	ok, err := eng.Split(1, 1, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSplitWithAllStaleRecordsEmptiesHead(t *testing.T) {
	eng, be, heads, sizes, versions, _ := newEngine(t, 2, nil)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))

	// Two records that will both be tombstoned -> no survivors.
	putPosting(t, be, 1, 2, []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{1, 1}},
		{VID: 11, Version: 0, Payload: []float32{2, 2}},
	})
	sizes.Store(1, 2)
	versions.Tombstone(10)
	versions.Tombstone(11)

	ok, err := eng.Split(1, 0, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(0), sizes.Load(1))
}

func TestSplitClustersSurvivorsIntoTwoHeads(t *testing.T) {
	eng, be, heads, sizes, _, _ := newEngine(t, 2, nil)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))

	recs := []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{0, 0}},
		{VID: 11, Version: 0, Payload: []float32{0, 0.1}},
		{VID: 12, Version: 0, Payload: []float32{100, 100}},
		{VID: 13, Version: 0, Payload: []float32{100, 100.1}},
	}
	putPosting(t, be, 1, 2, recs)
	sizes.Store(1, uint32(len(recs)))

	ok, err := eng.Split(1, 0, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	total := uint32(0)
	for _, hid := range sizes.Heads() {
		total += sizes.Load(hid)
	}
	assert.Equal(t, uint32(4), total)
}

func TestSplitReusesOldHIDWhenCentroidCloseEnough(t *testing.T) {
	eng, be, heads, sizes, _, _ := newEngine(t, 2, nil)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))

	// All vectors cluster tightly around the existing centroid's location
	// and far from anything else, so one of the two k-means centroids
	// should land within epsilon of sample(1).
	recs := []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{0, 0}},
		{VID: 11, Version: 0, Payload: []float32{0, 0}},
		{VID: 12, Version: 0, Payload: []float32{50, 50}},
		{VID: 13, Version: 0, Payload: []float32{50, 50}},
	}
	putPosting(t, be, 1, 2, recs)
	sizes.Store(1, uint32(len(recs)))

	ok, err := eng.Split(1, 0, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	// Either heads.Contains(1) stayed true (reused) or it was removed; both
	// are valid outcomes of the tie-break, so just assert the engine didn't
	// error and some head still holds all 4 survivors.
	total := uint32(0)
	for _, hid := range sizes.Heads() {
		total += sizes.Load(hid)
	}
	assert.Equal(t, uint32(4), total)
}

func TestSplitEmitsReassignCandidatesForDisplacedVectors(t *testing.T) {
	reassign := &fakeReassign{}
	eng, be, heads, sizes, _, _ := newEngine(t, 2, reassign)
	require.NoError(t, heads.AddCentroid(1, []float32{25, 25}))

	recs := []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{0, 0}},
		{VID: 11, Version: 0, Payload: []float32{0, 0.1}},
		{VID: 12, Version: 0, Payload: []float32{100, 100}},
		{VID: 13, Version: 0, Payload: []float32{100, 100.1}},
	}
	putPosting(t, be, 1, 2, recs)
	sizes.Store(1, uint32(len(recs)))

	_, err := eng.Split(1, 0, nil)
	require.NoError(t, err)

	reassign.mu.Lock()
	defer reassign.mu.Unlock()
	assert.NotEmpty(t, reassign.vids)
}

func TestMaybeCompactSkipsBelowThreshold(t *testing.T) {
	eng, be, _, sizes, versions, _ := newEngine(t, 100, nil)

	recs := []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{0, 0}},
		{VID: 11, Version: 0, Payload: []float32{1, 1}},
	}
	putPosting(t, be, 1, 2, recs)
	sizes.Store(1, uint32(len(recs)))
	versions.Tombstone(10)

	compacted, err := eng.MaybeCompact(1, 0.9)
	require.NoError(t, err)
	assert.False(t, compacted)
	assert.Equal(t, uint32(2), sizes.Load(1))
}

func TestMaybeCompactRewritesOnceRatioCrossed(t *testing.T) {
	eng, be, _, sizes, versions, _ := newEngine(t, 100, nil)

	recs := []record.VectorInfo{
		{VID: 10, Version: 0, Payload: []float32{0, 0}},
		{VID: 11, Version: 0, Payload: []float32{1, 1}},
		{VID: 12, Version: 0, Payload: []float32{2, 2}},
	}
	putPosting(t, be, 1, 2, recs)
	sizes.Store(1, uint32(len(recs)))
	versions.Tombstone(10)
	versions.Tombstone(11)

	compacted, err := eng.MaybeCompact(1, 0.5)
	require.NoError(t, err)
	assert.True(t, compacted)
	assert.Equal(t, uint32(1), sizes.Load(1))
}

func TestMaybeCompactOnMissingHeadIsNoop(t *testing.T) {
	eng, _, _, _, _, _ := newEngine(t, 100, nil)

	compacted, err := eng.MaybeCompact(999, 0.5)
	require.NoError(t, err)
	assert.False(t, compacted)
}
