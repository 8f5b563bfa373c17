package reassignpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spann-db/spann/headindex"
	"github.com/spann-db/spann/versionmap"
)

type submitCall struct {
	hid   uint32
	count int
}

type fakeAppend struct {
	mu    sync.Mutex
	calls []submitCall
}

func (f *fakeAppend) Submit(hid uint32, count int, payload []byte, slack int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitCall{hid: hid, count: count})
	return nil
}

func (f *fakeAppend) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestReassignDropsTombstonedCandidate(t *testing.T) {
	heads := headindex.New(2)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))
	versions := versionmap.New()
	require.NoError(t, versions.EnsureCapacity(10))
	versions.Tombstone(5)
	appends := &fakeAppend{}

	pool := New(DefaultOptions, heads, versions, appends, nil)
	defer pool.Close()

	require.NoError(t, pool.SubmitDirect(5, 0, []float32{1, 1}, 1))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, appends.len())
}

func TestReassignSelectsHeadsAndBumpsVersion(t *testing.T) {
	heads := headindex.New(2)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))
	require.NoError(t, heads.AddCentroid(2, []float32{100, 100}))
	versions := versionmap.New()
	require.NoError(t, versions.EnsureCapacity(10))
	appends := &fakeAppend{}

	opts := DefaultOptions
	opts.Workers = 1
	opts.ReplicaCount = 2
	opts.InternalResultNum = 8

	pool := New(opts, heads, versions, appends, nil)
	defer pool.Close()

	require.NoError(t, pool.SubmitCandidate(7, 0, []float32{1, 1}, 1))

	waitFor(t, func() bool { return appends.len() > 0 })
	assert.Equal(t, uint8(1), versions.Version(7))
}

func TestReassignSkipsCandidateThatLostVersionRace(t *testing.T) {
	heads := headindex.New(2)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))
	versions := versionmap.New()
	require.NoError(t, versions.EnsureCapacity(10))
	appends := &fakeAppend{}

	pool := New(DefaultOptions, heads, versions, appends, nil)
	defer pool.Close()

	// Candidate carries version 0, but the live version has already moved
	// to 1 by the time the worker picks it up: IsLive(vid, 0) is false.
	versions.BumpVersion(7, 0)
	require.NoError(t, pool.SubmitDirect(7, 0, []float32{1, 1}, 1))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, appends.len())
}

func TestRNGFilterRejectsRedundantNearbyHead(t *testing.T) {
	heads := headindex.New(2)
	require.NoError(t, heads.AddCentroid(1, []float32{0, 0}))
	require.NoError(t, heads.AddCentroid(2, []float32{0.01, 0.01})) // almost on top of head 1
	versions := versionmap.New()
	require.NoError(t, versions.EnsureCapacity(10))
	appends := &fakeAppend{}

	opts := DefaultOptions
	opts.Workers = 1
	opts.ReplicaCount = 2
	opts.InternalResultNum = 8
	opts.RNGFactor = 1.0

	pool := New(opts, heads, versions, appends, nil)
	defer pool.Close()

	require.NoError(t, pool.SubmitCandidate(9, 0, []float32{0, 0}, 1))

	waitFor(t, func() bool { return appends.len() > 0 })
	// Head 2 sits almost on top of head 1 relative to the query, so the RNG
	// filter should admit only one of the two even though ReplicaCount allows
	// two.
	assert.Less(t, appends.len(), 2)
}
