// Package splitengine implements the Split Engine (spec section 4.4):
// under an exclusive per-head lock, it garbage-collects a stale posting,
// re-clusters survivors with 2-means, writes up to two new postings,
// installs new centroids in the head index, and retires the old centroid
// when both clusters relocated.
//
// Grounded on internal/kmeans/kmeans.go for the 2-means step,
// index/diskann/index.go's Compact pass for the garbage-collection shape,
// and other_examples/cockroachdb-cockroach__fixup_worker.go's
// splitPartition for the overall "cluster survivors, write two postings,
// queue reassignment" sequencing.
package splitengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/spann-db/spann/backend"
	"github.com/spann-db/spann/distance"
	"github.com/spann-db/spann/headindex"
	"github.com/spann-db/spann/internal/kmeans"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/postingsize"
	"github.com/spann-db/spann/versionmap"
)

// bitsetPool recycles GC scratch bitsets across splits; a posting rarely
// exceeds a few thousand records, so reuse avoids a fresh allocation per
// split under sustained overflow traffic.
var bitsetPool = sync.Pool{
	New: func() any { return bitset.New(256) },
}

// ReassignSubmitter is the subset of reassignpool.Pool the split engine
// needs to emit reassignment candidates (spec section 4.5).
type ReassignSubmitter interface {
	SubmitCandidate(vid uint32, version uint8, payload []float32, prevHead uint32) error
}

// Options configures an Engine.
type Options struct {
	PostingSizeLimit uint32
	Dim              int
	Metric           distance.Metric
	// Epsilon is the reuse-distance threshold from spec section 4.4 step
	// 6: a new centroid within Epsilon of the old centroid's sample keeps
	// the old HID instead of allocating a fresh one.
	Epsilon float32
	// MaxKMeansIter bounds 2-means iterations (spec section 4.4 step 5:
	// "up to 1000 iters").
	MaxKMeansIter int
	// ReassignK is the number of nearest-other-heads to scan for
	// reassignment candidates after a split; 0 disables (spec section 6).
	ReassignK int
}

// DefaultOptions matches spec section 4.4's literal numbers.
var DefaultOptions = Options{
	Epsilon:       1e-6,
	MaxKMeansIter: 1000,
	ReassignK:     2,
}

// Engine is the split engine. It holds no reference back to the append
// pool or dispatcher (cyclic re-architecting note, spec section 9): those
// call into Engine.Split, never the reverse.
type Engine struct {
	opts     Options
	backend  backend.KeyValueIO
	heads    headindex.HeadIndex
	sizes    *postingsize.Table
	versions *versionmap.Map
	ids      func() uint32 // shared VID/HID counter (spec invariant 5)
	reassign ReassignSubmitter
	logger   *slog.Logger

	lockMu sync.Mutex
	locks  map[uint32]*sync.Mutex
}

// New creates a split Engine. ids must draw from the same monotonic
// counter used for VID allocation.
func New(opts Options, be backend.KeyValueIO, heads headindex.HeadIndex, sizes *postingsize.Table, versions *versionmap.Map, ids func() uint32, reassign ReassignSubmitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:     opts,
		backend:  be,
		heads:    heads,
		sizes:    sizes,
		versions: versions,
		ids:      ids,
		reassign: reassign,
		logger:   logger,
		locks:    make(map[uint32]*sync.Mutex),
	}
}

func (e *Engine) lockFor(hid uint32) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	l, ok := e.locks[hid]
	if !ok {
		l = &sync.Mutex{}
		e.locks[hid] = l
	}
	return l
}

// Split attempts to split hid, folding in count additional VectorInfo
// records from payload. ok=false means FailSplit: the overflow condition
// no longer held once the exclusive lock was acquired, and the caller
// should retry as a plain append.
func (e *Engine) Split(hid uint32, count int, payload []byte) (ok bool, err error) {
	lock := e.lockFor(hid)
	lock.Lock()
	defer lock.Unlock()

	if e.sizes.Load(hid)+uint32(count) < e.opts.PostingSizeLimit {
		return false, nil // FailSplit (spec section 4.4 step 1)
	}

	ctx := context.Background()
	existing, err := e.backend.Get(ctx, hid)
	if err != nil && err != backend.ErrHeadMissing {
		return false, fmt.Errorf("splitengine: read posting %d: %w", hid, err)
	}
	blob := append(existing, payload...)

	recs, err := record.DecodeAll(blob, e.opts.Dim)
	if err != nil {
		return false, fmt.Errorf("splitengine: decode posting %d: %w", hid, err)
	}

	live := bitsetPool.Get().(*bitset.BitSet)
	live.ClearAll()
	for i, r := range recs {
		if e.versions.IsLive(r.VID, r.Version) {
			live.Set(uint(i))
		}
	}
	survivors := make([]record.VectorInfo, 0, live.Count())
	for i, r := range recs {
		if live.Test(uint(i)) {
			survivors = append(survivors, r)
		}
	}
	bitsetPool.Put(live)

	oldCentroid, _ := e.heads.Sample(hid)

	if uint32(len(survivors)) < e.opts.PostingSizeLimit {
		e.rewritePosting(ctx, hid, survivors)
		return true, nil
	}

	flat := make([]float32, 0, len(survivors)*e.opts.Dim)
	for _, s := range survivors {
		flat = append(flat, s.Payload...)
	}
	centroids, err := kmeans.TrainKMeans(flat, e.opts.Dim, 2, e.opts.Metric, e.opts.MaxKMeansIter)
	if err != nil {
		return false, fmt.Errorf("splitengine: kmeans: %w", err)
	}
	if centroids == nil {
		// Fewer survivors than clusters requested: nothing to cluster,
		// treat like the single-cluster case.
		e.rewritePosting(ctx, hid, survivors)
		return true, nil
	}

	assignments := make([]int, len(survivors))
	clusterCounts := [2]int{}
	for i, s := range survivors {
		c, aerr := kmeans.AssignPartition(s.Payload, centroids, e.opts.Dim, e.opts.Metric)
		if aerr != nil {
			return false, fmt.Errorf("splitengine: assign: %w", aerr)
		}
		assignments[i] = c
		clusterCounts[c]++
	}

	if clusterCounts[0] == 0 || clusterCounts[1] == 0 {
		// Split yielding one empty cluster: treated as GC rewrite, no new
		// head added (spec section 8, boundary cases).
		e.rewritePosting(ctx, hid, survivors)
		return true, nil
	}

	clusters := [2][]record.VectorInfo{}
	for i, s := range survivors {
		c := assignments[i]
		clusters[c] = append(clusters[c], s)
	}

	reused := false
	newHeads := [2]uint32{}
	for k := 0; k < 2; k++ {
		centroid := centroids[k*e.opts.Dim : (k+1)*e.opts.Dim]

		useOldHID := false
		if !reused && oldCentroid != nil {
			d, derr := e.heads.Distance(centroid, oldCentroid)
			if derr == nil && d < e.opts.Epsilon {
				useOldHID = true
			}
		}

		if useOldHID {
			e.rewritePosting(ctx, hid, clusters[k])
			newHeads[k] = hid
			reused = true
			continue
		}

		newHID := e.ids()
		if err := e.heads.AddCentroid(newHID, centroid); err != nil {
			e.logger.Error("splitengine: add centroid failed", "hid", newHID, "error", err)
			continue
		}
		e.writePosting(ctx, newHID, clusters[k])
		newHeads[k] = newHID
	}

	if !reused {
		if err := e.heads.RemoveCentroid(hid); err != nil {
			e.logger.Error("splitengine: remove old centroid failed", "hid", hid, "error", err)
		}
		e.sizes.Delete(hid)
	}

	e.emitReassignCandidates(ctx, hid, oldCentroid, newHeads, clusters, centroids)

	return true, nil
}

func (e *Engine) rewritePosting(ctx context.Context, hid uint32, recs []record.VectorInfo) {
	e.writePosting(ctx, hid, recs)
}

// MaybeCompact implements supplemented feature 1: a proactive GC-only
// rewrite of hid's posting when its tombstoned fraction reaches
// ratioThreshold, independent of postingSizeLimit overflow. It never
// re-clusters or allocates a new head, unlike Split; it only drops dead
// records, the same way a FailSplit-avoided Split would if every record
// happened to survive.
func (e *Engine) MaybeCompact(hid uint32, ratioThreshold float32) (compacted bool, err error) {
	lock := e.lockFor(hid)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()
	existing, err := e.backend.Get(ctx, hid)
	if err != nil {
		if err == backend.ErrHeadMissing {
			return false, nil
		}
		return false, fmt.Errorf("splitengine: read posting %d: %w", hid, err)
	}
	if len(existing) == 0 {
		return false, nil
	}

	recs, err := record.DecodeAll(existing, e.opts.Dim)
	if err != nil {
		return false, fmt.Errorf("splitengine: decode posting %d: %w", hid, err)
	}
	if len(recs) == 0 {
		return false, nil
	}

	live := bitsetPool.Get().(*bitset.BitSet)
	live.ClearAll()
	for i, r := range recs {
		if e.versions.IsLive(r.VID, r.Version) {
			live.Set(uint(i))
		}
	}
	liveCount := live.Count()
	staleRatio := 1 - float32(liveCount)/float32(len(recs))
	if staleRatio < ratioThreshold {
		bitsetPool.Put(live)
		return false, nil
	}

	survivors := make([]record.VectorInfo, 0, liveCount)
	for i, r := range recs {
		if live.Test(uint(i)) {
			survivors = append(survivors, r)
		}
	}
	bitsetPool.Put(live)

	e.rewritePosting(ctx, hid, survivors)
	return true, nil
}

func (e *Engine) writePosting(ctx context.Context, hid uint32, recs []record.VectorInfo) {
	buf := make([]byte, 0, len(recs)*record.Size(e.opts.Dim))
	for _, r := range recs {
		buf = record.Encode(buf, r)
	}
	if err := e.backend.Put(ctx, hid, buf); err != nil {
		e.logger.Error("splitengine: write posting failed", "hid", hid, "error", err)
		return
	}
	e.sizes.Store(hid, uint32(len(recs)))
}

// emitReassignCandidates builds the selection set from spec section 4.5:
// the two new postings' own members (each already checked against the
// centroid it was actually written to, which may differ from its
// k-means-assigned centroid when HID reuse took the other cluster's
// slot) and, if ReassignK>0, the top-K heads nearest the old centroid.
func (e *Engine) emitReassignCandidates(ctx context.Context, oldHID uint32, oldCentroid []float32, newHeads [2]uint32, clusters [2][]record.VectorInfo, centroids []float32) {
	if e.reassign == nil || oldCentroid == nil {
		return
	}

	for k := 0; k < 2; k++ {
		centroid := centroids[k*e.opts.Dim : (k+1)*e.opts.Dim]
		for _, v := range clusters[k] {
			prevDist, err := e.heads.Distance(v.Payload, oldCentroid)
			if err != nil {
				continue
			}
			newDist, err := e.heads.Distance(v.Payload, centroid)
			if err != nil {
				continue
			}
			if newDist < prevDist {
				if err := e.reassign.SubmitCandidate(v.VID, v.Version, v.Payload, newHeads[k]); err != nil {
					e.logger.Error("splitengine: submit reassign candidate failed", "vid", v.VID, "error", err)
				}
			}
		}
	}

	if e.opts.ReassignK <= 0 {
		return
	}

	neighbors, err := e.heads.Search(oldCentroid, e.opts.ReassignK+2)
	if err != nil {
		e.logger.Error("splitengine: neighbor search for reassign failed", "error", err)
		return
	}

	scanned := 0
	for _, n := range neighbors {
		if n.HID == newHeads[0] || n.HID == newHeads[1] || n.HID == oldHID {
			continue
		}
		if scanned >= e.opts.ReassignK {
			break
		}
		scanned++

		neighborCentroid, ok := e.heads.Sample(n.HID)
		if !ok {
			continue
		}

		blob, err := e.backend.Get(ctx, n.HID)
		if err != nil {
			continue
		}
		recs, err := record.DecodeAll(blob, e.opts.Dim)
		if err != nil {
			continue
		}
		for _, r := range recs {
			if !e.versions.IsLive(r.VID, r.Version) {
				continue
			}
			prevDist, err := e.heads.Distance(r.Payload, neighborCentroid)
			if err != nil {
				continue
			}

			best, bestHead := float32(0), uint32(0)
			for k := 0; k < 2; k++ {
				centroid := centroids[k*e.opts.Dim : (k+1)*e.opts.Dim]
				d, err := e.heads.Distance(r.Payload, centroid)
				if err != nil {
					continue
				}
				if k == 0 || d < best {
					best, bestHead = d, newHeads[k]
				}
			}

			if best < prevDist {
				if err := e.reassign.SubmitCandidate(r.VID, r.Version, r.Payload, n.HID); err != nil {
					e.logger.Error("splitengine: submit reassign candidate failed", "vid", r.VID, "error", err)
				}
				_ = bestHead // the candidate's new home is decided by the reassign worker's own RNG filter, not precomputed here
			}
		}
	}
}
