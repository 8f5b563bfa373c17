// Package spann implements the SPANN-family update engine from spec
// section 2: a persistent-buffer-fronted pipeline (Dispatcher -> Append
// Worker Pool -> Split Engine -> Reassign Worker Pool) that keeps a
// disk-backed posting-list index consistent under concurrent insert,
// delete, and background maintenance, plus a lock-light read path.
//
// Grounded on vecgo.go's Vecgo[T] (method shapes: New/Insert/Delete/
// KNNSearch/Checkpoint/Close, generalized to this package's narrower
// VID/payload-only data model, see DESIGN.md decision 4) and close.go's
// resource-teardown pattern.
package spann

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/spann-db/spann/appendpool"
	"github.com/spann-db/spann/backend"
	"github.com/spann-db/spann/buffer"
	"github.com/spann-db/spann/dispatcher"
	"github.com/spann-db/spann/headindex"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/postingsize"
	"github.com/spann-db/spann/reassignpool"
	"github.com/spann-db/spann/search"
	"github.com/spann-db/spann/splitengine"
	"github.com/spann-db/spann/versionmap"
)

// reassignRef breaks the three-way construction cycle between
// appendpool, splitengine, and reassignpool: appendpool and splitengine
// both need a ReassignSubmitter before reassignpool can exist (it in turn
// needs the already-built appendpool). It forwards to whichever
// *reassignpool.Pool is stored once construction completes.
type reassignRef struct {
	target atomic.Pointer[reassignpool.Pool]
}

func (r *reassignRef) SubmitDirect(vid uint32, version uint8, payload []float32, prevHead uint32) error {
	p := r.target.Load()
	if p == nil {
		return fmt.Errorf("spann: reassign pool not yet initialized")
	}
	return p.SubmitDirect(vid, version, payload, prevHead)
}

func (r *reassignRef) SubmitCandidate(vid uint32, version uint8, payload []float32, prevHead uint32) error {
	p := r.target.Load()
	if p == nil {
		return fmt.Errorf("spann: reassign pool not yet initialized")
	}
	return p.SubmitCandidate(vid, version, payload, prevHead)
}

// Result is one scored hit from SearchIndex, aliased from the search
// package so callers never need to import it directly.
type Result = search.Result

// Index is the SPANN update engine's public handle: one persistent
// buffer, one dispatcher goroutine, and the three worker pools it feeds,
// all sharing one head index, one version map, and one VID/HID counter
// (spec invariant 5).
type Index struct {
	opts options

	backend backend.KeyValueIO
	heads   *headindex.Adapter
	versions *versionmap.Map
	sizes   *postingsize.Table

	idCounter atomic.Uint32

	buf       *buffer.Buffer
	appends   *appendpool.Pool
	splits    *splitengine.Engine
	reassigns *reassignpool.Pool
	searcher  *search.Searcher

	dispatcherMu sync.Mutex
	dispatch     *dispatcher.Dispatcher

	runCtx    context.Context
	runCancel context.CancelFunc
	runWg     sync.WaitGroup

	bootstrapMu  sync.Mutex
	bootstrapped atomic.Bool

	checkpointMu sync.Mutex
	closed       atomic.Bool
}

// New builds an Index over a caller-supplied backend, wiring together
// every component named in spec section 2. dimension must match every
// vector passed to AddIndex.
func New(dimension int, be backend.KeyValueIO, optFns ...Option) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("spann: dimension must be positive")
	}
	if be == nil {
		return nil, fmt.Errorf("spann: backend is required")
	}

	o := applyOptions(optFns)
	o.dimension = dimension

	buf, err := buffer.Open(func(bo *buffer.Options) {
		bo.Dir = o.bufferDir
	})
	if err != nil {
		return nil, translateError(err)
	}

	ix := &Index{
		opts:     o,
		backend:  be,
		heads:    headindex.New(dimension),
		versions: versionmap.New(),
		sizes:    postingsize.New(),
		buf:      buf,
	}

	reassign := &reassignRef{}

	ix.splits = splitengine.New(splitengine.Options{
		PostingSizeLimit: o.postingSizeLimit,
		Dim:              dimension,
		Metric:           o.distCalcMethod,
		Epsilon:          splitengine.DefaultOptions.Epsilon,
		MaxKMeansIter:    splitengine.DefaultOptions.MaxKMeansIter,
		ReassignK:        o.reassignK,
	}, be, ix.heads, ix.sizes, ix.versions, ix.nextID, reassign, o.logger.Logger)

	ix.appends = appendpool.New(appendpool.Options{
		Workers:          o.appendThreadNum,
		PostingSizeLimit: o.postingSizeLimit,
		Dim:              dimension,
	}, be, ix.heads, ix.sizes, ix.versions, reassign, ix.splits, o.logger.Logger)

	ix.reassigns = reassignpool.New(reassignpool.Options{
		Workers:           o.reassignThreadNum,
		InternalResultNum: o.reassignK,
		ReplicaCount:      o.replicaCount,
		RNGFactor:         o.rngFactor,
		Dim:               dimension,
	}, ix.heads, ix.versions, ix.appends, o.logger.Logger)
	reassign.target.Store(ix.reassigns)

	searcher, err := search.New(search.Options{
		Dim:               dimension,
		InternalResultNum: o.searchInternalResultNum,
		MaxDistRatio:      o.maxDistRatio,
		LatencyLimit:      o.latencyLimit,
		Metric:            o.distCalcMethod,
	}, ix.heads, be, ix.versions, nil)
	if err != nil {
		_ = buf.Close()
		return nil, translateError(err)
	}
	ix.searcher = searcher

	ix.runCtx, ix.runCancel = context.WithCancel(context.Background())
	ix.dispatch = dispatcher.New(ix.buf, ix.versions, ix.appends, ix.splits, ix.sizes, o.logger.Logger, 0, func(dopts *dispatcher.Options) {
		dopts.Batch = o.batch
		dopts.Dim = dimension
		dopts.CompactInterval = o.compactInterval
		dopts.CompactRatio = o.compactRatio
	})
	ix.runWg.Add(1)
	go func() {
		defer ix.runWg.Done()
		ix.dispatch.Run(ix.runCtx)
	}()

	return ix, nil
}

// nextID draws the next id from the single counter shared by VIDs and
// HIDs (spec invariant 5).
func (ix *Index) nextID() uint32 {
	return ix.idCounter.Add(1) - 1
}

// SeedHead installs an externally-chosen centroid as a head, for callers
// that run their own initial head-selection pass (spec section 1 places
// BKT-based initial head selection out of scope; this is the seam such a
// collaborator writes through). AddIndex also self-bootstraps a single
// head from its first inserted vector if SeedHead was never called, so
// the index is usable standalone.
func (ix *Index) SeedHead(vector []float32) (uint32, error) {
	if len(vector) != ix.opts.dimension {
		return 0, fmt.Errorf("spann: dimension mismatch: got %d, want %d", len(vector), ix.opts.dimension)
	}
	hid := ix.nextID()
	if err := ix.heads.AddCentroid(hid, vector); err != nil {
		return 0, translateError(err)
	}
	ix.bootstrapped.Store(true)
	return hid, nil
}

func (ix *Index) ensureBootstrapped(vector []float32) error {
	if ix.bootstrapped.Load() {
		return nil
	}
	ix.bootstrapMu.Lock()
	defer ix.bootstrapMu.Unlock()
	if ix.bootstrapped.Load() {
		return nil
	}
	_, err := ix.SeedHead(vector)
	return err
}

// selectReplicaHeads implements the same RNG-style filter spec section
// 4.5 step 3 names for reassignment, reused here for initial placement:
// accept queryResults[i] only if for every already-accepted head h,
// rngFactor*dist(h, results[i]) > results[i].dist, capped at
// replicaCount.
func (ix *Index) selectReplicaHeads(vector []float32) ([]uint32, error) {
	if err := ix.ensureBootstrapped(vector); err != nil {
		return nil, err
	}

	candidates, err := ix.heads.Search(vector, ix.opts.internalResultNum)
	if err != nil {
		return nil, err
	}

	selected := make([]uint32, 0, ix.opts.replicaCount)
	for _, c := range candidates {
		if len(selected) >= ix.opts.replicaCount {
			break
		}
		ok := true
		for _, a := range selected {
			sampleA, found := ix.heads.Sample(a)
			if !found {
				continue
			}
			sampleC, found := ix.heads.Sample(c.HID)
			if !found {
				continue
			}
			d, derr := ix.heads.Distance(sampleA, sampleC)
			if derr != nil {
				continue
			}
			if ix.opts.rngFactor*d <= c.Distance {
				ok = false
				break
			}
		}
		if ok {
			selected = append(selected, c.HID)
		}
	}
	return selected, nil
}

// AddIndex inserts a vector and returns its newly allocated VID. The
// vector is durably appended to the persistent buffer as an Insert
// assignment record before AddIndex returns (spec section 4.1: "put
// returns only after the record is durably written"); it becomes
// searchable once the dispatcher drains that record, not synchronously.
func (ix *Index) AddIndex(ctx context.Context, vector []float32) (uint32, error) {
	if ix.closed.Load() {
		return 0, ErrClosed
	}
	if len(vector) == 0 {
		return 0, ErrEmptyData
	}
	if len(vector) != ix.opts.dimension {
		return 0, fmt.Errorf("spann: dimension mismatch: got %d, want %d", len(vector), ix.opts.dimension)
	}

	heads, err := ix.selectReplicaHeads(vector)
	if err != nil {
		return 0, translateError(err)
	}
	if len(heads) == 0 {
		return 0, fmt.Errorf("spann: no head available for placement")
	}

	vid := ix.nextID()
	if err := ix.versions.EnsureCapacity(vid); err != nil {
		return 0, translateError(err)
	}
	version := ix.versions.Version(vid)

	replicas := make([]record.Replica, len(heads))
	for i, hid := range heads {
		replicas[i] = record.Replica{HID: hid, VID: vid, Version: version, Payload: vector}
	}

	enc, err := record.EncodeInsert(replicas)
	if err != nil {
		return 0, fmt.Errorf("spann: encode insert: %w", err)
	}
	if _, err := ix.buf.Put(enc); err != nil {
		return 0, translateError(err)
	}

	return vid, nil
}

// DeleteIndex tombstones vid by appending a Delete assignment record to
// the persistent buffer. The tombstone lands once the dispatcher drains
// the record (spec section 4.2 step 4); stale postings referencing vid
// are physically reclaimed at their posting's next split GC pass, not
// here.
func (ix *Index) DeleteIndex(ctx context.Context, vid uint32) error {
	if ix.closed.Load() {
		return ErrClosed
	}
	if _, err := ix.buf.Put(record.EncodeDelete(vid)); err != nil {
		return translateError(err)
	}
	return nil
}

// SearchIndex runs the read path (spec section 4.6): search the head
// index for candidate heads, fetch their postings from the backend under
// the configured latency budget, filter stale/tombstoned records against
// the version map, and return the top-k live results by distance.
func (ix *Index) SearchIndex(ctx context.Context, query []float32, k int) ([]search.Result, error) {
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	if len(query) != ix.opts.dimension {
		return nil, fmt.Errorf("spann: dimension mismatch: got %d, want %d", len(query), ix.opts.dimension)
	}
	results, err := ix.searcher.Search(ctx, query, k)
	return results, translateError(err)
}

// Checkpoint persists the head index, version map, and posting-size
// table together under a brief pause of the dispatcher (SPEC_FULL
// supplemented feature 6, grounded on vecgo.go's autoCheckpoint/
// Checkpoint pairing and wal.go's checkpoint machinery). The dispatcher
// resumes from exactly where it left off once the snapshot completes.
func (ix *Index) Checkpoint(ctx context.Context) error {
	ix.checkpointMu.Lock()
	defer ix.checkpointMu.Unlock()

	ix.dispatcherMu.Lock()
	defer ix.dispatcherMu.Unlock()

	resumeAt := ix.dispatch.NextReadID()
	ix.dispatch.Stop()

	snapErr := ix.snapshotLocked()

	ix.dispatch = dispatcher.New(ix.buf, ix.versions, ix.appends, ix.splits, ix.sizes, ix.opts.logger.Logger, resumeAt, func(dopts *dispatcher.Options) {
		dopts.Batch = ix.opts.batch
		dopts.Dim = ix.opts.dimension
		dopts.CompactInterval = ix.opts.compactInterval
		dopts.CompactRatio = ix.opts.compactRatio
	})
	ix.runWg.Add(1)
	go func() {
		defer ix.runWg.Done()
		ix.dispatch.Run(ix.runCtx)
	}()

	ix.opts.logger.LogCheckpoint(ctx, snapErr)
	return translateError(snapErr)
}

// snapshotLocked writes the head-id file, full-deleted-id file, and
// SSD-info file formats named in spec section 6, called only while the
// dispatcher is stopped. It never touches the persistent buffer itself:
// the buffer's own segment rotation/compression is independent of
// checkpointing.
func (ix *Index) snapshotLocked() error {
	headsFile, err := createCheckpointFile(ix.opts.bufferDir, "heads.bin")
	if err != nil {
		return err
	}
	defer headsFile.Close()
	hids, err := ix.heads.SaveHeadIDs(headsFile)
	if err != nil {
		return fmt.Errorf("spann: save head ids: %w", err)
	}

	versionsFile, err := createCheckpointFile(ix.opts.bufferDir, "versions.bin")
	if err != nil {
		return err
	}
	defer versionsFile.Close()
	if err := ix.versions.SaveTo(versionsFile); err != nil {
		return fmt.Errorf("spann: save version map: %w", err)
	}

	sizesFile, err := createCheckpointFile(ix.opts.bufferDir, "postingsize.bin")
	if err != nil {
		return err
	}
	defer sizesFile.Close()
	if err := ix.sizes.SaveTo(sizesFile, hids); err != nil {
		return fmt.Errorf("spann: save posting-size table: %w", err)
	}

	return nil
}

// createCheckpointFile opens name under dir for writing, creating dir if
// necessary. Checkpoint files live alongside the buffer's own segments
// rather than in a separate configurable directory, since both are
// "this index's durable state on disk" per spec section 6.
func createCheckpointFile(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("spann: create checkpoint dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("spann: create checkpoint file %s: %w", name, err)
	}
	return f, nil
}

// Close stops the dispatcher and every worker pool, then closes the
// persistent buffer, adapted from close.go's resource-teardown pattern.
func (ix *Index) Close() error {
	if ix == nil {
		return nil
	}
	if !ix.closed.CompareAndSwap(false, true) {
		return nil
	}

	ix.dispatcherMu.Lock()
	ix.dispatch.Stop()
	ix.dispatcherMu.Unlock()
	ix.runCancel()
	ix.runWg.Wait()

	ix.appends.Close()
	ix.reassigns.Close()

	return ix.buf.Close()
}
