// Package dispatcher implements the single cooperative task that drains
// the Persistent Buffer and fans work out to the append and reassign
// pools (spec section 4.2).
//
// No teacher file does exactly this ("drain a log in batches, group by
// key, submit to a pool" over a consumer loop with a sleep-on-empty
// backoff); the closest analog is wal.WAL's own replay loop
// (scanForSeqNum) generalized from a one-shot startup scan into a
// continuously running consumer.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/spann-db/spann/buffer"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/versionmap"
)

// AppendSubmitter is the subset of appendpool.Pool the dispatcher needs.
// Kept as an interface (rather than a concrete *appendpool.Pool
// dependency) per the cyclic index↔dispatcher↔pool re-architecting note:
// the dispatcher holds a lookup handle to the pool, not ownership.
type AppendSubmitter interface {
	Submit(hid uint32, count int, payload []byte, slack int32) error
}

// Compactor is the subset of splitengine.Engine the compaction janitor
// needs. MaybeCompact reports whether hid's posting was rewritten.
type Compactor interface {
	MaybeCompact(hid uint32, ratioThreshold float32) (bool, error)
}

// HeadLister enumerates the heads a Compactor pass should scan, e.g.
// postingsize.Table.Heads.
type HeadLister interface {
	Heads() []uint32
}

// Options configures a Dispatcher.
type Options struct {
	// Batch is the maximum number of buffer records read per loop
	// iteration.
	Batch int
	// IdleSleep is how long the loop sleeps when no records are
	// available (spec section 4.2 step 1: "sleep 100 ms").
	IdleSleep time.Duration
	// Dim is the vector dimensionality, needed to decode records.
	Dim int

	// CompactInterval is how often the compaction janitor sweeps every
	// known head looking for tombstone-heavy postings. Zero disables the
	// janitor entirely.
	CompactInterval time.Duration
	// CompactRatio is the tombstoned-fraction threshold that triggers a
	// GC-only rewrite of a posting (supplemented feature: SPTAG rebuilds
	// a posting proactively once it crosses this ratio, rather than
	// waiting for postingSizeLimit overflow).
	CompactRatio float32
}

// DefaultOptions matches spec section 6's default batch dispatcher sizing.
var DefaultOptions = Options{
	Batch:           256,
	IdleSleep:       100 * time.Millisecond,
	CompactInterval: 30 * time.Second,
	CompactRatio:    0.3,
}

// Dispatcher drains buf in batches and dispatches append/delete work.
type Dispatcher struct {
	opts     Options
	buf      *buffer.Buffer
	versions *versionmap.Map
	appends  AppendSubmitter
	logger   *slog.Logger

	compactor Compactor
	heads     HeadLister

	nextRead uint64
	stopCh   chan struct{}
	doneCh   chan struct{}
	compDone chan struct{}
}

// New creates a Dispatcher. startAt resumes from a previously checkpointed
// buffer id (0 to start from the beginning). compactor and heads may be
// nil, in which case the compaction janitor never runs.
func New(buf *buffer.Buffer, versions *versionmap.Map, appends AppendSubmitter, compactor Compactor, heads HeadLister, logger *slog.Logger, startAt uint64, optFns ...func(*Options)) *Dispatcher {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		opts:      opts,
		buf:       buf,
		versions:  versions,
		appends:   appends,
		compactor: compactor,
		heads:     heads,
		logger:    logger,
		nextRead:  startAt,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		compDone:  make(chan struct{}),
	}
}

// Run executes the drain loop until Stop is called or ctx is cancelled.
// Cancellation is cooperative: the stop flag is checked between batches,
// never mid-batch, so a batch that has started submitting jobs always
// finishes submitting them. It also starts the compaction janitor as a
// sibling goroutine, stopped by the same Stop call.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.doneCh)

	if d.compactor != nil && d.heads != nil && d.opts.CompactInterval > 0 {
		go d.runCompactionJanitor(ctx)
	} else {
		close(d.compDone)
	}

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := d.drainOnce(ctx)
		if err != nil {
			d.logger.Error("dispatcher: drain batch failed", "error", err)
		}
		if n == 0 {
			select {
			case <-time.After(d.opts.IdleSleep):
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// runCompactionJanitor periodically scans every known head and asks the
// compactor to GC-rewrite it if its tombstoned fraction is high enough.
// It runs independently of drainOnce's append/delete handling, never
// triggered by the append path itself (supplemented feature 1).
func (d *Dispatcher) runCompactionJanitor(ctx context.Context) {
	defer close(d.compDone)
	ticker := time.NewTicker(d.opts.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, hid := range d.heads.Heads() {
				if _, err := d.compactor.MaybeCompact(hid, d.opts.CompactRatio); err != nil {
					d.logger.Error("dispatcher: compaction sweep failed", "hid", hid, "error", err)
				}
			}
		}
	}
}

// Stop requests the loop to exit after its current batch, and waits for
// both the drain loop and the compaction janitor to exit.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
	<-d.compDone
}

// NextReadID reports the next buffer id this dispatcher will read, for
// checkpointing.
func (d *Dispatcher) NextReadID() uint64 {
	return d.nextRead
}

// drainOnce performs one iteration of spec section 4.2's loop body and
// returns how many buffer records it consumed.
func (d *Dispatcher) drainOnce(ctx context.Context) (int, error) {
	newPart := make(map[uint32][]byte)
	count := 0

	for i := 0; i < d.opts.Batch; i++ {
		id := d.nextRead
		if id >= d.buf.CurrentID() {
			break
		}
		raw, err := d.buf.Get(id)
		if err != nil {
			return count, err
		}
		if raw == nil {
			break
		}
		d.nextRead++
		count++

		asg, err := record.DecodeAssignment(raw, d.opts.Dim)
		if err != nil {
			d.logger.Error("dispatcher: drop malformed assignment", "id", id, "error", err)
			continue
		}

		switch asg.Op {
		case record.OpInsert:
			d.handleInsert(asg, newPart)
		case record.OpDelete:
			d.handleDelete(asg)
		}
	}

	for hid, bytes := range newPart {
		recordSize := record.Size(d.opts.Dim)
		n := len(bytes) / recordSize
		if err := d.appends.Submit(hid, n, bytes, 0); err != nil {
			d.logger.Error("dispatcher: submit append failed", "hid", hid, "error", err)
		}
	}

	return count, nil
}

// handleInsert iterates an Insert assignment's replicas, dropping any
// that are no longer live, and accumulates the rest per target head
// (spec section 4.2 steps 2-3). Order within a batch is preserved per
// head because map values are built by sequential append.
func (d *Dispatcher) handleInsert(asg record.Assignment, newPart map[uint32][]byte) {
	for _, r := range asg.Replicas {
		if !d.versions.IsLive(r.VID, r.Version) {
			continue
		}
		enc := record.Encode(nil, record.VectorInfo{VID: r.VID, Version: r.Version, Payload: r.Payload})
		newPart[r.HID] = append(newPart[r.HID], enc...)
	}
}

// handleDelete tombstones the VID in the version map (spec section 4.2
// step 4). This is the version map's tombstone, not a head-index
// centroid deletion: HIDs and VIDs share an id-space but "delete" on an
// assignment record always names a VID the caller inserted, never a
// head. Deletes bypass posting rewriting entirely; the stale bytes are
// reclaimed at the next split's garbage-collection pass.
func (d *Dispatcher) handleDelete(asg record.Assignment) {
	d.versions.Tombstone(asg.VID)
}
