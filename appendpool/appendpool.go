// Package appendpool implements the Append Worker Pool (spec section
// 4.3): a fixed-size pool that executes per-head appends, triggers splits
// when a posting overflows, and reroutes work to Reassign when its target
// head has been deleted out from under it.
//
// Grounded on engine/worker_pool.go's fixed-goroutine-count pool shape,
// adapted from a bounded work channel to an unbounded FIFO (spec section
// 5: "fixed-size thread pools with unbounded FIFO queues") backed by a
// mutex/condvar slice queue instead of a channel.
package appendpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spann-db/spann/backend"
	"github.com/spann-db/spann/headindex"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/postingsize"
	"github.com/spann-db/spann/versionmap"
)

// ReassignSubmitter is the subset of reassignpool.Pool the append worker
// needs when a target head has vanished (spec section 4.3: "submit
// Reassign(payload, VID, prevHead=HID, version)").
type ReassignSubmitter interface {
	SubmitDirect(vid uint32, version uint8, payload []float32, prevHead uint32) error
}

// Splitter is the subset of splitengine.Engine the append worker needs
// when a posting overflows.
type Splitter interface {
	// Split attempts to split hid under its exclusive lock, folding in
	// count additional records from payload. It returns ok=false
	// (FailSplit, spec section 4.4 step 1) if the overflow no longer
	// holds by the time the lock is acquired, in which case the caller
	// restarts as a plain append.
	Split(hid uint32, count int, payload []byte) (ok bool, err error)
}

// ExtraSlack is the additive posting-size allowance given to
// reassignment-origin appends, per spec section 4.3's gloss on
// `reassignExtraLimit`: it is not a retry count, purely headroom so a
// reassignment settling in doesn't immediately trigger a second split.
const ExtraSlack = 3

// Job is one unit of append work.
type Job struct {
	HID     uint32
	Count   int
	Payload []byte
	// Slack is added to PostingSizeLimit for this job's overflow check.
	// Reassignment-origin appends pass appendpool.ExtraSlack; direct
	// inserts from the dispatcher pass 0.
	Slack int32
}

// Options configures a Pool.
type Options struct {
	Workers          int
	PostingSizeLimit uint32
	// Dim is the vector dimensionality, needed to decode payloads on the
	// redirect-to-reassign path.
	Dim int
}

// Pool is the fixed-size append worker pool.
type Pool struct {
	opts     Options
	backend  backend.KeyValueIO
	heads    headindex.HeadIndex
	sizes    *postingsize.Table
	versions *versionmap.Map
	reassign ReassignSubmitter
	split    Splitter
	logger   *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Job
	closed bool
	wg     sync.WaitGroup
}

// New creates and starts a Pool with opts.Workers goroutines.
func New(opts Options, be backend.KeyValueIO, heads headindex.HeadIndex, sizes *postingsize.Table, versions *versionmap.Map, reassign ReassignSubmitter, split Splitter, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		opts:     opts,
		backend:  be,
		heads:    heads,
		sizes:    sizes,
		versions: versions,
		reassign: reassign,
		split:    split,
		logger:   logger,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a job. Never blocks: the queue is unbounded.
func (p *Pool) Submit(hid uint32, count int, payload []byte, slack int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("appendpool: closed")
	}
	p.queue = append(p.queue, Job{HID: hid, Count: count, Payload: payload, Slack: slack})
	p.cond.Signal()
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(job)
	}
}

// run executes spec section 4.3's "checkDeleted" loop for one job.
func (p *Pool) run(job Job) {
	for {
		if !p.heads.Contains(job.HID) {
			p.redirectToReassign(job)
			return
		}

		limit := p.opts.PostingSizeLimit + uint32(job.Slack)
		if p.sizes.Load(job.HID)+uint32(job.Count) > limit {
			ok, err := p.split.Split(job.HID, job.Count, job.Payload)
			if err != nil {
				p.logger.Error("appendpool: split failed", "hid", job.HID, "error", err)
				return
			}
			if !ok {
				// FailSplit: overflow no longer holds, retry as a plain
				// append by looping back to checkDeleted (spec section
				// 4.4 step 1).
				continue
			}
			return
		}

		if err := p.appendDirect(job); err == nil {
			return
		}
		// Append raced with a delete between Contains and the backend
		// call; loop back to checkDeleted to reroute.
	}
}

func (p *Pool) appendDirect(job Job) error {
	if !p.heads.Contains(job.HID) {
		return fmt.Errorf("appendpool: hid %d deleted mid-append", job.HID)
	}
	ctx := context.Background()
	if err := p.backend.AppendPosting(ctx, job.HID, job.Payload); err != nil {
		p.logger.Error("appendpool: backend append failed, retrying once", "hid", job.HID, "error", err)
		if err := p.backend.AppendPosting(ctx, job.HID, job.Payload); err != nil {
			return fmt.Errorf("%w", err)
		}
	}
	p.sizes.Add(job.HID, int32(job.Count))
	return nil
}

// redirectToReassign implements spec section 4.3's "if HID no longer
// present in head index" branch: every still-live record in the job's
// payload is queued as a direct reassign candidate.
func (p *Pool) redirectToReassign(job Job) {
	recs, err := record.DecodeAll(job.Payload, p.opts.Dim)
	if err != nil {
		p.logger.Error("appendpool: decode payload for redirect failed", "hid", job.HID, "error", err)
		return
	}
	for _, r := range recs {
		if !p.versions.IsLive(r.VID, r.Version) {
			continue
		}
		if err := p.reassign.SubmitDirect(r.VID, r.Version, r.Payload, job.HID); err != nil {
			p.logger.Error("appendpool: submit reassign failed", "vid", r.VID, "error", err)
		}
	}
}

// Close drains the queue and stops all workers.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
