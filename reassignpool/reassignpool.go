// Package reassignpool implements the Reassign Worker Pool (spec section
// 4.5): for vectors displaced by a split, re-evaluate replica placement
// with an RNG-style filter and emit append requests to better heads,
// bumping the vector's version to invalidate its stale copies.
//
// Grounded on engine/worker_pool.go for the fixed-goroutine/unbounded-
// queue pool shape (same adaptation as appendpool) and on
// other_examples/cockroachdb-cockroach__fixup_worker.go's
// linkNearbyVectors for the "re-evaluate and migrate if closer" idea this
// pool generalizes from a single split callback into a standing pool.
package reassignpool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spann-db/spann/headindex"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/versionmap"
)

// ExtraSlack is re-exported from appendpool's constant for callers that
// only import reassignpool; both name the same spec section 4.3 value.
const ExtraSlack = 3

// AppendSubmitter is the subset of appendpool.Pool the reassign worker
// needs to land a relocated replica (spec section 4.5 step 5).
type AppendSubmitter interface {
	Submit(hid uint32, count int, payload []byte, slack int32) error
}

// candidate is one pending reassignment.
type candidate struct {
	vid      uint32
	version  uint8
	payload  []float32
	prevHead uint32
}

// Options configures a Pool.
type Options struct {
	Workers int
	// InternalResultNum is the head-index candidate depth searched per
	// candidate (spec section 6).
	InternalResultNum int
	// ReplicaCount is the per-vector fanout selected from the RNG filter.
	ReplicaCount int
	// RNGFactor is the RNG pruning strength, >= 1.
	RNGFactor float32
	Dim       int
}

// DefaultOptions matches spec section 6's typical values.
var DefaultOptions = Options{
	Workers:           4,
	InternalResultNum: 32,
	ReplicaCount:      4,
	RNGFactor:         1.0,
}

// Pool is the fixed-size reassign worker pool.
type Pool struct {
	opts     Options
	heads    headindex.HeadIndex
	versions *versionmap.Map
	appends  AppendSubmitter
	logger   *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []candidate
	closed bool
	wg     sync.WaitGroup
}

// New creates and starts a Pool.
func New(opts Options, heads headindex.HeadIndex, versions *versionmap.Map, appends AppendSubmitter, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{opts: opts, heads: heads, versions: versions, appends: appends, logger: logger}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.worker()
	}
	return p
}

// SubmitDirect queues a candidate rerouted by the append pool because its
// target head was deleted (spec section 4.3's "submit Reassign" branch).
func (p *Pool) SubmitDirect(vid uint32, version uint8, payload []float32, prevHead uint32) error {
	return p.enqueue(candidate{vid: vid, version: version, payload: payload, prevHead: prevHead})
}

// SubmitCandidate queues a candidate identified by the split engine's
// selection-set scan (spec section 4.5).
func (p *Pool) SubmitCandidate(vid uint32, version uint8, payload []float32, prevHead uint32) error {
	return p.enqueue(candidate{vid: vid, version: version, payload: payload, prevHead: prevHead})
}

func (p *Pool) enqueue(c candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return context.Canceled
	}
	p.queue = append(p.queue, c)
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
		c := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.reassignOne(c)
	}
}

// reassignOne implements spec section 4.5's per-candidate reassign worker
// algorithm.
func (p *Pool) reassignOne(c candidate) {
	if !p.versions.IsLive(c.vid, c.version) {
		return // tombstoned or stale: drop silently
	}

	results, err := p.heads.Search(c.payload, p.opts.InternalResultNum)
	if err != nil {
		p.logger.Error("reassignpool: head search failed", "vid", c.vid, "error", err)
		return
	}

	selected := p.rngFilter(results)
	if len(selected) == 0 {
		return
	}

	if !p.versions.BumpVersion(c.vid, c.version) {
		// Lost the CAS race: another reassign already advanced this VID.
		return
	}
	newVersion := c.version + 1

	enc := record.Encode(nil, record.VectorInfo{VID: c.vid, Version: newVersion, Payload: c.payload})
	for _, h := range selected {
		// Does not re-evaluate or shrink existing replica-set membership
		// (Open Question 1): redundant copies in other still-live
		// postings simply go stale once this version bump lands and are
		// swept at their own posting's next split GC pass.
		if err := p.appends.Submit(h.HID, 1, enc, ExtraSlack); err != nil {
			p.logger.Error("reassignpool: submit append failed", "vid", c.vid, "hid", h.HID, "error", err)
		}
	}
}

// rngFilter implements spec section 4.5 step 3: accept results[i] only if
// for every already-accepted head h, rngFactor*dist(h, results[i]) >
// results[i].dist. Caps at ReplicaCount.
func (p *Pool) rngFilter(results []headindex.Candidate) []headindex.Candidate {
	var accepted []headindex.Candidate
	for _, r := range results {
		if len(accepted) >= p.opts.ReplicaCount {
			break
		}
		ok := true
		for _, a := range accepted {
			sample, found := p.heads.Sample(a.HID)
			if !found {
				continue
			}
			otherSample, found := p.heads.Sample(r.HID)
			if !found {
				continue
			}
			d, err := p.heads.Distance(sample, otherSample)
			if err != nil {
				continue
			}
			if p.opts.RNGFactor*d <= r.Distance {
				ok = false
				break
			}
		}
		if ok {
			accepted = append(accepted, r)
		}
	}
	return accepted
}

// Close drains the queue and stops all workers.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
