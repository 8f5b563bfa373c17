// Package search implements the Read Path (spec section 4.6): search the
// head index for candidate heads, read their postings from the backend
// under a deadline, filter out stale/tombstoned records against the
// version map, and merge live candidates into a bounded top-k.
//
// Grounded on queue/queue.go's PriorityQueue for the bounded top-k
// max-heap and on index/diskann/index.go's beam-search/rerank shape:
// search a coarse structure for candidate regions, fetch their payloads,
// then score and merge.
package search

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spann-db/spann/distance"
	"github.com/spann-db/spann/headindex"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/queue"
	"github.com/spann-db/spann/versionmap"
)

// Backend is the subset of backend.KeyValueIO the read path needs.
type Backend interface {
	MultiGet(ctx context.Context, keys []uint32, deadline time.Duration) (map[uint32][]byte, error)
}

// Options configures a Searcher.
type Options struct {
	Dim int
	// InternalResultNum is the head-index candidate depth per query (spec
	// section 6's searchInternalResultNum).
	InternalResultNum int
	// MaxDistRatio prunes candidate heads beyond
	// firstHit.dist*MaxDistRatio (spec section 4.6 step 2).
	MaxDistRatio float32
	// LatencyLimit is the backend multi-get deadline (spec section 6's
	// latencyLimit, a microsecond budget).
	LatencyLimit time.Duration
	Metric       distance.Metric
}

// DefaultOptions matches spec section 6's typical values.
var DefaultOptions = Options{
	InternalResultNum: 32,
	MaxDistRatio:      2.0,
	LatencyLimit:      500 * time.Microsecond,
}

// Result is one scored hit from Search.
type Result struct {
	VID      uint32
	Distance float32
}

// Searcher is the read path.
type Searcher struct {
	opts     Options
	heads    headindex.HeadIndex
	backend  Backend
	versions *versionmap.Map
	distFn   distance.Func

	// translate, when non-nil, maps internal VIDs back to the caller's
	// original insertion ids (spec section 4.6 step 6's immutable
	// vectorTranslateMap, no-update mode only).
	translate map[uint32]uint32
}

// New creates a Searcher. translate may be nil (mutable/update mode).
func New(opts Options, heads headindex.HeadIndex, be Backend, versions *versionmap.Map, translate map[uint32]uint32) (*Searcher, error) {
	fn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return &Searcher{opts: opts, heads: heads, backend: be, versions: versions, distFn: fn, translate: translate}, nil
}

// Search implements spec section 4.6's read path end to end, returning up
// to k live results nearest query.
func (s *Searcher) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	candidates, err := s.heads.Search(query, s.opts.InternalResultNum)
	if err != nil {
		return nil, fmt.Errorf("search: head search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	pruned := s.pruneByDistRatio(candidates)

	keys := make([]uint32, len(pruned))
	for i, c := range pruned {
		keys[i] = c.HID
	}

	postings, err := s.backend.MultiGet(ctx, keys, s.opts.LatencyLimit)
	// A deadline-exceeded MultiGet still returns whatever partial set it
	// gathered (spec section 7: DeadlineExceeded yields partial results),
	// so errors other than a nil map are logged by the caller, not fatal
	// here; postings may simply be shorter than keys.
	if postings == nil && err != nil {
		return nil, fmt.Errorf("search: multi-get: %w", err)
	}

	pq := &queue.PriorityQueue{Order: true} // descending: Top() is the current worst kept hit
	heap.Init(pq)

	for _, blob := range postings {
		recs, derr := record.DecodeAll(blob, s.opts.Dim)
		if derr != nil {
			continue // a malformed posting must not abort the whole query
		}
		for _, r := range recs {
			if !s.versions.IsLive(r.VID, r.Version) {
				continue
			}
			d := s.distFn(query, r.Payload)
			s.offer(pq, r.VID, d, k)
		}
	}

	return s.drain(pq), nil
}

// pruneByDistRatio implements spec section 4.6 step 2.
func (s *Searcher) pruneByDistRatio(candidates []headindex.Candidate) []headindex.Candidate {
	if len(candidates) == 0 || s.opts.MaxDistRatio <= 0 {
		return candidates
	}
	threshold := candidates[0].Distance * s.opts.MaxDistRatio
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.Distance <= threshold {
			out = append(out, c)
		}
	}
	return out
}

// offer inserts (vid, dist) into the bounded top-k heap, evicting the
// current worst entry when the heap grows past k. Ties are broken by VID
// ascending at drain time, not here.
func (s *Searcher) offer(pq *queue.PriorityQueue, vid uint32, dist float32, k int) {
	if k <= 0 {
		return
	}
	if pq.Len() < k {
		heap.Push(pq, &queue.PriorityQueueItem{VID: vid, Distance: dist})
		return
	}
	worst := pq.Items[0]
	if dist < worst.Distance || (dist == worst.Distance && vid < worst.VID) {
		heap.Pop(pq)
		heap.Push(pq, &queue.PriorityQueueItem{VID: vid, Distance: dist})
	}
}

// drain empties the heap into a slice sorted by (distance asc, VID asc)
// (spec section 4.6 step 5's tie-break), applying the translate map when
// present (step 6).
func (s *Searcher) drain(pq *queue.PriorityQueue) []Result {
	out := make([]Result, 0, pq.Len())
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*queue.PriorityQueueItem)
		vid := item.VID
		if s.translate != nil {
			if orig, ok := s.translate[vid]; ok {
				vid = orig
			}
		}
		out = append(out, Result{VID: vid, Distance: item.Distance})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].VID < out[j].VID
	})
	return out
}
