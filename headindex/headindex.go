// Package headindex provides the thin wrapper described in spec section 2
// item 4 ("Head Index Adapter") over an external in-memory ANN index. The
// real head-index structure (any kNN structure over the small, mutable
// centroid set) is explicitly out of scope per spec section 1; this
// package's Adapter is the in-scope seam: it translates between the
// system-wide dense HID space (shared with VIDs, spec invariant 5) and
// whatever local id scheme the wrapped structure uses, and it owns the
// single lock spec section 5 calls "the head index's own lock ... serializes
// centroid add/delete".
//
// Grounded on hnsw/hnsw.go (adapted in place to add soft-delete, see
// hnsw.Delete) and hnsw/gob.go for persistence.
package headindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/spann-db/spann/hnsw"
)

// Candidate is one result from a head-index search.
type Candidate struct {
	HID      uint32
	Distance float32
}

// HeadIndex is the interface the rest of the update engine depends on.
// Append/Split/Reassign/Read all talk to this, never to hnsw.HNSW
// directly, so the underlying structure stays swappable.
type HeadIndex interface {
	AddCentroid(hid uint32, vec []float32) error
	RemoveCentroid(hid uint32) error
	Contains(hid uint32) bool
	Search(query []float32, k int) ([]Candidate, error)
	Sample(hid uint32) ([]float32, bool)
	Distance(a, b []float32) (float32, error)
}

// Adapter implements HeadIndex over the teacher's hnsw.HNSW graph.
//
// hnsw.HNSW hands out its own dense node ids on Insert (one array index
// per node); the update engine, however, needs HIDs drawn from the single
// shared VID/HID counter it owns (spec invariant 5). Adapter keeps the
// HID<->localID translation so the wrapped graph never has to know about
// the caller's id space.
type Adapter struct {
	mu sync.RWMutex

	graph *hnsw.HNSW

	hidToLocal map[uint32]uint32
	localToHID map[uint32]uint32
}

// New creates an Adapter wrapping a freshly constructed hnsw.HNSW of the
// given dimension.
func New(dimension int, optFns ...func(*hnsw.Options)) *Adapter {
	return &Adapter{
		graph:      hnsw.New(dimension, optFns...),
		hidToLocal: make(map[uint32]uint32),
		localToHID: make(map[uint32]uint32),
	}
}

// AddCentroid inserts a new centroid under the given HID. The HID must be
// allocated by the caller from the shared counter (spec invariant 5); the
// Adapter only manages the HID<->localID translation, not allocation.
func (a *Adapter) AddCentroid(hid uint32, vec []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.hidToLocal[hid]; exists {
		return fmt.Errorf("headindex: hid %d already present", hid)
	}

	localID, err := a.graph.Insert(vec)
	if err != nil {
		return err
	}

	a.hidToLocal[hid] = localID
	a.localToHID[localID] = hid

	return nil
}

// RemoveCentroid soft-deletes hid's centroid, per spec section 4.4 step 7
// ("delete HID from head index"). Its posting is the caller's problem
// (postingsize.Table / backend), not the head index's.
func (a *Adapter) RemoveCentroid(hid uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	local, ok := a.hidToLocal[hid]
	if !ok {
		return fmt.Errorf("headindex: hid %d not present", hid)
	}

	a.graph.Delete(local)
	delete(a.hidToLocal, hid)
	// localToHID intentionally retained: a deleted hnsw node id is never
	// reused (dense monotonic allocation), so the reverse mapping staying
	// around is harmless and lets in-flight searches still resolve any
	// localID popped from the graph a moment before the delete landed.

	return nil
}

// Contains reports whether hid currently has a live centroid.
func (a *Adapter) Contains(hid uint32) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.hidToLocal[hid]
	return ok
}

// Search returns up to k nearest centroids to query, translated to HIDs.
// Soft-deleted centroids are excluded by hnsw.HNSW.KNNSearch itself.
func (a *Adapter) Search(query []float32, k int) ([]Candidate, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	pq, err := a.graph.KNNSearch(query, k, efSearchFor(k))
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, pq.Len())
	for _, item := range pq.Items {
		hid, ok := a.localToHID[item.Node]
		if !ok {
			continue
		}
		out = append(out, Candidate{HID: hid, Distance: item.Distance})
	}
	return out, nil
}

// Sample returns the stored centroid vector for hid, used by the split
// engine's "reuse HID if new centroid lands close to sample(HID)" rule
// (spec section 4.4 step 6).
func (a *Adapter) Sample(hid uint32) ([]float32, bool) {
	a.mu.RLock()
	local, ok := a.hidToLocal[hid]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return a.graph.Vector(local)
}

// Distance exposes the wrapped graph's configured distance function so
// split/reassign can score candidates consistently with head-index search.
func (a *Adapter) Distance(x, y []float32) (float32, error) {
	return a.graph.DistanceFunc()(x, y)
}

func efSearchFor(k int) int {
	ef := k * 4
	if ef < 64 {
		ef = 64
	}
	return ef
}

// SaveHeadIDs writes the "Head-id file" format from spec section 6: a
// binary `u64 HID` per entry, length = head count. It returns the hids in
// the exact order written, so a companion file keyed by the same order
// (postingsize.Table.SaveTo) can be written from the same snapshot.
func (a *Adapter) SaveHeadIDs(w io.Writer) ([]uint32, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	hids := make([]uint32, 0, len(a.hidToLocal))
	for hid := range a.hidToLocal {
		hids = append(hids, hid)
	}

	bw := bufio.NewWriter(w)
	var buf [8]byte
	for _, hid := range hids {
		binary.LittleEndian.PutUint64(buf[:], uint64(hid))
		if _, err := bw.Write(buf[:]); err != nil {
			return nil, err
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return hids, nil
}

// LoadHeadIDs reads back the Head-id file alongside the graph's own
// gob-encoded state (hnsw.HNSW.GobDecode), rebuilding the HID<->localID
// translation in insertion order.
func (a *Adapter) LoadHeadIDs(r io.Reader) ([]uint32, error) {
	var hids []uint32
	var buf [8]byte
	for {
		_, err := io.ReadFull(r, buf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		hids = append(hids, uint32(binary.LittleEndian.Uint64(buf[:])))
	}
	return hids, nil
}

// RebindAfterLoad re-establishes the HID<->localID mapping after the
// wrapped graph has been restored via GobDecode; localIDs are assigned in
// the same dense, monotonic order the graph originally used, so replaying
// hids in save order reconstructs the same mapping.
func (a *Adapter) RebindAfterLoad(hids []uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.hidToLocal = make(map[uint32]uint32, len(hids))
	a.localToHID = make(map[uint32]uint32, len(hids))
	for i, hid := range hids {
		localID := uint32(i + 1) // node 0 is hnsw's bootstrap entry point, never a real centroid
		a.hidToLocal[hid] = localID
		a.localToHID[localID] = hid
	}
}
