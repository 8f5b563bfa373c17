// Package postingsize implements the per-head atomic posting-length
// counter from spec section 3 ("Posting Size: size[HID] atomic u32").
//
// Grounded on the atomic size/free-list bookkeeping in
// index/diskann/index.go, generalized from a single index-wide counter to
// a per-HID map.
package postingsize

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Table tracks size[HID] for every head, growing its backing map as new
// heads are created by the split engine.
type Table struct {
	mu   sync.RWMutex
	size map[uint32]*atomic.Uint32
}

// New creates an empty posting-size table.
func New() *Table {
	return &Table{size: make(map[uint32]*atomic.Uint32)}
}

// entry returns the counter for hid, creating it (initialized to 0) if
// this is the first reference.
func (t *Table) entry(hid uint32) *atomic.Uint32 {
	t.mu.RLock()
	c, ok := t.size[hid]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.size[hid]; ok {
		return c
	}
	c = &atomic.Uint32{}
	t.size[hid] = c
	return c
}

// Load returns the current size of hid's posting, or 0 if hid is unknown.
func (t *Table) Load(hid uint32) uint32 {
	t.mu.RLock()
	c, ok := t.size[hid]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// Add adds delta (append growth) to hid's size and returns the new value.
func (t *Table) Add(hid uint32, delta int32) uint32 {
	return t.entry(hid).Add(uint32(delta))
}

// Store sets hid's size directly (used after a split rewrites a posting).
func (t *Table) Store(hid uint32, size uint32) {
	t.entry(hid).Store(size)
}

// Delete removes hid's entry entirely, used once a head is deleted from
// the head index and its posting is gone for good.
func (t *Table) Delete(hid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.size, hid)
}

// Heads returns a snapshot of all known head ids.
func (t *Table) Heads() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint32, 0, len(t.size))
	for hid := range t.size {
		out = append(out, hid)
	}
	return out
}

// SaveTo writes the "SSD-info file" format from spec section 6:
// `i32 vectorCount; u32 postingCount; u32 size[0..postingCount-1]`.
// vectorCount is the sum of all posting sizes (approximate live count,
// since a posting may still carry stale records awaiting GC).
//
// The per-entry sizes are written in hids order, not table-iteration
// order, because the file carries no head id of its own: a checkpoint's
// companion head-id file (headindex.Adapter.SaveHeadIDs) must be written
// from that same hids slice so the two files zip back together on
// restore. hid values with no entry in the table are written as 0.
func (t *Table) SaveTo(w io.Writer, hids []uint32) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var vectorCount int64
	sizes := make([]uint32, len(hids))
	for i, hid := range hids {
		if c, ok := t.size[hid]; ok {
			sizes[i] = c.Load()
			vectorCount += int64(sizes[i])
		}
	}

	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(vectorCount))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(hids)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, 4*len(sizes))
	for i, s := range sizes {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], s)
	}
	_, err := w.Write(buf)
	return err
}

// LoadFrom reads back the format SaveTo writes, restoring size[hids[i]]
// from the i-th entry. hids must be the exact slice the paired head-id
// file was saved from (headindex.Adapter.LoadHeadIDs), so entries zip up
// positionally; a length mismatch between the file's postingCount and
// len(hids) is an error rather than a silent partial restore.
func (t *Table) LoadFrom(r io.Reader, hids []uint32) error {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return err
	}
	postingCount := binary.LittleEndian.Uint32(hdr[4:8])
	if int(postingCount) != len(hids) {
		return fmt.Errorf("postingsize: posting count %d does not match %d head ids", postingCount, len(hids))
	}

	buf := make([]byte, 4*postingCount)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, hid := range hids {
		size := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		c := &atomic.Uint32{}
		c.Store(size)
		t.size[hid] = c
	}
	return nil
}
