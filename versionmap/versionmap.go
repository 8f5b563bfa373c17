// Package versionmap implements the per-vector version counter and
// tombstone flag described in spec section 3 ("Version Map Entry") and
// section 5 (atomics, dataAddLock). It grows in fixed-size blocks as new
// VIDs are allocated, and exposes the CAS primitives the reassign path and
// the read path need to stay consistent without a global lock on every
// access.
//
// Grounded on the block-allocation and pooled-bitset ideas in
// internal/bitmap (query-time bitmap engine) and the Roaring-backed
// membership sets in metadata/bitmap.go; the per-entry word itself uses a
// plain atomic.Uint32 rather than Roaring because CAS-based version bumps
// need bit-level atomicity Roaring does not provide.
package versionmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

// BlockCapacity is the number of version-map entries per allocated block.
const BlockCapacity = 1 << 16

const tombstoneBit = uint32(1) << 8

// ErrMemoryOverflow is returned when the version map cannot grow to cover
// a newly allocated VID. Per spec section 7, this is fatal: the caller
// must abort the process rather than continue with a map that cannot
// represent every live vector.
var ErrMemoryOverflow = errors.New("versionmap: cannot grow to cover requested id")

// MaxBlocks bounds how many blocks the map will allocate; it exists so a
// runaway VID allocation fails loudly (ErrMemoryOverflow) instead of
// growing without bound. 1<<20 blocks * 1<<16 entries covers the full
// 32-bit VID space, which is the practical ceiling anyway.
var MaxBlocks = 1 << 20

// Map is the version/tombstone table, dense-indexed by VID.
//
// Each entry packs an 8-bit version counter (bits 0-7) and a tombstone
// flag (bit 8) into a single atomic.Uint32 so BumpVersion and Tombstone
// can be implemented with lock-free CAS loops (spec section 5: "atomics:
// versionMap[VID] u8 is incremented via CAS").
type Map struct {
	mu     sync.RWMutex // dataAddLock: serializes block growth only
	blocks [][]atomic.Uint32

	tmu       sync.Mutex
	tombstone *roaring.Bitmap // mirrors the tombstone bit for fast enumeration/persistence
}

// New creates an empty version map.
func New() *Map {
	return &Map{tombstone: roaring.New()}
}

// EnsureCapacity grows the map, if necessary, so that vid is addressable.
// Safe to call concurrently; only one caller actually allocates.
func (m *Map) EnsureCapacity(vid uint32) error {
	block := int(vid / BlockCapacity)

	m.mu.RLock()
	ok := block < len(m.blocks)
	m.mu.RUnlock()
	if ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for block >= len(m.blocks) {
		if len(m.blocks) >= MaxBlocks {
			return fmt.Errorf("%w: vid %d exceeds %d blocks of %d", ErrMemoryOverflow, vid, MaxBlocks, BlockCapacity)
		}
		m.blocks = append(m.blocks, make([]atomic.Uint32, BlockCapacity))
	}
	return nil
}

// slot returns the atomic word for vid, or nil if the map has not grown
// to cover it yet (callers are expected to EnsureCapacity first).
func (m *Map) slot(vid uint32) *atomic.Uint32 {
	block := int(vid / BlockCapacity)
	idx := int(vid % BlockCapacity)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if block >= len(m.blocks) {
		return nil
	}
	return &m.blocks[block][idx]
}

// Version returns the current version byte for vid. Unallocated VIDs read
// as version 0, not tombstoned.
func (m *Map) Version(vid uint32) uint8 {
	w := m.slot(vid)
	if w == nil {
		return 0
	}
	return uint8(w.Load())
}

// IsTombstoned reports whether vid's tombstone bit is set.
func (m *Map) IsTombstoned(vid uint32) bool {
	w := m.slot(vid)
	if w == nil {
		return false
	}
	return w.Load()&tombstoneBit != 0
}

// IsLive implements spec invariant 1: a VID is live iff its tombstone bit
// is clear AND its current version equals recordVersion.
func (m *Map) IsLive(vid uint32, recordVersion uint8) bool {
	w := m.slot(vid)
	if w == nil {
		return false
	}
	val := w.Load()
	return val&tombstoneBit == 0 && uint8(val) == recordVersion
}

// Tombstone marks vid deleted. Idempotent.
func (m *Map) Tombstone(vid uint32) {
	w := m.slot(vid)
	if w == nil {
		return
	}
	for {
		old := w.Load()
		if old&tombstoneBit != 0 {
			return
		}
		if w.CompareAndSwap(old, old|tombstoneBit) {
			break
		}
	}

	m.tmu.Lock()
	m.tombstone.Add(vid)
	m.tmu.Unlock()
}

// BumpVersion atomically advances vid's version from "from" to "from+1"
// (wrapping at 256, matching the spec's 8-bit counter) iff vid is
// currently live at version "from". It returns false if the CAS lost a
// race (another reassign already advanced the version) or if vid is
// tombstoned, matching spec section 4.5 step 4 ("If CAS fails ... abort").
func (m *Map) BumpVersion(vid uint32, from uint8) bool {
	w := m.slot(vid)
	if w == nil {
		return false
	}
	for {
		old := w.Load()
		if old&tombstoneBit != 0 {
			return false
		}
		if uint8(old) != from {
			return false
		}
		next := (old &^ 0xFF) | uint32(from+1)
		if w.CompareAndSwap(old, next) {
			return true
		}
	}
}

// TombstonedCount returns the number of VIDs currently marked tombstoned.
// Backed by the Roaring mirror so it is cheap even with a sparse, large
// universe.
func (m *Map) TombstonedCount() uint64 {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	return m.tombstone.GetCardinality()
}

// SaveTo writes the "Full-deleted-ID file" format from spec section 6: a
// binary image of the version map, block by block, each preceded by its
// capacity.
func (m *Map) SaveTo(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hdr [4]byte
	for _, block := range m.blocks {
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(block)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		buf := make([]byte, 4*len(block))
		for i := range block {
			binary.LittleEndian.PutUint32(buf[i*4:i*4+4], block[i].Load())
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// LoadFrom replaces the map's contents with a previously-saved image.
func (m *Map) LoadFrom(r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	m.tmu.Lock()
	m.tombstone = roaring.New()
	m.tmu.Unlock()

	var hdr [4]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		cap := binary.LittleEndian.Uint32(hdr[:])
		buf := make([]byte, 4*cap)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		block := make([]atomic.Uint32, cap)
		m.tmu.Lock()
		for i := range block {
			val := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
			block[i].Store(val)
			if val&tombstoneBit != 0 {
				m.tombstone.Add(uint32(len(m.blocks))*BlockCapacity + uint32(i))
			}
		}
		m.tmu.Unlock()
		m.blocks = append(m.blocks, block)
	}
}
