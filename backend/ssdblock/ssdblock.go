// Package ssdblock implements the direct-attached SSD block-allocator
// variant of backend.KeyValueIO (spec section 1 "raw block store ...
// accessed via an async driver"; spec section 6: "values are chunked into
// fixed-size pages (4 KiB); the KV value stores (totalBytes, blockAddr[])
// and the block array indexes into an allocator stack").
//
// Grounded on internal/mmap for zero-copy reads of committed pages and on
// index/diskann/index.go's atomic id/free-list allocation pattern,
// generalized from node ids to 4 KiB block addresses. Cold pages are
// lz4-compressed before being written, matching the teacher's use of lz4
// as the "fast" codec alongside zstd.
package ssdblock

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/spann-db/spann/backend"
	"github.com/spann-db/spann/internal/mmap"
	"github.com/spann-db/spann/resource"
)

// PageSize is the fixed block size the allocator hands out (spec section
// 6: "4 KiB").
const PageSize = 4096

// CompressThreshold is the minimum raw payload size below which a page is
// lz4-compressed before being written; very small postings don't benefit
// enough to pay decompression latency on every read.
const CompressThreshold = 256

type blockIndexEntry struct {
	totalBytes int64
	compressed bool
	blocks     []uint32
}

// Store implements backend.KeyValueIO as a raw block allocator backed by
// a single growable file. blockAddr 0 is reserved (never allocated) so
// zero can serve as a "no block" sentinel in persisted indexes.
type Store struct {
	f  *os.File
	rc *resource.Controller

	mu       sync.Mutex
	index    map[uint32]*blockIndexEntry
	nextPage atomic.Uint32
	freeList []uint32 // freed page addresses, LIFO reuse

	mapMu sync.RWMutex
	mmap  *mmap.File
	mLen  int64
}

// Open creates or opens a block file at path.
func Open(path string, rc *resource.Controller) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Store{f: f, rc: rc, index: make(map[uint32]*blockIndexEntry)}
	s.nextPage.Store(1) // page 0 reserved
	return s, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mapMu.Lock()
	if s.mmap != nil {
		_ = s.mmap.Close()
	}
	s.mapMu.Unlock()
	return s.f.Close()
}

func (s *Store) allocPage() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.freeList); n > 0 {
		p := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return p
	}
	return s.nextPage.Add(1) - 1
}

func (s *Store) freePages(pages []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeList = append(s.freeList, pages...)
}

func (s *Store) writePage(addr uint32, data []byte) error {
	if len(data) > PageSize {
		return fmt.Errorf("ssdblock: page payload %d exceeds page size %d", len(data), PageSize)
	}
	buf := make([]byte, PageSize)
	copy(buf, data)
	_, err := s.f.WriteAt(buf, int64(addr)*PageSize)
	return err
}

// refreshMapping (re)maps the block file read-only whenever it has grown
// past the currently mapped length, so readPage can serve committed pages
// without a syscall per read. Grounded on internal/mmap.Open, used the
// same way blobstore/local.go uses it for read-heavy local files.
func (s *Store) refreshMapping() (*mmap.File, int64) {
	s.mapMu.RLock()
	fi, err := s.f.Stat()
	if err == nil && s.mmap != nil && fi.Size() <= s.mLen {
		m, l := s.mmap, s.mLen
		s.mapMu.RUnlock()
		return m, l
	}
	s.mapMu.RUnlock()

	if err != nil || fi.Size() == 0 {
		return nil, 0
	}

	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if s.mmap != nil {
		_ = s.mmap.Close()
		s.mmap = nil
	}
	m, err := mmap.Open(s.f.Name())
	if err != nil {
		return nil, 0
	}
	s.mmap = m
	s.mLen = fi.Size()
	return s.mmap, s.mLen
}

func (s *Store) readPage(addr uint32) ([]byte, error) {
	off := int64(addr) * PageSize
	buf := make([]byte, PageSize)

	if m, mLen := s.refreshMapping(); m != nil && off+PageSize <= mLen {
		if _, err := m.ReadAt(buf, off); err == nil {
			return buf, nil
		}
	}

	if _, err := s.f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Store) writeValue(value []byte) (*blockIndexEntry, error) {
	compressed := len(value) >= CompressThreshold
	payload := value
	if compressed {
		dst := make([]byte, lz4.CompressBlockBound(len(value)))
		var c lz4.Compressor
		n, err := c.CompressBlock(value, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 compress: %v", backend.ErrBackendIO, err)
		}
		// Tiny or incompressible payloads: lz4 reports n==0 when it
		// declines to compress. Fall back to raw in that case.
		if n > 0 && n < len(value) {
			payload = dst[:n]
		} else {
			compressed = false
		}
	}

	numPages := (len(payload) + PageSize - 1) / PageSize
	if numPages == 0 {
		numPages = 1
	}
	pages := make([]uint32, numPages)
	for i := 0; i < numPages; i++ {
		pages[i] = s.allocPage()
		start := i * PageSize
		end := start + PageSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := s.writePage(pages[i], payload[start:end]); err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
		}
	}

	return &blockIndexEntry{totalBytes: int64(len(payload)), compressed: compressed, blocks: pages}, nil
}

func (s *Store) readValue(e *blockIndexEntry) ([]byte, error) {
	payload := make([]byte, 0, e.totalBytes)
	remaining := e.totalBytes
	for _, addr := range e.blocks {
		page, err := s.readPage(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
		}
		n := int64(PageSize)
		if remaining < n {
			n = remaining
		}
		payload = append(payload, page[:n]...)
		remaining -= n
	}

	if !e.compressed {
		return payload, nil
	}

	// Decompressed size is unknown without a header; original uncompressed
	// posting bytes are bounded by replicaCount*recordSize in practice, so
	// a generous fixed multiple is a safe upper bound for the destination
	// buffer. lz4 returns the true length regardless.
	dst := make([]byte, len(payload)*8+PageSize)
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4 decompress: %v", backend.ErrBackendIO, err)
	}
	return dst[:n], nil
}

func (s *Store) Get(_ context.Context, key uint32) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.index[key]
	s.mu.Unlock()
	if !ok {
		return nil, backend.ErrHeadMissing
	}
	return s.readValue(e)
}

func (s *Store) Put(_ context.Context, key uint32, value []byte) error {
	s.mu.Lock()
	old, hadOld := s.index[key]
	s.mu.Unlock()

	entry, err := s.writeValue(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.index[key] = entry
	s.mu.Unlock()

	if hadOld {
		s.freePages(old.blocks)
	}
	return nil
}

func (s *Store) AppendPosting(ctx context.Context, hid uint32, b []byte) error {
	s.mu.Lock()
	old, hadOld := s.index[hid]
	s.mu.Unlock()

	var existing []byte
	if hadOld {
		var err error
		existing, err = s.readValue(old)
		if err != nil {
			return err
		}
	}
	return s.Put(ctx, hid, append(existing, b...))
}

func (s *Store) Delete(_ context.Context, key uint32) error {
	s.mu.Lock()
	e, ok := s.index[key]
	if ok {
		delete(s.index, key)
	}
	s.mu.Unlock()
	if ok {
		s.freePages(e.blocks)
	}
	return nil
}

func (s *Store) MultiGet(ctx context.Context, keys []uint32, deadline time.Duration) (map[uint32][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var (
		mu  sync.Mutex
		out = make(map[uint32][]byte, len(keys))
		wg  sync.WaitGroup
	)

	for _, key := range keys {
		key := key
		if s.rc != nil {
			if err := s.rc.AcquireBackground(ctx); err != nil {
				break
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.rc != nil {
				defer s.rc.ReleaseBackground()
			}
			b, err := s.Get(ctx, key)
			if err != nil {
				return
			}
			mu.Lock()
			out[key] = b
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	return out, nil
}

// SaveSSDInfo writes the "SSD-info file" format from spec section 6:
// `i32 vectorCount; u32 postingCount; u32 size[0..postingCount-1]`. Here
// size[i] is the page count of posting i, since this backend's unit of
// accounting is pages, not records.
func (s *Store) SaveSSDInfo(w *os.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var totalPages int64
	pageCounts := make([]uint32, 0, len(s.index))
	for _, e := range s.index {
		pageCounts = append(pageCounts, uint32(len(e.blocks)))
		totalPages += int64(len(e.blocks))
	}

	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(totalPages))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(pageCounts)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	buf := make([]byte, 4*len(pageCounts))
	for i, c := range pageCounts {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], c)
	}
	_, err := w.Write(buf)
	return err
}
