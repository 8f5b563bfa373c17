// Package buffer implements the Persistent Buffer: a durable, append-only
// FIFO of opaque assignment-record byte strings addressed by a dense
// monotonic id starting at 0 (spec section 4.1).
//
// Heavily adapted from wal/wal.go rather than reused as-is: the WAL is
// built around a prepare/commit protocol for a single growing file and
// exposes no random-access read by sequence number, while the buffer's
// contract requires get(id) on any id in [0, current_id()). This package
// keeps the WAL's group-commit/fsync durability machinery and its
// self-describing segment header, but restructures storage into rotating
// segments so that older, fully-drained segments can be compressed with
// zstd in the background without blocking new appends.
package buffer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DurabilityMode controls fsync behavior for Put, mirroring wal.DurabilityMode.
type DurabilityMode int

const (
	// DurabilitySync fsyncs after every Put. Slowest, strongest guarantee.
	DurabilitySync DurabilityMode = iota
	// DurabilityGroupCommit batches fsyncs across concurrent Put callers;
	// every Put still blocks until its record is durable (spec section
	// 4.1: "put returns only after the record is durably written").
	DurabilityGroupCommit
)

// Options configures a Buffer.
type Options struct {
	// Dir is the directory holding segment files.
	Dir string
	// SegmentBytes is the approximate size at which the active segment is
	// sealed and a new one started.
	SegmentBytes int64
	// DurabilityMode controls fsync batching.
	DurabilityMode DurabilityMode
	// GroupCommitInterval is the max wait before a background fsync in
	// DurabilityGroupCommit mode.
	GroupCommitInterval time.Duration
	// GroupCommitMaxOps forces an immediate fsync once this many Puts are
	// pending, instead of waiting for the next ticker tick.
	GroupCommitMaxOps int
	// CompressSealed enables background zstd compression of sealed
	// segments once they are no longer being written to.
	CompressSealed bool
	// CompressionLevel is the zstd level used for sealed segments.
	CompressionLevel int
}

// DefaultOptions mirrors the teacher's defaults: group commit at 10ms,
// 64MB segments, sealed-segment compression on.
var DefaultOptions = Options{
	SegmentBytes:        64 << 20,
	DurabilityMode:      DurabilityGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
	CompressSealed:      true,
	CompressionLevel:    3,
}

var segmentMagic = [4]byte{'S', 'B', 'U', 'F'}

type record struct {
	offset int64 // absolute offset within the segment's *decompressed* byte stream, after the header
	length uint32
}

type segment struct {
	index      int
	path       string
	compressed bool
	firstID    uint64
	records    []record

	// decompressed is a cached copy of the segment's post-header bytes,
	// populated lazily for compressed segments on first Get.
	decompressed []byte
}

// Buffer is a durable, segmented, append-only FIFO of byte records.
type Buffer struct {
	opts Options

	mu        sync.Mutex
	activeSeg *segment
	activeF   *os.File
	writer    *bufio.Writer
	nextIdx   int // next segment index to allocate

	segMu    sync.RWMutex
	segments []*segment // ordered by firstID ascending; last one is active

	nextID uint64

	// group commit
	syncCond        *sync.Cond
	persistedID     uint64
	pending         int
	commitStopCh    chan struct{}
	commitTicker    *time.Ticker
	commitWg        sync.WaitGroup
	closed          bool
}

// Open opens or creates a buffer rooted at opts.Dir, replaying any
// existing segments to rebuild the in-memory id index.
func Open(optFns ...func(*Options)) (*Buffer, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("buffer: Dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("buffer: create dir: %w", err)
	}

	b := &Buffer{opts: opts}
	b.syncCond = sync.NewCond(&b.mu)

	if err := b.loadSegments(); err != nil {
		return nil, err
	}
	if err := b.openActiveSegment(); err != nil {
		return nil, err
	}

	if opts.DurabilityMode == DurabilityGroupCommit && opts.GroupCommitInterval > 0 {
		b.commitStopCh = make(chan struct{})
		b.commitTicker = time.NewTicker(opts.GroupCommitInterval)
		b.commitWg.Add(1)
		go b.groupCommitWorker()
	}

	return b, nil
}

func segmentPath(dir string, idx int, compressed bool) string {
	ext := ".bin"
	if compressed {
		ext = ".bin.zst"
	}
	return filepath.Join(dir, fmt.Sprintf("seg-%08d%s", idx, ext))
}

// loadSegments replays every existing sealed/active segment file in order
// to rebuild the id→record index and nextID, the same role
// WAL.scanForSeqNum plays for the log's sequence counter.
func (b *Buffer) loadSegments() error {
	entries, err := os.ReadDir(b.opts.Dir)
	if err != nil {
		return err
	}

	type found struct {
		idx        int
		path       string
		compressed bool
	}
	var files []found
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var idx int
		var compressed bool
		if n, err := fmt.Sscanf(name, "seg-%08d.bin.zst", &idx); err == nil && n == 1 {
			compressed = true
		} else if n, err := fmt.Sscanf(name, "seg-%08d.bin", &idx); err == nil && n == 1 {
			compressed = false
		} else {
			continue
		}
		files = append(files, found{idx: idx, path: filepath.Join(b.opts.Dir, name), compressed: compressed})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].idx < files[j].idx })

	id := uint64(0)
	for _, f := range files {
		seg, recovered, err := replaySegment(f.path, f.idx, f.compressed, id)
		if err != nil {
			return fmt.Errorf("buffer: replay %s: %w", f.path, err)
		}
		b.segments = append(b.segments, seg)
		id += uint64(recovered)
		if f.idx >= b.nextIdx {
			b.nextIdx = f.idx + 1
		}
	}
	b.nextID = id
	return nil
}

func replaySegment(path string, idx int, compressed bool, firstID uint64) (*segment, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	data := raw
	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, 0, err
		}
		defer dec.Close()
		data, err = dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("decompress: %w", err)
		}
	}

	if len(data) < len(segmentMagic) || [4]byte(data[:4]) != segmentMagic {
		return nil, 0, fmt.Errorf("invalid segment header")
	}
	body := data[4:]

	seg := &segment{index: idx, path: path, compressed: compressed, firstID: firstID}
	if compressed {
		seg.decompressed = body
	}

	var offset int64
	count := 0
	for len(body) > 0 {
		if len(body) < 4 {
			break // truncated trailing record; stop replay here
		}
		length := binary.LittleEndian.Uint32(body[:4])
		if uint32(len(body)-4) < length {
			break
		}
		seg.records = append(seg.records, record{offset: offset + 4, length: length})
		advance := int64(4 + length)
		body = body[advance:]
		offset += advance
		count++
	}
	return seg, count, nil
}

func (b *Buffer) openActiveSegment() error {
	idx := b.nextIdx
	b.nextIdx++
	path := segmentPath(b.opts.Dir, idx, false)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		if _, err := f.Write(segmentMagic[:]); err != nil {
			_ = f.Close()
			return err
		}
	}

	b.activeF = f
	b.writer = bufio.NewWriter(f)
	b.activeSeg = &segment{index: idx, path: path, firstID: b.nextID}

	b.segMu.Lock()
	b.segments = append(b.segments, b.activeSeg)
	b.segMu.Unlock()
	return nil
}

// Put durably appends bytes and returns its assigned id.
func (b *Buffer) Put(p []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fmt.Errorf("buffer: closed")
	}

	st, err := b.activeF.Stat()
	if err != nil {
		return 0, err
	}
	offsetInFile := st.Size() + int64(b.writer.Buffered())

	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, uint32(len(p)))
	if _, err := b.writer.Write(hdr); err != nil {
		return 0, fmt.Errorf("buffer: write length: %w", err)
	}
	if _, err := b.writer.Write(p); err != nil {
		return 0, fmt.Errorf("buffer: write payload: %w", err)
	}

	id := b.nextID
	b.nextID++

	b.segMu.Lock()
	b.activeSeg.records = append(b.activeSeg.records, record{
		offset: offsetInFile - int64(len(segmentMagic)) + 4,
		length: uint32(len(p)),
	})
	b.segMu.Unlock()

	if err := b.writer.Flush(); err != nil {
		return 0, fmt.Errorf("buffer: flush: %w", err)
	}

	if err := b.syncLocked(id); err != nil {
		return 0, err
	}

	if st2, err := b.activeF.Stat(); err == nil && st2.Size() >= b.opts.SegmentBytes {
		if err := b.rotateLocked(); err != nil {
			return id, err
		}
	}

	return id, nil
}

// syncLocked blocks until id's record is durable, mirroring
// WAL.syncIfNeeded's blocking group-commit wait. Caller holds b.mu.
func (b *Buffer) syncLocked(id uint64) error {
	switch b.opts.DurabilityMode {
	case DurabilitySync:
		if err := b.activeF.Sync(); err != nil {
			return err
		}
		b.persistedID = id
		return nil
	case DurabilityGroupCommit:
		b.pending++
		if b.commitTicker == nil || b.pending >= b.opts.GroupCommitMaxOps {
			return b.doGroupCommitLocked()
		}
		for b.persistedID < id {
			b.syncCond.Wait()
		}
		return nil
	default:
		return nil
	}
}

func (b *Buffer) doGroupCommitLocked() error {
	if b.pending == 0 {
		return nil
	}
	if err := b.activeF.Sync(); err != nil {
		return err
	}
	b.pending = 0
	b.persistedID = b.nextID - 1
	b.syncCond.Broadcast()
	return nil
}

func (b *Buffer) groupCommitWorker() {
	defer b.commitWg.Done()
	for {
		select {
		case <-b.commitStopCh:
			b.mu.Lock()
			_ = b.doGroupCommitLocked()
			b.mu.Unlock()
			return
		case <-b.commitTicker.C:
			b.mu.Lock()
			_ = b.doGroupCommitLocked()
			b.mu.Unlock()
		}
	}
}

// rotateLocked seals the active segment and opens a fresh one. Caller
// holds b.mu.
func (b *Buffer) rotateLocked() error {
	sealed := b.activeSeg
	if err := b.writer.Flush(); err != nil {
		return err
	}
	if err := b.activeF.Sync(); err != nil {
		return err
	}
	if err := b.activeF.Close(); err != nil {
		return err
	}

	if b.opts.CompressSealed {
		go b.compressSegment(sealed)
	}

	return b.openActiveSegment()
}

// compressSegment rewrites a sealed segment's file as zstd-compressed and
// swaps the segment's path/compressed flag once done, grounded on
// wal.WAL's encoder usage. Offsets recorded during replay/Put describe
// positions in the *decompressed* stream, so they remain valid unchanged.
func (b *Buffer) compressSegment(seg *segment) {
	raw, err := os.ReadFile(seg.path)
	if err != nil {
		return
	}

	level := zstd.EncoderLevelFromZstd(b.opts.CompressionLevel)
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return
	}
	compressed := enc.EncodeAll(raw, nil)
	_ = enc.Close()

	newPath := segmentPath(b.opts.Dir, seg.index, true)
	tmp := newPath + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o640); err != nil {
		return
	}
	if err := os.Rename(tmp, newPath); err != nil {
		return
	}
	oldPath := seg.path

	b.segMu.Lock()
	seg.path = newPath
	seg.compressed = true
	seg.decompressed = raw[len(segmentMagic):]
	b.segMu.Unlock()

	_ = os.Remove(oldPath)
}

// Get returns the record stored at id, or nil if id has not yet been
// assigned (spec section 4.1: "on an id ≥ current_id() it returns empty").
func (b *Buffer) Get(id uint64) ([]byte, error) {
	b.segMu.RLock()
	defer b.segMu.RUnlock()

	if id >= b.nextID {
		return nil, nil
	}

	i := sort.Search(len(b.segments), func(i int) bool {
		next := b.segments[i].firstID + uint64(len(b.segments[i].records))
		return next > id
	})
	if i == len(b.segments) {
		return nil, fmt.Errorf("buffer: id %d not found in any segment", id)
	}
	seg := b.segments[i]
	rec := seg.records[id-seg.firstID]

	data, err := b.segmentBytes(seg)
	if err != nil {
		return nil, err
	}
	if rec.offset+int64(rec.length) > int64(len(data)) {
		return nil, fmt.Errorf("buffer: record %d out of range in segment %d", id, seg.index)
	}
	out := make([]byte, rec.length)
	copy(out, data[rec.offset:rec.offset+int64(rec.length)])
	return out, nil
}

func (b *Buffer) segmentBytes(seg *segment) ([]byte, error) {
	if seg.decompressed != nil {
		return seg.decompressed, nil
	}
	if seg == b.activeSeg {
		raw, err := os.ReadFile(seg.path)
		if err != nil {
			return nil, err
		}
		return raw[len(segmentMagic):], nil
	}
	raw, err := os.ReadFile(seg.path)
	if err != nil {
		return nil, err
	}
	if !seg.compressed {
		return raw[len(segmentMagic):], nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	full, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, err
	}
	return full[len(segmentMagic):], nil
}

// CurrentID returns the next id that will be assigned by Put.
func (b *Buffer) CurrentID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

// Close flushes and fsyncs the active segment and stops the group-commit
// worker. The buffer is unusable after Close returns.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.commitTicker != nil {
		close(b.commitStopCh)
		b.mu.Unlock()
		b.commitWg.Wait()
		b.mu.Lock()
		b.commitTicker.Stop()
	}
	err := b.writer.Flush()
	if err == nil {
		err = b.activeF.Sync()
	}
	if cerr := b.activeF.Close(); err == nil {
		err = cerr
	}
	b.mu.Unlock()
	return err
}

// io.Closer is satisfied by *Buffer.
var _ io.Closer = (*Buffer)(nil)
