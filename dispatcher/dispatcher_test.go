package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spann-db/spann/buffer"
	"github.com/spann-db/spann/internal/record"
	"github.com/spann-db/spann/versionmap"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []struct {
		hid     uint32
		count   int
		payload []byte
	}
}

func (f *fakeSubmitter) Submit(hid uint32, count int, payload []byte, _ int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		hid     uint32
		count   int
		payload []byte
	}{hid, count, payload})
	return nil
}

func (f *fakeSubmitter) snapshot() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestBuffer(t *testing.T) *buffer.Buffer {
	t.Helper()
	b, err := buffer.Open(func(o *buffer.Options) { o.Dir = t.TempDir() })
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestDrainOnceRoutesLiveInsertsByHead(t *testing.T) {
	buf := newTestBuffer(t)
	vm := versionmap.New()
	require.NoError(t, vm.EnsureCapacity(10))

	enc, err := record.EncodeInsert([]record.Replica{
		{HID: 1, VID: 5, Version: 0, Payload: []float32{1, 2}},
		{HID: 2, VID: 6, Version: 0, Payload: []float32{3, 4}},
	})
	require.NoError(t, err)
	_, err = buf.Put(enc)
	require.NoError(t, err)

	sub := &fakeSubmitter{}
	d := New(buf, vm, sub, nil, nil, nil, 0, func(o *Options) { o.Dim = 2 })

	n, err := d.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, sub.snapshot())
}

func TestDrainOnceSkipsNonLiveReplicas(t *testing.T) {
	buf := newTestBuffer(t)
	vm := versionmap.New()
	require.NoError(t, vm.EnsureCapacity(10))
	vm.Tombstone(5)

	enc, err := record.EncodeInsert([]record.Replica{
		{HID: 1, VID: 5, Version: 0, Payload: []float32{1, 2}},
	})
	require.NoError(t, err)
	_, err = buf.Put(enc)
	require.NoError(t, err)

	sub := &fakeSubmitter{}
	d := New(buf, vm, sub, nil, nil, nil, 0, func(o *Options) { o.Dim = 2 })

	_, err = d.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sub.snapshot())
}

func TestDrainOnceTombstonesOnDelete(t *testing.T) {
	buf := newTestBuffer(t)
	vm := versionmap.New()
	require.NoError(t, vm.EnsureCapacity(10))

	_, err := buf.Put(record.EncodeDelete(7))
	require.NoError(t, err)

	sub := &fakeSubmitter{}
	d := New(buf, vm, sub, nil, nil, nil, 0, func(o *Options) { o.Dim = 2 })

	_, err = d.drainOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, vm.IsTombstoned(7))
}

func TestRunStopsCleanly(t *testing.T) {
	buf := newTestBuffer(t)
	vm := versionmap.New()
	sub := &fakeSubmitter{}
	d := New(buf, vm, sub, nil, nil, nil, 0, func(o *Options) { o.Dim = 2; o.IdleSleep = 5 * time.Millisecond })

	ctx := context.Background()
	go d.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	d.Stop()
}

type fakeCompactor struct {
	mu   sync.Mutex
	hids []uint32
}

func (f *fakeCompactor) MaybeCompact(hid uint32, _ float32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hids = append(f.hids, hid)
	return false, nil
}

func (f *fakeCompactor) snapshot() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, len(f.hids))
	copy(out, f.hids)
	return out
}

type fakeHeadLister struct{ heads []uint32 }

func (f *fakeHeadLister) Heads() []uint32 { return f.heads }

func TestRunSweepsCompactionJanitorOnInterval(t *testing.T) {
	buf := newTestBuffer(t)
	vm := versionmap.New()
	sub := &fakeSubmitter{}
	compactor := &fakeCompactor{}
	heads := &fakeHeadLister{heads: []uint32{1, 2, 3}}

	d := New(buf, vm, sub, compactor, heads, nil, 0, func(o *Options) {
		o.Dim = 2
		o.IdleSleep = 5 * time.Millisecond
		o.CompactInterval = 10 * time.Millisecond
	})

	ctx := context.Background()
	go d.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	d.Stop()

	assert.NotEmpty(t, compactor.snapshot())
}

func TestRunNeverSweepsWhenCompactorNil(t *testing.T) {
	buf := newTestBuffer(t)
	vm := versionmap.New()
	sub := &fakeSubmitter{}
	d := New(buf, vm, sub, nil, nil, nil, 0, func(o *Options) {
		o.Dim = 2
		o.IdleSleep = 5 * time.Millisecond
		o.CompactInterval = 10 * time.Millisecond
	})

	ctx := context.Background()
	go d.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	d.Stop()
}
