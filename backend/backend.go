// Package backend defines the Block/KV Backend contract from spec section
// 2 item 1 and section 6 ("Backend contract (KeyValueIO)"). Concrete
// backends — either a large-value KV store or a direct-attached SSD block
// allocator — live in backend/kv and backend/ssdblock; both satisfy
// KeyValueIO so the rest of the update engine is generic over the
// capability set, per spec section 9's "virtual backend base class ->
// capability set" re-architecting note.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrHeadMissing signals that a head's posting key does not exist in the
// backend. Per spec section 7, this is not an error in the exceptional
// sense: the append path interprets it as "head no longer present" and
// routes the work to Reassign instead of surfacing a failure.
var ErrHeadMissing = errors.New("backend: head missing")

// ErrBackendIO wraps a transient backend failure. Per spec section 7,
// the append pool logs and retries once before giving up on a job.
var ErrBackendIO = errors.New("backend: io error")

// KeyValueIO is the backend contract every concrete store must satisfy.
type KeyValueIO interface {
	// Get returns the full value stored at key, or ErrHeadMissing if
	// absent.
	Get(ctx context.Context, key uint32) ([]byte, error)

	// Put writes (overwrites) the full value at key.
	Put(ctx context.Context, key uint32, value []byte) error

	// AppendPosting appends bytes to the posting stored at hid, creating
	// it if absent. Concurrent appends to the same hid are serialized by
	// the backend (spec section 5: "the backend's per-key append is
	// serialized at the backend").
	AppendPosting(ctx context.Context, hid uint32, bytes []byte) error

	// Delete removes the value stored at key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key uint32) error

	// MultiGet reads multiple keys in parallel, returning whatever
	// completed before deadline elapses. Per spec section 4.6 / 7, a
	// partial result is acceptable; MultiGet never returns
	// context.DeadlineExceeded as a fatal error, it just omits the keys
	// that didn't make it.
	MultiGet(ctx context.Context, keys []uint32, deadline time.Duration) (map[uint32][]byte, error)
}
