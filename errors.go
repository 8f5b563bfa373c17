package spann

import (
	"context"
	"errors"
	"fmt"

	"github.com/spann-db/spann/backend"
	"github.com/spann-db/spann/versionmap"
)

// ErrEmptyIndex is returned when an operation is attempted before the
// index's build/open phase has completed (spec section 7).
var ErrEmptyIndex = errors.New("spann: index is empty")

// ErrEmptyData indicates AddIndex was called with a zero-length payload
// (spec section 7).
var ErrEmptyData = errors.New("spann: empty vector data")

// ErrNotFound is returned when a VID has no live entry in the version map.
var ErrNotFound = errors.New("spann: vid not found")

// ErrClosed is returned by any Index method called after Close.
var ErrClosed = errors.New("spann: index is closed")

// ErrMemoryOverflow wraps versionmap.ErrMemoryOverflow at the public API
// boundary. Per spec section 7 this is fatal: the caller should abort the
// process rather than continue with a version map that cannot represent
// every live vector.
type ErrMemoryOverflow struct {
	cause error
}

func (e *ErrMemoryOverflow) Error() string { return fmt.Sprintf("spann: memory overflow: %v", e.cause) }
func (e *ErrMemoryOverflow) Unwrap() error { return e.cause }

// ErrBackendIO wraps a persistent (post-retry) backend failure (spec
// section 7's BackendIO policy: append pool logs and retries once, then
// surfaces).
type ErrBackendIO struct {
	cause error
}

func (e *ErrBackendIO) Error() string { return fmt.Sprintf("spann: backend io: %v", e.cause) }
func (e *ErrBackendIO) Unwrap() error { return e.cause }

// ErrDeadlineExceeded indicates a read returned only a partial result set
// because the backend multi-get deadline elapsed (spec section 7). It
// wraps the partial error but the caller still receives whatever results
// came back alongside it.
type ErrDeadlineExceeded struct {
	cause error
}

func (e *ErrDeadlineExceeded) Error() string {
	return fmt.Sprintf("spann: deadline exceeded: %v", e.cause)
}
func (e *ErrDeadlineExceeded) Unwrap() error { return e.cause }

// translateError maps internal sentinel/typed errors from buffer,
// dispatcher, appendpool, splitengine, reassignpool, and search into the
// public taxonomy above. FailSplit and HeadMissing are deliberately never
// translated: spec section 7 treats them as internal-only control signals
// that never cross the API boundary.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, versionmap.ErrMemoryOverflow) {
		return &ErrMemoryOverflow{cause: err}
	}
	if errors.Is(err, backend.ErrBackendIO) {
		return &ErrBackendIO{cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrDeadlineExceeded{cause: err}
	}
	return err
}
