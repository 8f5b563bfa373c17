// Package kv implements the "large-value KV store" variant of
// backend.KeyValueIO described in spec section 6. MemoryStore and
// LocalStore are grounded on blobstore/memory.go and blobstore/local.go
// generalized from read-only blob access to the get/put/append/delete/
// multi-get contract a mutable posting store needs; Store (S3) and the
// MinIO variant wrap the teacher's existing blobstore/s3 and
// blobstore/minio object stores with read-modify-write append semantics,
// since neither S3 nor MinIO support a true server-side byte append.
package kv

import (
	"context"
	"sync"
	"time"

	"github.com/spann-db/spann/backend"
)

// MemoryStore is an in-memory KeyValueIO, primarily for tests and for the
// dispatcher/append-pool unit tests that don't want real IO in the loop.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[uint32][]byte
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[uint32][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, backend.ErrHeadMissing
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, key uint32, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	s.data[key] = buf
	return nil
}

func (s *MemoryStore) AppendPosting(_ context.Context, hid uint32, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[hid] = append(s.data[hid], b...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) MultiGet(ctx context.Context, keys []uint32, deadline time.Duration) (map[uint32][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	out := make(map[uint32][]byte, len(keys))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		select {
		case <-ctx.Done():
			return out, nil
		default:
		}
		if v, ok := s.data[k]; ok {
			buf := make([]byte, len(v))
			copy(buf, v)
			out[k] = buf
		}
	}
	return out, nil
}
