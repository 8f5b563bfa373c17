package kv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/spann-db/spann/backend"
	"github.com/spann-db/spann/resource"
)

// MinIOStore implements backend.KeyValueIO over a MinIO (or other
// S3-compatible) bucket, grounded on blobstore/minio/minio_store.go's
// client usage. Same read-modify-write append caveat as S3Store.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string
	rc     *resource.Controller

	mu      sync.Mutex
	keyLock map[uint32]*sync.Mutex
}

// NewMinIOStore creates a MinIO-backed KeyValueIO.
func NewMinIOStore(client *minio.Client, bucket, prefix string, rc *resource.Controller) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket, prefix: prefix, rc: rc, keyLock: make(map[uint32]*sync.Mutex)}
}

func (s *MinIOStore) key(k uint32) string {
	return s.prefix + strconv.FormatUint(uint64(k), 10)
}

func (s *MinIOStore) lockFor(key uint32) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.keyLock[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLock[key] = l
	}
	return l
}

func (s *MinIOStore) Get(ctx context.Context, key uint32) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, backend.ErrHeadMissing
		}
		return nil, fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
	}
	return b, nil
}

func (s *MinIOStore) Put(ctx context.Context, key uint32, value []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
	}
	return nil
}

func (s *MinIOStore) AppendPosting(ctx context.Context, hid uint32, b []byte) error {
	l := s.lockFor(hid)
	l.Lock()
	defer l.Unlock()

	existing, err := s.Get(ctx, hid)
	if err != nil {
		existing = nil // treat missing as empty; real error already logged upstream
	}
	return s.Put(ctx, hid, append(existing, b...))
}

func (s *MinIOStore) Delete(ctx context.Context, key uint32) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil
		}
		return fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
	}
	return nil
}

func (s *MinIOStore) MultiGet(ctx context.Context, keys []uint32, deadline time.Duration) (map[uint32][]byte, error) {
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
