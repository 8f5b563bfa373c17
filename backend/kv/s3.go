package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/spann-db/spann/backend"
	"github.com/spann-db/spann/resource"
)

// S3Store implements backend.KeyValueIO over an S3 bucket. Each HID is one
// object, keyed by decimal id under prefix. Grounded on the client usage
// in blobstore/s3/s3_store.go; this is a sibling implementation rather
// than a reuse of blobstore.Store, because the KeyValueIO contract needs
// mutable append semantics that BlobStore's immutable-blob API doesn't
// model. S3 has no native append, so AppendPosting does a read-modify-
// write under a per-key mutex (acceptable for posting-list append rates,
// not for hot block-storage traffic — that's what backend/ssdblock is
// for).
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	rc     *resource.Controller

	mu      sync.Mutex
	keyLock map[uint32]*sync.Mutex
}

// NewS3Store creates an S3-backed KeyValueIO.
func NewS3Store(client *s3.Client, bucket, prefix string, rc *resource.Controller) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, rc: rc, keyLock: make(map[uint32]*sync.Mutex)}
}

func (s *S3Store) key(k uint32) string {
	return s.prefix + strconv.FormatUint(uint64(k), 10)
}

func (s *S3Store) lockFor(key uint32) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.keyLock[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLock[key] = l
	}
	return l
}

func (s *S3Store) Get(ctx context.Context, key uint32) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, backend.ErrHeadMissing
		}
		return nil, fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
	}
	return b, nil
}

func (s *S3Store) Put(ctx context.Context, key uint32, value []byte) error {
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
	}
	return nil
}

func (s *S3Store) AppendPosting(ctx context.Context, hid uint32, b []byte) error {
	l := s.lockFor(hid)
	l.Lock()
	defer l.Unlock()

	existing, err := s.Get(ctx, hid)
	if err != nil && !errors.Is(err, backend.ErrHeadMissing) {
		return err
	}
	return s.Put(ctx, hid, append(existing, b...))
}

func (s *S3Store) Delete(ctx context.Context, key uint32) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrBackendIO, err)
	}
	return nil
}

func (s *S3Store) MultiGet(ctx context.Context, keys []uint32, deadline time.Duration) (map[uint32][]byte, error) {
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
