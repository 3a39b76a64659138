package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
)

// InMemoryBlobStore is a thread-safe BlobStore for tests and local runs. It
// applies the same validation as FileStore but keeps plaintext.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	maxSize int64
}

func NewInMemoryBlobStore(maxSize int64) *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs:   make(map[string][]byte),
		maxSize: maxSize,
	}
}

func (s *InMemoryBlobStore) Put(_ context.Context, fileName string, content io.Reader) (*BlobMetadata, error) {
	p, err := prepare(fileName, content, s.maxSize)
	if err != nil {
		return nil, err
	}
	p.meta.Key = "mem/" + uuid.NewString()

	s.mu.Lock()
	s.blobs[p.meta.Key] = p.data
	s.mu.Unlock()

	return &p.meta, nil
}

func (s *InMemoryBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len reports how many blobs are stored.
func (s *InMemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Corrupt overwrites a stored blob, for integrity tests.
func (s *InMemoryBlobStore) Corrupt(key string, data []byte) {
	s.mu.Lock()
	s.blobs[key] = data
	s.mu.Unlock()
}
