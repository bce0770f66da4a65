package repository

import (
	"context"
	"sync"

	"github.com/taskmaster/taskpad/internal/ports"
)

// MemoryStore keeps blobs in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}}
}

var _ ports.BlobStore = (*MemoryStore)(nil)

func (s *MemoryStore) Load(_ context.Context, namespace string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[namespace]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (s *MemoryStore) Save(_ context.Context, namespace string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[namespace] = append([]byte(nil), blob...)
	return nil
}
