package inmemory

import (
	"context"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//BlobStorage keeps artifacts in process memory, used in development mode and
//by tests
type BlobStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

//NewBlobStorage creates a new in-memory blob provider
func NewBlobStorage() *BlobStorage {
	return &BlobStorage{blobs: make(map[string][]byte)}
}

//Put stores a payload and returns its artifact reference
func (s *BlobStorage) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", medical.WrapTimeout("blob put", err)
	}
	ref := uuid.NewV4().String()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.blobs[ref] = cp
	s.mu.Unlock()
	return ref, nil
}

//Get returns a stored payload
func (s *BlobStorage) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, medical.WrapTimeout("blob get", err)
	}
	s.mu.RLock()
	data, ok := s.blobs[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, &medical.NotFoundError{Kind: "artifact", ID: ref}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

//Delete removes a stored payload
func (s *BlobStorage) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return medical.WrapTimeout("blob delete", err)
	}
	s.mu.Lock()
	delete(s.blobs, ref)
	s.mu.Unlock()
	return nil
}

//Len returns the number of stored artifacts
func (s *BlobStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

//Close cleans up any external resources
func (s *BlobStorage) Close() {
}
