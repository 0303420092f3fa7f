package blob

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests. FailPuts makes every Put fail,
// to exercise the no-partial-commit guarantee around storage outages.
type MemStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	FailPuts bool
}

func NewMemStore() *MemStore {
	return &MemStore{objects: map[string][]byte{}}
}

func (s *MemStore) Put(ctx context.Context, data []byte, pathHint string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts {
		return "", fmt.Errorf("blob store: put failed")
	}
	ref := path.Join(pathHint, uuid.New().String()+".zip")
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[ref] = cp
	return ref, nil
}

func (s *MemStore) SignedURL(ref string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[ref]; !ok {
		return "", ErrNotFound
	}
	return "mem://" + ref, nil
}

// Len reports the number of stored objects.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
