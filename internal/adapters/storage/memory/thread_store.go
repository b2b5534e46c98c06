package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/parrot-api/internal/domain"
)

// ThreadStore keeps every thread's history in process memory. It is NOT
// persistent and never evicts; it lives as long as the process.
type ThreadStore struct {
	mu      sync.RWMutex
	threads map[domain.ThreadID][]*domain.Message
}

func NewThreadStore() *ThreadStore {
	return &ThreadStore{
		threads: make(map[domain.ThreadID][]*domain.Message),
	}
}

func (s *ThreadStore) Append(_ context.Context, id domain.ThreadID, msgs ...*domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads[id] = append(s.threads[id], msgs...)
	return nil
}

func (s *ThreadStore) GetHistory(_ context.Context, id domain.ThreadID) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.threads[id]
	out := make([]*domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *ThreadStore) CountThreads(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.threads), nil
}
