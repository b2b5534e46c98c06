package llm

import (
	"context"
	"sync"

	"github.com/PabloGalante/parrot-api/internal/domain"
)

// CachedCounter memoizes counts by message ID. Messages never change once
// stored, so a count stays valid for the life of the process.
type CachedCounter struct {
	next domain.TokenCounter

	mu     sync.RWMutex
	counts map[domain.MessageID]int
}

func NewCachedCounter(next domain.TokenCounter) *CachedCounter {
	return &CachedCounter{
		next:   next,
		counts: make(map[domain.MessageID]int),
	}
}

func (c *CachedCounter) CountTokens(ctx context.Context, m *domain.Message) (int, error) {
	if m.ID == "" {
		return c.next.CountTokens(ctx, m)
	}

	c.mu.RLock()
	n, ok := c.counts[m.ID]
	c.mu.RUnlock()
	if ok {
		return n, nil
	}

	n, err := c.next.CountTokens(ctx, m)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.counts[m.ID] = n
	c.mu.Unlock()
	return n, nil
}
