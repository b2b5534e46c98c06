package conversation

import (
	"context"
	"sync"

	"github.com/PabloGalante/parrot-api/internal/domain"
)

// threadLocks hands out one exclusive section per thread id. Entries are
// removed once nobody holds or waits for them, so the map only grows with
// concurrent threads, not with every thread ever seen.
type threadLocks struct {
	mu    sync.Mutex
	locks map[domain.ThreadID]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[domain.ThreadID]*threadLock)}
}

// Lock blocks until the thread's section is free or ctx is done.
func (l *threadLocks) Lock(ctx context.Context, id domain.ThreadID) (unlock func(), err error) {
	l.mu.Lock()
	tl, ok := l.locks[id]
	if !ok {
		tl = &threadLock{ch: make(chan struct{}, 1)}
		l.locks[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, tl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-tl.ch
			l.release(id, tl)
		})
	}, nil
}

func (l *threadLocks) release(id domain.ThreadID, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
