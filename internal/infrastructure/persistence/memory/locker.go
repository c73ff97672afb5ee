package memory

import (
	"context"
	"sync"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// UserLocker serializes work per user inside one process.
// Entries are reference counted and removed when the last holder leaves.
type UserLocker struct {
	mu    sync.Mutex
	locks map[shared.UserID]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewUserLocker creates a keyed mutex.
func NewUserLocker() *UserLocker {
	return &UserLocker{locks: make(map[shared.UserID]*userLock)}
}

// Lock blocks until the user's lock is held or ctx is done.
func (l *UserLocker) Lock(ctx context.Context, userID shared.UserID) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.ch
			l.release(userID, ul)
		})
	}, nil
}

func (l *UserLocker) release(userID shared.UserID, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}
