package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/pkg/logger"
)

// fakeBackend keeps lock owners and expiries in memory.
type fakeBackend struct {
	mu      sync.Mutex
	owner   map[string]string
	expires map[string]time.Time
	extends int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{owner: map[string]string{}, expires: map[string]time.Time{}}
}

func (b *fakeBackend) expireLocked(key string) {
	if exp, ok := b.expires[key]; ok && time.Now().After(exp) {
		delete(b.owner, key)
		delete(b.expires, key)
	}
}

func (b *fakeBackend) acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked(key)
	if _, held := b.owner[key]; held {
		return false, nil
	}
	b.owner[key] = token
	b.expires[key] = time.Now().Add(ttl)
	return true, nil
}

func (b *fakeBackend) extend(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked(key)
	if b.owner[key] != token {
		return false, nil
	}
	b.expires[key] = time.Now().Add(ttl)
	b.extends++
	return true, nil
}

func (b *fakeBackend) release(_ context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner[key] == token {
		delete(b.owner, key)
		delete(b.expires, key)
	}
	return nil
}

func (b *fakeBackend) extendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extends
}

func newTestLocker(b lockBackend, ttl time.Duration) *UserLocker {
	return &UserLocker{backend: b, ttl: ttl, poll: 5 * time.Millisecond, logger: logger.Discard()}
}

func TestUserLocker_HeldPastTTLWhileWorking(t *testing.T) {
	b := newFakeBackend()
	l := newTestLocker(b, 60*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)

	// Work outlasts several TTLs; the renewals keep others out.
	time.Sleep(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, b.extendCount(), 2)

	unlock()
	again, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	again()
}

func TestUserLocker_RenewalStopsOnUnlock(t *testing.T) {
	b := newFakeBackend()
	l := newTestLocker(b, 30*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	unlock()

	n := b.extendCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, b.extendCount())
}

func TestUserLocker_UsersDoNotBlockEachOther(t *testing.T) {
	l := newTestLocker(newFakeBackend(), time.Second)

	u1, err := l.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer u1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	u2, err := l.Lock(ctx, "u2")
	require.NoError(t, err)
	u2()
}
