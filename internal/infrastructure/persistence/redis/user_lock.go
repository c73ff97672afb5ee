package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only if this holder still owns the lock.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// lockBackend is the storage side of the lock.
type lockBackend interface {
	acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

type redisBackend struct {
	client *redis.Client
}

func (b redisBackend) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, key, token, ttl).Result()
}

func (b redisBackend) extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, b.client, []string{key}, token, ttl.Milliseconds()).Int()
	return n == 1, err
}

func (b redisBackend) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, b.client, []string{key}, token).Err()
}

// UserLocker serializes pipeline work per user across processes with
// SET NX PX. While held, the lock is renewed every third of its TTL, so it
// only expires when the holder dies.
type UserLocker struct {
	backend lockBackend
	ttl     time.Duration
	poll    time.Duration
	logger  *slog.Logger
}

// NewUserLocker creates a distributed per-user lock.
func NewUserLocker(cache *Cache, log *slog.Logger) *UserLocker {
	return &UserLocker{
		backend: redisBackend{client: cache.Client()},
		ttl:     TTLUserLock,
		poll:    25 * time.Millisecond,
		logger:  logger.OrDefault(log).With(logger.Component("user_lock")),
	}
}

// Lock blocks until the user's lock is acquired or ctx is done.
func (l *UserLocker) Lock(ctx context.Context, userID shared.UserID) (func(), error) {
	key := LockKey(string(userID))
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.backend.acquire(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock for %s: %w", userID, err)
		}
		if ok {
			return l.hold(userID, key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// hold renews the lock until the returned func is called.
func (l *UserLocker) hold(userID shared.UserID, key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			ok, err := l.backend.extend(ctx, key, token, l.ttl)
			cancel()
			switch {
			case err != nil:
				l.logger.Warn("lock renewal failed", logger.UserID(string(userID)), logger.Err(err))
			case !ok:
				l.logger.Error("lock lost while held", logger.UserID(string(userID)))
				return
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		// Released with a fresh context: the caller's may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.backend.release(ctx, key, token)
	}
}
