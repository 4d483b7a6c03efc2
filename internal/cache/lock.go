package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work on a single key across goroutines (and, for the Redis
// implementation, across processes). The returned release func must be called.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

var ErrLockTimeout = errors.New("cache: timed out waiting for lock")

const (
	lockPrefix   = "lock:"
	lockTTL      = 30 * time.Second
	lockRetry    = 25 * time.Millisecond
	lockMaxWait  = 10 * time.Second
	releaseDelay = time.Second
)

// Release only deletes the key while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLocker struct {
	cache *Cache
	ttl   time.Duration
	wait  time.Duration
}

func NewRedisLocker(c *Cache) *RedisLocker {
	return &RedisLocker{cache: c, ttl: lockTTL, wait: lockMaxWait}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	key = lockPrefix + key

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-time.After(lockRetry):
		}
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseDelay)
		defer cancel()
		_ = releaseScript.Run(rctx, l.cache.client, []string{key}, token).Err()
	}, nil
}

// LocalLocker is an in-process keyed mutex, used when Redis is not configured
// and in tests.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
