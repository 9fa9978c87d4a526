package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

var ErrLockTimeout = errors.New("thread lock not acquired")

// Locker serializes runs per thread id. The returned release func must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, threadID string) (release func(), err error)
}

/* --------------------------------- local --------------------------------- */

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// LocalLocker is an in-process keyed mutex. Waiters queue in FIFO order and
// give up when their context ends.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*lockEntry)}
}

func (l *LocalLocker) Acquire(ctx context.Context, threadID string) (func(), error) {
	if _, err := threadKey("", threadID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	e, ok := l.entries[threadID]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[threadID] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.unref(threadID, e)
		return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, threadID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(threadID, e)
		})
	}, nil
}

func (l *LocalLocker) unref(threadID string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, threadID)
	}
}

func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

/* --------------------------------- redis --------------------------------- */

const (
	defaultLockPrefix = "hcp:lock:"
	defaultLockTTL    = 2 * time.Minute
	defaultLockPoll   = 50 * time.Millisecond
	lockGrace         = 30 * time.Second
)

const releaseLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

var releaseScript = redis.NewScript(releaseLua)

// LockTTLFor returns a lock expiry that outlives a turn bounded by
// turnTimeout, so a lock only expires under a crashed holder.
func LockTTLFor(turnTimeout time.Duration) time.Duration {
	if turnTimeout <= 0 {
		return defaultLockTTL
	}
	return turnTimeout + lockGrace
}

// RedisLocker is a token lock shared by every process using the same Redis.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{
		client: client,
		prefix: defaultLockPrefix,
		ttl:    ttl,
		poll:   defaultLockPoll,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, threadID string) (func(), error) {
	key, err := threadKey(l.prefix, threadID)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, threadID, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must outlive a cancelled turn context.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
		})
	}, nil
}

/* -------------------------------- upstash -------------------------------- */

// UpstashLocker is the RedisLocker protocol spoken over the Upstash REST
// API, so instances sharing an Upstash database serialize the same thread.
type UpstashLocker struct {
	store  *UpstashRedisStore
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

func NewUpstashLocker(store *UpstashRedisStore, ttl time.Duration) *UpstashLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &UpstashLocker{
		store:  store,
		prefix: defaultLockPrefix,
		ttl:    ttl,
		poll:   defaultLockPoll,
	}
}

func (l *UpstashLocker) Acquire(ctx context.Context, threadID string) (func(), error) {
	key, err := threadKey(l.prefix, threadID)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		resp, err := l.store.exec(ctx, []any{"SET", key, token, "NX", "PX", l.ttl.Milliseconds()})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, threadID, ctx.Err())
			}
			return nil, fmt.Errorf("upstash lock %s: %w", key, err)
		}
		if string(bytes.TrimSpace(resp.Result)) == `"OK"` {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, threadID, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_, _ = l.store.exec(rctx, []any{"EVAL", releaseLua, 1, key, token})
		})
	}, nil
}
