package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

var ErrLockNotObtained = errors.New("could not obtain lock")

// keyLockEntry holds a one-slot semaphore so waiters can give up on ctx.
type keyLockEntry struct {
	sem  chan struct{}
	refs int
}

// KeyLocker serializes writers per key. Inside one process a mutex per key is
// enough; when a redislock client is supplied the key is also locked in redis
// so several API instances writing the same composite key queue up.
type KeyLocker struct {
	mu      sync.Mutex
	entries map[string]*keyLockEntry

	redisLock *redislock.Client
	prefix    string
	ttl       time.Duration
	retry     redislock.RetryStrategy
}

func NewKeyLocker(redisLock *redislock.Client) *KeyLocker {
	return &KeyLocker{
		entries:   map[string]*keyLockEntry{},
		redisLock: redisLock,
		prefix:    "budgetLock",
		ttl:       30 * time.Second,
		retry:     redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	}
}

// Lock blocks until key is held or ctx is done, and returns the matching
// unlock func.
func (l *KeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyLockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.forget(key, entry)
		return nil, ctx.Err()
	}

	var lock *redislock.Lock
	if l.redisLock != nil {
		var err error
		lock, err = l.redisLock.Obtain(ctx, fmt.Sprintf("%s:%s", l.prefix, key), l.ttl, &redislock.Options{
			RetryStrategy: l.retry,
		})
		if err != nil {
			l.release(key, entry)
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
			}
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if lock != nil {
				_ = lock.Release(context.Background())
			}
			l.release(key, entry)
		})
	}, nil
}

func (l *KeyLocker) release(key string, entry *keyLockEntry) {
	<-entry.sem
	l.forget(key, entry)
}

func (l *KeyLocker) forget(key string, entry *keyLockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}
