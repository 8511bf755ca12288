// Package lock serializes processing per conversation.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/toolbot/pkg/logger"
)

// ErrNotAcquired is returned when the lock could not be taken before ctx ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive per-key locks. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *LocalLocker) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes across replicas with SET NX and a TTL.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *logger.Logger
}

// NewRedisLocker creates a Redis-backed locker. ttl bounds how long a crashed
// holder can block the key.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		client: client,
		prefix: "toolbot:lock:",
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		logger: log.Named("lock"),
	}
}

// Lock polls until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					l.release(releaseCtx, redisKey, token)
				})
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
		}
	}
}

// release drops the key if it still holds token. A zero result means the TTL
// expired first and another holder may have run concurrently.
func (l *RedisLocker) release(ctx context.Context, redisKey, token string) {
	n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int64()
	if err != nil {
		l.logger.Warn("failed to release lock", zap.String("key", redisKey), zap.Error(err))
		return
	}
	if n == 0 {
		l.logger.Warn("lock expired before release", zap.String("key", redisKey), zap.Duration("ttl", l.ttl))
	}
}

// ChatKey builds the lock key for one conversation.
func ChatKey(botID uint, externalChatID int64) string {
	return fmt.Sprintf("bot:%d:chat:%d", botID, externalChatID)
}
