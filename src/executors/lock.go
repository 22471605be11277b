package executors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tradeexecutor/src/repository"
)

// ErrLockHeld is returned when another cycle owns the loop lock.
var ErrLockHeld = errors.New("loop lock held by another cycle")

// LockPort is the single-flight arbitration of the trading loop. Acquire
// succeeds when the lock is free or its holder is older than ttl.
type LockPort interface {
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

var (
	_ LockPort = (*repository.LoopLockRepository)(nil)
	_ LockPort = (*RedisLock)(nil)
	_ LockPort = (*MemoryLock)(nil)
)

// MemoryLock is a process local LockPort.
type MemoryLock struct {
	mu       sync.Mutex
	owner    string
	lockedAt time.Time
	now      func() time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{now: time.Now}
}

func (l *MemoryLock) Acquire(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.owner != "" && now.Sub(l.lockedAt) < ttl {
		return false, nil
	}
	l.owner, l.lockedAt = owner, now
	return true, nil
}

func (l *MemoryLock) Release(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
	return nil
}

// Deletes the key only while it still carries the caller's owner id.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLock shares the loop lock between processes through one Redis key
// whose expiry is the stale-lock timeout.
type RedisLock struct {
	rdb     *redis.Client
	key     string
	release *redis.Script
}

func NewRedisLock(rdb *redis.Client, key string) *RedisLock {
	return &RedisLock{rdb: rdb, key: key, release: redis.NewScript(releaseLua)}
}

func (l *RedisLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context, owner string) error {
	if err := l.release.Run(ctx, l.rdb, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("redis: release lock %s: %w", l.key, err)
	}
	return nil
}

// NewLock builds the LockPort selected by cfg.LockBackend.
func NewLock(cfg *Config) (LockPort, error) {
	switch cfg.LockBackend {
	case LockBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisLock(rdb, cfg.LockKey), nil
	case LockBackendDB, "":
		return repository.NewLoopLockRepository(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}
