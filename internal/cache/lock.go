package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired 等待超时仍未获得锁
var ErrLockNotAcquired = errors.New("lock not acquired")

// unlockScript 仅当值匹配时删除，避免误删他人持有的锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 按键互斥
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// NewLocker Redis 启用时返回分布式锁，否则返回进程内锁
func NewLocker(store *Store, ttl time.Duration) Locker {
	if store.Enabled() {
		return NewRedisLocker(store, ttl)
	}
	return NewKeyedMutex()
}

// RedisLocker 基于 SET NX PX 的分布式锁
type RedisLocker struct {
	store      *Store
	ttl        time.Duration
	retryDelay time.Duration
}

// NewRedisLocker 创建分布式锁
func NewRedisLocker(store *Store, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{store: store, ttl: ttl, retryDelay: 25 * time.Millisecond}
}

// Lock 获取锁，直到 ctx 结束
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	client := l.store.Client()
	if client == nil {
		return func() {}, nil
	}
	fullKey := l.store.buildKey("lock:" + key)
	token := uuid.NewString()
	for {
		ok, err := client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// 释放不受调用方 ctx 影响
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = unlockScript.Run(releaseCtx, client, []string{fullKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}
}

// KeyedMutex 进程内按键互斥
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex 创建进程内锁
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock 获取锁，直到 ctx 结束
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, entry)
		return nil, errors.Join(ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			m.drop(key, entry)
		})
	}, nil
}

func (m *KeyedMutex) drop(key string, entry *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
}
