package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/exchange/brokerage/pkg/logger"
	"github.com/exchange/brokerage/pkg/redis"
)

// Locker 按资产串行化撮合
type Locker interface {
	// Lock 阻塞直到获得 key 的锁或 ctx 结束，返回的 unlock 必须调用
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker 进程内按 key 互斥
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, lk, true) })
	}, nil
}

func (l *LocalLocker) release(key string, lk *localLock, held bool) {
	if held {
		<-lk.ch
	}
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockRetry = 20 * time.Millisecond
	lockKeyPrefix    = "brokerage:match-lock:"
)

// RedisLocker 多实例部署时的分布式锁
type RedisLocker struct {
	client goredis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

// NewRedisLocker ttl 需大于单次撮合耗时
func NewRedisLocker(client goredis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisLocker{client: client, ttl: ttl, retry: defaultLockRetry, log: log}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock := redis.NewLock(l.client, lockKeyPrefix+key, uuid.NewString(), l.ttl)

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire match lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			l.log.WithError(err).Warnf("release match lock failed", logger.Fields{"key": lock.Key()})
		}
	}, nil
}
