package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/stock"
)

// RedisLocker takes one redislock lease per key. Waiting is bounded by
// ctx and by WaitTimeout; a lease expires after TTL if the holder dies.
type RedisLocker struct {
	client      *redislock.Client
	ttl         time.Duration
	waitTimeout time.Duration
	retry       time.Duration
	log         *zap.Logger
}

type RedisOptions struct {
	TTL         time.Duration
	WaitTimeout time.Duration
	RetryEvery  time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, opts RedisOptions, log *zap.Logger) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 10 * time.Second
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = 50 * time.Millisecond
	}
	return &RedisLocker{
		client:      redislock.New(rdb),
		ttl:         opts.TTL,
		waitTimeout: opts.WaitTimeout,
		retry:       opts.RetryEvery,
		log:         log,
	}
}

func (r *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	opt := &redislock.Options{RetryStrategy: redislock.LinearBackoff(r.retry)}
	held := make([]*redislock.Lock, 0, len(keys))
	for _, key := range keys {
		lock, err := r.client.Obtain(waitCtx, key, r.ttl, opt)
		if err != nil {
			r.release(held)
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", stock.ErrLockNotObtained, key)
			}
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lock)
	}

	return func() { r.release(held) }, nil
}

func (r *RedisLocker) release(held []*redislock.Lock) {
	// Release with a fresh context: the request context may already be done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.Warn("failed to release lock", zap.String("key", held[i].Key()), zap.Error(err))
		}
	}
}

var _ stock.Locker = (*RedisLocker)(nil)
