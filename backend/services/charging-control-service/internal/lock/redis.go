package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const releaseTimeout = 2 * time.Second

// RedisLocker is a lease-based lock shared by every instance using the same Redis.
// A crashed holder loses the lock when its lease expires.
type RedisLocker struct {
	client *redis.Client
	prefix string
	lease  time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// RedisOptions configures RedisLocker.
type RedisOptions struct {
	Prefix       string
	Lease        time.Duration
	PollInterval time.Duration
}

// NewRedisLocker builds a locker on client.
func NewRedisLocker(client *redis.Client, opts RedisOptions, logger *zap.Logger) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "lock:"
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 25 * time.Millisecond
	}
	return &RedisLocker{
		client: client,
		prefix: opts.Prefix,
		lease:  opts.Lease,
		poll:   opts.PollInterval,
		logger: logger,
	}
}

// WithLock implements Locker. The context passed to fn ends when the lease does, so work that
// outlives the lease is cancelled instead of running unprotected.
func (l *RedisLocker) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	redisKey := l.prefix + key
	token := uuid.NewString()
	acquiredAt, err := l.acquire(ctx, redisKey, token, timeout)
	if err != nil {
		return err
	}
	defer l.release(redisKey, token)

	leaseCtx, cancel := leaseContext(ctx, acquiredAt, l.lease)
	defer cancel()
	return fn(leaseCtx)
}

// leaseContext bounds ctx by a lease granted at acquiredAt.
func leaseContext(ctx context.Context, acquiredAt time.Time, lease time.Duration) (context.Context, context.CancelFunc) {
	return context.WithDeadline(ctx, acquiredAt.Add(lease))
}

// acquire polls SET NX until it succeeds or timeout elapses. It returns the time of the
// successful attempt, which is no later than the start of the lease.
func (l *RedisLocker) acquire(ctx context.Context, key, token string, timeout time.Duration) (time.Time, error) {
	deadline := time.Now().Add(timeout)
	for {
		attempt := time.Now()
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			return attempt, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Time{}, ErrBusy
		}
		wait := l.poll
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
	}
}
