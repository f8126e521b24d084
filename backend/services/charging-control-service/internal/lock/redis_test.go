package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLockerExclusiveAndReleased(t *testing.T) {
	client := newTestRedis(t)
	locker := NewRedisLocker(client, RedisOptions{Prefix: "test:lock:" + time.Now().Format("150405.000000") + ":"}, zap.NewNop())

	err := locker.WithLock(context.Background(), "P1", time.Second, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "P1", 50*time.Millisecond, func(context.Context) error { return nil })
		if !errors.Is(inner, ErrBusy) {
			t.Fatalf("expected ErrBusy while held, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}

	if err := locker.WithLock(context.Background(), "P1", 50*time.Millisecond, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected lock released, got %v", err)
	}
}

func TestLeaseContextEndsWithLease(t *testing.T) {
	acquired := time.Now()
	ctx, cancel := leaseContext(context.Background(), acquired, 40*time.Millisecond)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok || !deadline.Equal(acquired.Add(40*time.Millisecond)) {
		t.Fatalf("expected deadline at lease end, got %v ok=%v", deadline, ok)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context outlived the lease")
	}

	parent, stop := context.WithCancel(context.Background())
	ctx, cancel = leaseContext(parent, time.Now(), time.Hour)
	defer cancel()
	stop()
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatalf("expected parent cancellation to propagate, got %v", ctx.Err())
	}
}

func TestRedisLockerBoundsWorkByLease(t *testing.T) {
	client := newTestRedis(t)
	lease := 200 * time.Millisecond
	locker := NewRedisLocker(client, RedisOptions{Prefix: "test:lease:" + time.Now().Format("150405.000000") + ":", Lease: lease}, zap.NewNop())

	begin := time.Now()
	err := locker.WithLock(context.Background(), "P1", time.Second, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok || deadline.After(begin.Add(lease).Add(50*time.Millisecond)) {
			t.Errorf("expected deadline within lease, got %v ok=%v", deadline, ok)
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected work to be cut at lease end, got %v", err)
	}
}
