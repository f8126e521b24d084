package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "P1", time.Second, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("with lock: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder, got %d", maxInside)
	}
	if locker.Len() != 0 {
		t.Fatalf("expected slots to be released, got %d", locker.Len())
	}
}

func TestLocalLockerTimesOutWithErrBusy(t *testing.T) {
	locker := NewLocalLocker()
	held := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "P1", time.Second, func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	start := time.Now()
	err := locker.WithLock(context.Background(), "P1", 30*time.Millisecond, func(context.Context) error {
		t.Fatalf("fn must not run while lock is held")
		return nil
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected to wait for the timeout")
	}

	if err := locker.WithLock(context.Background(), "P2", 30*time.Millisecond, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("other keys must not be blocked: %v", err)
	}
	close(done)
}

func TestLocalLockerReleasesOnErrorAndPanic(t *testing.T) {
	locker := NewLocalLocker()
	boom := errors.New("boom")

	if err := locker.WithLock(context.Background(), "P1", time.Second, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = locker.WithLock(context.Background(), "P1", time.Second, func(context.Context) error { panic("fault") })
	}()

	if err := locker.WithLock(context.Background(), "P1", 20*time.Millisecond, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected lock to be free after error and panic, got %v", err)
	}
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), "P1", time.Second, func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := locker.WithLock(ctx, "P1", time.Second, func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithObserverReportsOutcome(t *testing.T) {
	var mu sync.Mutex
	var outcomes []error
	locker := WithObserver(NewLocalLocker(), func(_ time.Duration, err error) {
		mu.Lock()
		outcomes = append(outcomes, err)
		mu.Unlock()
	})

	if err := locker.WithLock(context.Background(), "P1", time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("with lock: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := locker.(*observed).next
	_ = inner.WithLock(context.Background(), "P1", time.Second, func(context.Context) error {
		_ = locker.WithLock(ctx, "P1", 10*time.Millisecond, func(context.Context) error { return nil })
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(outcomes))
	}
	if outcomes[0] != nil || outcomes[1] == nil {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}
