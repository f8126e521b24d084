// Package lock provides exclusive, timeout-bounded ownership of a named resource.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrBusy is returned when the lock could not be acquired before the timeout.
var ErrBusy = errors.New("lock: resource busy")

// Locker runs fn while holding the lock for key. The lock is released on every exit
// path of fn, including panics, before WithLock returns.
type Locker interface {
	WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error
}

// Observer receives the time spent waiting for a lock and the acquisition outcome.
type Observer func(waited time.Duration, err error)

type observed struct {
	next Locker
	obs  Observer
}

// WithObserver reports acquisition latency of next to obs.
func WithObserver(next Locker, obs Observer) Locker {
	if obs == nil {
		return next
	}
	return &observed{next: next, obs: obs}
}

func (o *observed) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	begin := time.Now()
	reported := false
	err := o.next.WithLock(ctx, key, timeout, func(ctx context.Context) error {
		reported = true
		o.obs(time.Since(begin), nil)
		return fn(ctx)
	})
	if !reported {
		o.obs(time.Since(begin), err)
	}
	return err
}
