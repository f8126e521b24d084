package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the dispatcher buffer has no room.
	ErrQueueFull = errors.New("events: queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("events: dispatcher closed")
)

// DispatcherOptions configures Dispatcher.
type DispatcherOptions struct {
	Buffer         int
	Workers        int
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	// Observe is called once per event with "delivered", "failed" or "dropped".
	Observe func(eventType, result string)
}

// Dispatcher decouples callers from the transport: Publish enqueues and returns, workers
// deliver with bounded retries.
type Dispatcher struct {
	next   Publisher
	opts   DispatcherOptions
	logger *zap.Logger

	queue  chan Event
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher and starts its workers.
func NewDispatcher(next Publisher, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		next:   next,
		opts:   opts,
		logger: logger,
		queue:  make(chan Event, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Publish implements Publisher without blocking on the transport.
func (d *Dispatcher) Publish(_ context.Context, evt Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		d.observe(evt.Type, "dropped")
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for evt := range d.queue {
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt Event) {
	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.AttemptTimeout)
		err = d.next.Publish(ctx, evt)
		cancel()
		if err == nil {
			d.observe(evt.Type, "delivered")
			return
		}
		if attempt < d.opts.MaxAttempts {
			time.Sleep(d.opts.Backoff * time.Duration(attempt))
		}
	}
	d.observe(evt.Type, "failed")
	d.logger.Warn("event delivery failed",
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type),
		zap.Int("attempts", d.opts.MaxAttempts),
		zap.Error(err),
	)
}

func (d *Dispatcher) observe(eventType, result string) {
	if d.opts.Observe != nil {
		d.opts.Observe(eventType, result)
	}
}
