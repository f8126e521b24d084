package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/clients"
	"evcsms/backend/services/charging-control-service/internal/events"
	"evcsms/backend/services/charging-control-service/internal/lock"
	"evcsms/backend/services/charging-control-service/internal/pricing"
	"evcsms/backend/services/charging-control-service/internal/repository/memstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) at(hour, minute int) time.Time {
	return time.Date(2030, 1, 1, hour, minute, 0, 0, time.UTC)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (p *fakePublisher) last(eventType string) (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			return p.events[i], true
		}
	}
	return events.Event{}, false
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []clients.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, msg clients.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *fakeNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Type)
	}
	return out
}

type fixedRate pricing.Rate

func (r fixedRate) RateForPoint(context.Context, string) (pricing.Rate, error) {
	return pricing.Rate(r), nil
}

type env struct {
	clock        *testClock
	store        *memstore.Store
	pub          *fakePublisher
	notifier     *fakeNotifier
	reservations *ReservationService
	waitlist     *WaitlistService
	tokens       *TokenService
	sessions     *SessionService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := newTestClock()
	store := memstore.New()
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}
	out := Outbound{Publisher: pub, Notifier: notifier}
	logger := zap.NewNop()

	reservations := NewReservationService(store.Reservations(), store.Sessions(), lock.NewLocalLocker(), out, ReservationConfig{
		LockTimeout:  time.Second,
		RetryBackoff: 10 * time.Millisecond,
		Now:          clock.Now,
	}, logger)
	tokens := NewTokenService(store.AccessTokens(), store.Reservations(), out, TokenConfig{
		BaseURL: "https://charge.test/qr/",
		Now:     clock.Now,
	}, logger)
	sessions := NewSessionService(store.Sessions(), store.Telemetry(), reservations, tokens,
		fixedRate{PerKWh: 3000, Currency: "KZT"}, out, SessionConfig{
			DefaultTelemetryLimit: 3,
			MaxTelemetryLimit:     5,
			Now:                   clock.Now,
		}, logger)

	return &env{
		clock:        clock,
		store:        store,
		pub:          pub,
		notifier:     notifier,
		reservations: reservations,
		waitlist:     NewWaitlistService(store.Waitlist(), out, clock.Now, logger),
		tokens:       tokens,
		sessions:     sessions,
	}
}

func (e *env) book(t *testing.T, user, point string, start, end time.Time) string {
	t.Helper()
	res, err := e.reservations.Create(context.Background(), CreateReservationInput{
		UserID:        user,
		StationID:     "st-1",
		PointID:       point,
		ConnectorType: "CCS2",
		StartTime:     start,
		EndTime:       end,
	})
	if err != nil {
		t.Fatalf("book %s-%s: %v", start.Format("15:04"), end.Format("15:04"), err)
	}
	return res.ID
}
