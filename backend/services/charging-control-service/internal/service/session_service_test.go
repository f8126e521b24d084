package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evcsms/backend/services/charging-control-service/internal/events"
	"evcsms/backend/services/charging-control-service/internal/models"
)

func int64p(v int64) *int64 { return &v }

func float64p(v float64) *float64 { return &v }

func TestSessionLifecycleComputesEnergyAndCost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	resID := e.book(t, "u1", "P1", e.clock.at(9, 0), e.clock.at(10, 0))

	sess, err := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1", VehicleID: "car-7", ReservationID: resID})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if sess.Status != models.SessionInitiated || sess.EnergyKWh != nil || sess.Cost != nil {
		t.Fatalf("unexpected initiated session: %+v", sess)
	}

	if _, err := e.sessions.Start(ctx, "u1", sess.ID, int64p(1000)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.sessions.Pause(ctx, "u1", sess.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := e.sessions.Resume(ctx, "u1", sess.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	done, err := e.sessions.Stop(ctx, "u1", StopInput{SessionID: sess.ID, EndMeterWh: int64p(4500)})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if done.Status != models.SessionFinished || done.EndedAt == nil {
		t.Fatalf("expected finished session, got %+v", done)
	}
	if done.EnergyKWh == nil || *done.EnergyKWh != 3.5 {
		t.Fatalf("expected 3.5 kWh, got %v", done.EnergyKWh)
	}
	if done.Cost == nil || *done.Cost != 10500 {
		t.Fatalf("expected cost 10500, got %v", done.Cost)
	}

	evt, ok := e.pub.last(events.SessionFinished)
	if !ok {
		t.Fatalf("expected session.finished event")
	}
	if evt.Payload["energy_kwh"] == nil || evt.Payload["cost"] == nil {
		t.Fatalf("finished event must carry totals: %+v", evt.Payload)
	}

	res, _ := e.reservations.Get(ctx, resID)
	if res.Status != models.ReservationCompleted {
		t.Fatalf("expected reservation completed, got %s", res.Status)
	}

	history, err := e.sessions.Events(ctx, "u1", sess.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	wantTypes := []string{events.SessionInitiated, events.SessionStarted, events.SessionPaused, events.SessionResumed, events.SessionFinished}
	if len(history) != len(wantTypes) {
		t.Fatalf("expected %d history entries, got %d", len(wantTypes), len(history))
	}
	for i, h := range history {
		if h.Type != wantTypes[i] {
			t.Fatalf("history %d: expected %s, got %s", i, wantTypes[i], h.Type)
		}
	}

	found := false
	for _, typ := range e.notifier.types() {
		if typ == "session_finished" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected session_finished notification")
	}
}

func TestSessionRejectsInvalidTransitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P9"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	checks := []struct {
		name string
		call func() error
	}{
		{"pause initiated", func() error { _, err := e.sessions.Pause(ctx, "u1", sess.ID); return err }},
		{"resume initiated", func() error { _, err := e.sessions.Resume(ctx, "u1", sess.ID); return err }},
		{"stop initiated", func() error { _, err := e.sessions.Stop(ctx, "u1", StopInput{SessionID: sess.ID}); return err }},
		{"meter initiated", func() error {
			_, err := e.sessions.PushMeterReading(ctx, "u1", sess.ID, MeterReadingInput{MeterWh: 10})
			return err
		}},
	}
	for _, c := range checks {
		if err := c.call(); !errors.Is(err, ErrInvalidSessionState) {
			t.Fatalf("%s: expected ErrInvalidSessionState, got %v", c.name, err)
		}
	}

	if _, err := e.sessions.Start(ctx, "u1", sess.ID, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.sessions.Start(ctx, "u1", sess.ID, nil); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState on second start, got %v", err)
	}
	if _, err := e.sessions.Cancel(ctx, "u1", sess.ID); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState cancelling charging session, got %v", err)
	}

	failed, err := e.sessions.Fail(ctx, "", sess.ID, "connector fault")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != models.SessionFailed || failed.FailureReason != "connector fault" {
		t.Fatalf("unexpected failed session: %+v", failed)
	}
	if _, err := e.sessions.Fail(ctx, "", sess.ID, "again"); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState failing a failed session, got %v", err)
	}
}

func TestSessionOwnership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, _ := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1"})

	if _, err := e.sessions.Get(ctx, "intruder", sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
	if _, err := e.sessions.Start(ctx, "intruder", sess.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound starting other user's session, got %v", err)
	}
	got, _ := e.sessions.Get(ctx, "u1", sess.ID)
	if got.Status != models.SessionInitiated {
		t.Fatalf("session must be untouched, got %s", got.Status)
	}
}

func TestSessionCancelFromInitiated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, _ := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1"})

	cancelled, err := e.sessions.Cancel(ctx, "u1", sess.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.SessionCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if e.pub.count(events.SessionCancelled) != 1 {
		t.Fatalf("expected session.cancelled event")
	}
}

func TestStopFallsBackToLastTelemetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, _ := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1"})
	if _, err := e.sessions.Start(ctx, "u1", sess.ID, int64p(2000)); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, meter := range []int64{2500, 3100, 4000} {
		e.clock.Advance(time.Minute)
		_, err := e.sessions.PushMeterReading(ctx, "u1", sess.ID, MeterReadingInput{
			MeterWh: meter,
			PowerKW: float64p(22),
			SoC:     float64p(float64(40 + i)),
		})
		if err != nil {
			t.Fatalf("push %d: %v", meter, err)
		}
	}

	done, err := e.sessions.Stop(ctx, "u1", StopInput{SessionID: sess.ID})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if done.EndMeterWh == nil || *done.EndMeterWh != 4000 {
		t.Fatalf("expected end meter from telemetry, got %v", done.EndMeterWh)
	}
	if *done.EnergyKWh != 2 || *done.Cost != 6000 {
		t.Fatalf("expected 2 kWh and 6000, got %v and %v", *done.EnergyKWh, *done.Cost)
	}
}

func TestStopRejectsEndMeterBelowStart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, _ := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1"})
	_, _ = e.sessions.Start(ctx, "u1", sess.ID, int64p(5000))

	if _, err := e.sessions.Stop(ctx, "u1", StopInput{SessionID: sess.ID, EndMeterWh: int64p(4000)}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestStopWithoutMetersLeavesEnergyEmpty(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, _ := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1"})
	_, _ = e.sessions.Start(ctx, "u1", sess.ID, nil)

	done, err := e.sessions.Stop(ctx, "u1", StopInput{SessionID: sess.ID, Reason: "ev_disconnected"})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if done.EnergyKWh != nil || done.Cost != nil {
		t.Fatalf("expected null energy and cost, got %v %v", done.EnergyKWh, done.Cost)
	}
	if done.StopReason != "ev_disconnected" {
		t.Fatalf("unexpected stop reason %q", done.StopReason)
	}
}

func TestTelemetryPageIsBounded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, _ := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1"})
	_, _ = e.sessions.Start(ctx, "u1", sess.ID, int64p(0))

	for i := 1; i <= 8; i++ {
		e.clock.Advance(time.Second)
		if _, err := e.sessions.PushMeterReading(ctx, "u1", sess.ID, MeterReadingInput{MeterWh: int64(i * 100)}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	cases := []struct {
		limit int
		want  int
	}{
		{0, 3},
		{2, 2},
		{1000, 5},
	}
	for _, c := range cases {
		got, err := e.sessions.GetTelemetry(ctx, "u1", sess.ID, time.Time{}, time.Time{}, c.limit)
		if err != nil {
			t.Fatalf("telemetry: %v", err)
		}
		if len(got) != c.want {
			t.Fatalf("limit %d: expected %d readings, got %d", c.limit, c.want, len(got))
		}
		if got[0].MeterWh != 100 {
			t.Fatalf("expected ascending order, first meter %d", got[0].MeterWh)
		}
	}

	if _, err := e.sessions.PushMeterReading(ctx, "u1", sess.ID, MeterReadingInput{MeterWh: 10, SoC: float64p(120)}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for soc, got %v", err)
	}
}

func TestCheckInConsumesTokenAndInitiates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	resID := e.book(t, "u1", "P1", e.clock.at(9, 0), e.clock.at(10, 0))
	token, err := e.tokens.Issue(ctx, resID, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := e.sessions.CheckIn(ctx, token.ID, "intruder", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for other user, got %v", err)
	}

	sess, err := e.sessions.CheckIn(ctx, token.ID, "u1", "car-1")
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if sess.ReservationID == nil || *sess.ReservationID != resID || sess.PointID != "P1" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if _, err := e.sessions.CheckIn(ctx, token.ID, "u1", "car-1"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on second check-in, got %v", err)
	}
}

func TestFailedCheckInKeepsTokenActive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	busy := e.book(t, "u1", "P1", e.clock.at(9, 0), e.clock.at(10, 0))
	busyToken, err := e.tokens.Issue(ctx, busy, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1", ReservationID: busy}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := e.sessions.CheckIn(ctx, busyToken.ID, "u1", ""); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState, got %v", err)
	}
	if v, _ := e.tokens.Validate(ctx, busyToken.ID); !v.Valid {
		t.Fatal("token was consumed by a check-in that failed")
	}

	cancelled := e.book(t, "u1", "P2", e.clock.at(9, 0), e.clock.at(10, 0))
	cancelledToken, err := e.tokens.Issue(ctx, cancelled, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := e.reservations.Cancel(ctx, cancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := e.sessions.CheckIn(ctx, cancelledToken.ID, "u1", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	stored, err := e.store.AccessTokens().GetByHash(ctx, digest(cancelledToken.ID))
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if stored.Status != models.AccessTokenActive {
		t.Fatalf("expected token to stay active, got %s", stored.Status)
	}
}

func TestConcurrentInitiateSingleSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	resID := e.book(t, "u1", "P1", e.clock.at(9, 0), e.clock.at(10, 0))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1", ReservationID: resID})
			if err != nil {
				if !errors.Is(err, ErrInvalidSessionState) {
					t.Errorf("expected ErrInvalidSessionState, got %v", err)
				}
				return
			}
			mu.Lock()
			created++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one session, got %d", created)
	}
}

func TestInitiateChecksReservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	resID := e.book(t, "u1", "P1", e.clock.at(9, 0), e.clock.at(10, 0))

	if _, err := e.sessions.Initiate(ctx, InitiateInput{UserID: "u2", PointID: "P1", ReservationID: resID}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user's reservation, got %v", err)
	}
	if _, err := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P2", ReservationID: resID}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for point mismatch, got %v", err)
	}
	if _, err := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1", ReservationID: resID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := e.sessions.Initiate(ctx, InitiateInput{UserID: "u1", PointID: "P1", ReservationID: resID}); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState for second live session, got %v", err)
	}
}

func TestComputeCostAddsPerMinute(t *testing.T) {
	if got := computeCost(1.234, 10, 100, 2.5); got != 148.4 {
		t.Fatalf("expected 148.4, got %v", got)
	}
	if got := computeCost(2, 0, 3000, 5); got != 6000 {
		t.Fatalf("expected 6000, got %v", got)
	}
}
