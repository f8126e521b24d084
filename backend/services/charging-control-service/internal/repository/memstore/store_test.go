package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

var base = time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)

func reservation(id, point string, status models.ReservationStatus, startH, endH int) *models.Reservation {
	return &models.Reservation{
		ID:        id,
		UserID:    "u1",
		PointID:   point,
		Status:    status,
		StartTime: base.Add(time.Duration(startH) * time.Hour),
		EndTime:   base.Add(time.Duration(endH) * time.Hour),
	}
}

func TestCountOverlapping(t *testing.T) {
	ctx := context.Background()
	rs := New().Reservations()
	_ = rs.Create(ctx, reservation("a", "P1", models.ReservationConfirmed, 1, 2))
	_ = rs.Create(ctx, reservation("b", "P1", models.ReservationCancelled, 1, 2))
	_ = rs.Create(ctx, reservation("c", "P2", models.ReservationConfirmed, 1, 2))

	cases := []struct {
		name      string
		start     int
		end       int
		excludeID string
		want      int
	}{
		{"same window", 1, 2, "", 1},
		{"touching end", 2, 3, "", 0},
		{"touching start", 0, 1, "", 0},
		{"enclosing", 0, 3, "", 1},
		{"excluded", 1, 2, "a", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := rs.CountOverlapping(ctx, "P1", base.Add(time.Duration(tc.start)*time.Hour), base.Add(time.Duration(tc.end)*time.Hour), tc.excludeID)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d overlaps, got %d", tc.want, got)
			}
		})
	}
}

func TestReservationUpdateNoChange(t *testing.T) {
	ctx := context.Background()
	rs := New().Reservations()
	_ = rs.Create(ctx, reservation("a", "P1", models.ReservationConfirmed, 1, 2))

	got, err := rs.Update(ctx, "a", func(r *models.Reservation) error {
		r.Status = models.ReservationCancelled
		return repository.ErrNoChange
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != models.ReservationConfirmed {
		t.Fatalf("declined update was written: %s", got.Status)
	}

	if _, err := rs.Update(ctx, "missing", func(*models.Reservation) error { return nil }); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListStaleSkipsBoundReservations(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Reservations().Create(ctx, reservation("a", "P1", models.ReservationConfirmed, 0, 1))
	_ = s.Reservations().Create(ctx, reservation("b", "P2", models.ReservationConfirmed, 0, 1))
	resID := "b"
	if err := s.Sessions().Create(ctx, &models.Session{ID: "s1", ReservationID: &resID, Status: models.SessionInitiated}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	stale, err := s.Reservations().ListStale(ctx, base.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "a" {
		t.Fatalf("unexpected stale set: %+v", stale)
	}
}

func TestCancelStaleRequiresUnboundReservation(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Reservations().Create(ctx, reservation("a", "P1", models.ReservationConfirmed, 0, 1))
	_ = s.Reservations().Create(ctx, reservation("b", "P2", models.ReservationConfirmed, 0, 1))
	resID := "b"
	if err := s.Sessions().Create(ctx, &models.Session{ID: "s1", ReservationID: &resID, Status: models.SessionInitiated}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	cutoff := base.Add(time.Hour)

	res, err := s.Reservations().CancelStale(ctx, "a", cutoff, cutoff)
	if err != nil {
		t.Fatalf("cancel stale: %v", err)
	}
	if res.Status != models.ReservationCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	if _, err := s.Reservations().CancelStale(ctx, "a", cutoff, cutoff); !errors.Is(err, repository.ErrStatusMismatch) {
		t.Fatalf("second cancel: expected status mismatch, got %v", err)
	}
	if _, err := s.Reservations().CancelStale(ctx, "b", cutoff, cutoff); !errors.Is(err, repository.ErrStatusMismatch) {
		t.Fatalf("bound reservation: expected status mismatch, got %v", err)
	}
}

func TestSessionCreateGuardsReservation(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Reservations().Create(ctx, reservation("a", "P1", models.ReservationConfirmed, 0, 1))
	_ = s.Reservations().Create(ctx, reservation("c", "P2", models.ReservationCancelled, 0, 1))
	a, c, missing := "a", "c", "missing"

	if err := s.Sessions().Create(ctx, &models.Session{ID: "s1", ReservationID: &a, Status: models.SessionInitiated}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Sessions().Create(ctx, &models.Session{ID: "s2", ReservationID: &a, Status: models.SessionInitiated}); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := s.Sessions().Create(ctx, &models.Session{ID: "s3", ReservationID: &c, Status: models.SessionInitiated}); !errors.Is(err, repository.ErrStatusMismatch) {
		t.Fatalf("expected status mismatch, got %v", err)
	}
	if err := s.Sessions().Create(ctx, &models.Session{ID: "s4", ReservationID: &missing, Status: models.SessionInitiated}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := s.Sessions().Update(ctx, "s1", func(sess *models.Session) error {
		sess.Status = models.SessionCancelled
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Sessions().Create(ctx, &models.Session{ID: "s5", ReservationID: &a, Status: models.SessionInitiated}); err != nil {
		t.Fatalf("create after terminal session: %v", err)
	}
}

func TestWaitlistPositionsStayDense(t *testing.T) {
	ctx := context.Background()
	wl := New().Waitlist()
	for _, id := range []string{"w1", "w2", "w3"} {
		if err := wl.Append(ctx, &models.WaitlistEntry{ID: id, StationID: "st", ConnectorType: "CCS2", Status: models.WaitlistWaiting}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = wl.Append(ctx, &models.WaitlistEntry{ID: "other", StationID: "st", ConnectorType: "Type2", Status: models.WaitlistWaiting})

	served, err := wl.ChangeStatus(ctx, "w1", models.WaitlistWaiting, models.WaitlistServed)
	if err != nil {
		t.Fatalf("change status: %v", err)
	}
	if served.Position != 0 {
		t.Fatalf("served entry keeps position %d", served.Position)
	}
	if err := wl.Delete(ctx, "w2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	list, err := wl.ListWaiting(ctx, "st", "CCS2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "w3" || list[0].Position != 1 {
		t.Fatalf("unexpected queue: %+v", list)
	}

	if _, err := wl.ChangeStatus(ctx, "w1", models.WaitlistWaiting, models.WaitlistRemoved); !errors.Is(err, repository.ErrStatusMismatch) {
		t.Fatalf("expected status mismatch, got %v", err)
	}

	all, _ := wl.ListWaiting(ctx, "st", "")
	if len(all) != 2 || all[0].ConnectorType != "CCS2" || all[1].ID != "other" || all[1].Position != 1 {
		t.Fatalf("unexpected station queue: %+v", all)
	}
}

func TestAccessTokenMarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	ts := New().AccessTokens()
	_ = ts.Create(ctx, &models.AccessToken{
		ID:        "raw",
		Hash:      "h1",
		Status:    models.AccessTokenActive,
		ExpiresAt: base.Add(10 * time.Minute),
	})

	stored, _ := ts.GetByHash(ctx, "h1")
	if stored.ID != "" {
		t.Fatal("raw token id persisted")
	}
	if _, err := ts.MarkUsed(ctx, "h1", base); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if _, err := ts.MarkUsed(ctx, "h1", base); !errors.Is(err, repository.ErrStatusMismatch) {
		t.Fatalf("second redeem: %v", err)
	}

	_ = ts.Create(ctx, &models.AccessToken{Hash: "h2", Status: models.AccessTokenActive, ExpiresAt: base})
	n, err := ts.ExpireBefore(ctx, base)
	if err != nil || n != 1 {
		t.Fatalf("expire: n=%d err=%v", n, err)
	}
}
