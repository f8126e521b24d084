package service

import (
	"context"
	"errors"
	"testing"

	"evcsms/backend/services/charging-control-service/internal/events"
	"evcsms/backend/services/charging-control-service/internal/models"
)

func TestWaitlistRemoveCompactsPositions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var ids []string
	for _, user := range []string{"u1", "u2", "u3", "u4"} {
		entry, err := e.waitlist.Join(ctx, user, "st-1", "CCS2")
		if err != nil {
			t.Fatalf("join %s: %v", user, err)
		}
		ids = append(ids, entry.ID)
		if entry.Position != len(ids) {
			t.Fatalf("expected position %d, got %d", len(ids), entry.Position)
		}
	}
	if _, err := e.waitlist.Join(ctx, "u5", "st-1", "Type2"); err != nil {
		t.Fatalf("join other queue: %v", err)
	}

	if err := e.waitlist.Remove(ctx, ids[1]); err != nil {
		t.Fatalf("remove: %v", err)
	}

	list, err := e.waitlist.List(ctx, "st-1", "CCS2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{ids[0], ids[2], ids[3]}
	if len(list) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(list))
	}
	for i, entry := range list {
		if entry.ID != want[i] || entry.Position != i+1 {
			t.Fatalf("entry %d: expected %s at %d, got %s at %d", i, want[i], i+1, entry.ID, entry.Position)
		}
	}

	all, _ := e.waitlist.List(ctx, "st-1", "")
	if len(all) != 4 {
		t.Fatalf("expected 4 waiting entries across connector types, got %d", len(all))
	}
	if got := e.pub.count(events.WaitlistJoined); got != 5 {
		t.Fatalf("expected 5 joined events, got %d", got)
	}
	if err := e.waitlist.Remove(ctx, ids[1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWaitlistStatusTransitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, _ := e.waitlist.Join(ctx, "u1", "st-1", "CCS2")
	second, _ := e.waitlist.Join(ctx, "u2", "st-1", "CCS2")

	served, err := e.waitlist.UpdateStatus(ctx, first.ID, models.WaitlistServed)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if served.Status != models.WaitlistServed || served.Position != 0 {
		t.Fatalf("unexpected served entry: %+v", served)
	}

	if _, err := e.waitlist.UpdateStatus(ctx, first.ID, models.WaitlistRemoved); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from served, got %v", err)
	}
	if _, err := e.waitlist.UpdateStatus(ctx, second.ID, models.WaitlistWaiting); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition to waiting, got %v", err)
	}

	list, _ := e.waitlist.List(ctx, "st-1", "CCS2")
	if len(list) != 1 || list[0].ID != second.ID || list[0].Position != 1 {
		t.Fatalf("expected second entry promoted to position 1, got %+v", list)
	}
}

func TestWaitlistJoinValidation(t *testing.T) {
	e := newEnv(t)
	if _, err := e.waitlist.Join(context.Background(), "u1", "", "CCS2"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
