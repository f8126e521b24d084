package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/events"
	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// WaitlistService is the FIFO register of requesters for a contended station and connector type.
// Promotion to a reservation is an explicit external action.
type WaitlistService struct {
	store  WaitlistStore
	out    Outbound
	now    func() time.Time
	logger *zap.Logger
}

// NewWaitlistService builds service. now may be nil.
func NewWaitlistService(store WaitlistStore, out Outbound, now func() time.Time, logger *zap.Logger) *WaitlistService {
	if now == nil {
		now = utcNow
	}
	return &WaitlistService{store: store, out: out, now: now, logger: logger}
}

// Join appends the requester to the tail of the queue.
func (s *WaitlistService) Join(ctx context.Context, userID, stationID, connectorType string) (*models.WaitlistEntry, error) {
	switch {
	case strings.TrimSpace(userID) == "":
		return nil, validationf("user_id is required")
	case strings.TrimSpace(stationID) == "":
		return nil, validationf("station_id is required")
	case strings.TrimSpace(connectorType) == "":
		return nil, validationf("connector_type is required")
	}

	now := s.now()
	entry := &models.WaitlistEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		StationID:     stationID,
		ConnectorType: connectorType,
		Status:        models.WaitlistWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return nil, err
	}

	s.out.emit(ctx, s.logger, events.WaitlistJoined, entry.ID, map[string]interface{}{
		"entry_id":       entry.ID,
		"user_id":        entry.UserID,
		"station_id":     entry.StationID,
		"connector_type": entry.ConnectorType,
		"position":       entry.Position,
	})
	return entry, nil
}

// List returns the waiting entries of a station, optionally limited to one connector type.
func (s *WaitlistService) List(ctx context.Context, stationID, connectorType string) ([]models.WaitlistEntry, error) {
	if strings.TrimSpace(stationID) == "" {
		return nil, validationf("station_id is required")
	}
	return s.store.ListWaiting(ctx, stationID, connectorType)
}

// Remove deletes the entry and compacts the queue behind it.
func (s *WaitlistService) Remove(ctx context.Context, entryID string) error {
	return storeErr(s.store.Delete(ctx, entryID), "waitlist entry")
}

// UpdateStatus moves a waiting entry to served or removed.
func (s *WaitlistService) UpdateStatus(ctx context.Context, entryID string, status models.WaitlistStatus) (*models.WaitlistEntry, error) {
	if status != models.WaitlistServed && status != models.WaitlistRemoved {
		return nil, fmt.Errorf("%w: cannot move entry to %q", ErrInvalidTransition, status)
	}
	entry, err := s.store.ChangeStatus(ctx, entryID, models.WaitlistWaiting, status)
	if errors.Is(err, repository.ErrStatusMismatch) {
		return nil, fmt.Errorf("%w: entry is no longer waiting", ErrInvalidTransition)
	}
	if err != nil {
		return nil, storeErr(err, "waitlist entry")
	}
	return entry, nil
}
