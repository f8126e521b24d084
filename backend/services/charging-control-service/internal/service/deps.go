package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/clients"
	"evcsms/backend/services/charging-control-service/internal/events"
	"evcsms/backend/services/charging-control-service/internal/metrics"
	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/pricing"
)

// ReservationStore persists reservations.
type ReservationStore interface {
	Create(ctx context.Context, r *models.Reservation) error
	Get(ctx context.Context, id string) (*models.Reservation, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Reservation, error)
	CountOverlapping(ctx context.Context, pointID string, start, end time.Time, excludeID string) (int, error)
	Update(ctx context.Context, id string, fn func(*models.Reservation) error) (*models.Reservation, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error)
	CancelStale(ctx context.Context, id string, cutoff, now time.Time) (*models.Reservation, error)
}

// WaitlistStore persists waitlist queues and keeps positions dense.
type WaitlistStore interface {
	Append(ctx context.Context, e *models.WaitlistEntry) error
	Get(ctx context.Context, id string) (*models.WaitlistEntry, error)
	ListWaiting(ctx context.Context, stationID, connectorType string) ([]models.WaitlistEntry, error)
	Delete(ctx context.Context, id string) error
	ChangeStatus(ctx context.Context, id string, from, to models.WaitlistStatus) (*models.WaitlistEntry, error)
}

// AccessTokenStore persists access tokens by digest.
type AccessTokenStore interface {
	Create(ctx context.Context, t *models.AccessToken) error
	GetByHash(ctx context.Context, hash string) (*models.AccessToken, error)
	MarkUsed(ctx context.Context, hash string, now time.Time) (*models.AccessToken, error)
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore persists sessions and their transition history.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	FindByReservation(ctx context.Context, reservationID string) (*models.Session, error)
	Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error)
	AppendEvent(ctx context.Context, e *models.SessionEvent) error
	ListEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error)
}

// TelemetryStore persists meter readings.
type TelemetryStore interface {
	Insert(ctx context.Context, r *models.TelemetryReading) error
	List(ctx context.Context, sessionID string, q models.TelemetryQuery) ([]models.TelemetryReading, error)
	Last(ctx context.Context, sessionID string) (*models.TelemetryReading, error)
}

// RateSource supplies the price of a charging point.
type RateSource interface {
	RateForPoint(ctx context.Context, pointID string) (pricing.Rate, error)
}

// Notifier accepts fire-and-forget user notifications.
type Notifier interface {
	Notify(ctx context.Context, n clients.Notification)
}

// Broadcaster pushes live updates to subscribers of a session.
type Broadcaster interface {
	Broadcast(sessionID, kind string, data interface{})
}

// Outbound bundles the collaborators told about state changes. Every field is optional.
type Outbound struct {
	Publisher events.Publisher
	Notifier  Notifier
	Stream    Broadcaster
	Metrics   *metrics.Metrics
}

func (o Outbound) emit(ctx context.Context, logger *zap.Logger, eventType, aggregateID string, payload map[string]interface{}) {
	if o.Publisher == nil {
		return
	}
	if err := o.Publisher.Publish(ctx, events.New(eventType, aggregateID, payload)); err != nil {
		logger.Warn("failed to publish event",
			zap.String("type", eventType),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
	}
}

func (o Outbound) notify(ctx context.Context, n clients.Notification) {
	if o.Notifier != nil {
		o.Notifier.Notify(ctx, n)
	}
}

func (o Outbound) broadcast(sessionID, kind string, data interface{}) {
	if o.Stream != nil {
		o.Stream.Broadcast(sessionID, kind, data)
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}
