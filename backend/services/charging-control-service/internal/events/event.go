// Package events announces state changes to external collaborators. Delivery is
// at-least-once; consumers deduplicate on Event.ID.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types.
const (
	ReservationCreated       = "reservation.created"
	ReservationUpdated       = "reservation.updated"
	ReservationCancelled     = "reservation.cancelled"
	ReservationAutoCancelled = "reservation.auto_cancelled"
	WaitlistJoined           = "waitlist.joined"
	QRGenerated              = "qr.generated"
	QRValidated              = "qr.validated"
	SessionInitiated         = "session.initiated"
	SessionStarted           = "session.started"
	SessionPaused            = "session.paused"
	SessionResumed           = "session.resumed"
	SessionFinished          = "session.finished"
	SessionFailed            = "session.failed"
	SessionCancelled         = "session.cancelled"
)

// Event is one state change notification.
type Event struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType, aggregateID string, payload map[string]interface{}) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
}

// Publisher delivers events to a transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// LogPublisher writes events to the log only. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns publisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info("event",
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type),
		zap.String("aggregate_id", evt.AggregateID),
		zap.Any("payload", evt.Payload),
	)
	return nil
}
