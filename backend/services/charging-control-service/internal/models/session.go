package models

import "time"

// SessionStatus is the state of a charging session.
type SessionStatus string

const (
	SessionInitiated SessionStatus = "initiated"
	SessionCharging  SessionStatus = "charging"
	SessionPaused    SessionStatus = "paused"
	SessionFinished  SessionStatus = "finished"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionFinished, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// Session represents a charging session.
type Session struct {
	ID            string        `db:"id" json:"id"`
	UserID        string        `db:"user_id" json:"user_id"`
	PointID       string        `db:"point_id" json:"point_id"`
	ReservationID *string       `db:"reservation_id" json:"reservation_id,omitempty"`
	VehicleID     *string       `db:"vehicle_id" json:"vehicle_id,omitempty"`
	Status        SessionStatus `db:"status" json:"status"`
	StartMeterWh  *int64        `db:"start_meter_wh" json:"start_meter_wh,omitempty"`
	EndMeterWh    *int64        `db:"end_meter_wh" json:"end_meter_wh,omitempty"`
	StartedAt     *time.Time    `db:"started_at" json:"started_at,omitempty"`
	EndedAt       *time.Time    `db:"ended_at" json:"ended_at,omitempty"`
	EnergyKWh     *float64      `db:"energy_kwh" json:"energy_kwh"`
	Cost          *float64      `db:"cost" json:"cost"`
	Currency      string        `db:"currency" json:"currency,omitempty"`
	StopReason    string        `db:"stop_reason" json:"stop_reason,omitempty"`
	FailureReason string        `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ReservationID = cloneString(s.ReservationID)
	c.VehicleID = cloneString(s.VehicleID)
	c.StartMeterWh = cloneInt64(s.StartMeterWh)
	c.EndMeterWh = cloneInt64(s.EndMeterWh)
	c.StartedAt = cloneTime(s.StartedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	c.EnergyKWh = cloneFloat(s.EnergyKWh)
	c.Cost = cloneFloat(s.Cost)
	return &c
}

// SessionEvent is one entry of a session's transition history.
type SessionEvent struct {
	ID         int64         `db:"id" json:"-"`
	SessionID  string        `db:"session_id" json:"session_id"`
	Type       string        `db:"event_type" json:"type"`
	Status     SessionStatus `db:"status" json:"status"`
	Detail     string        `db:"detail" json:"detail,omitempty"`
	OccurredAt time.Time     `db:"occurred_at" json:"occurred_at"`
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
