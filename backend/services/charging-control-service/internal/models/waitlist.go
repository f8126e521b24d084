package models

import "time"

// WaitlistStatus is the state of a queue entry.
type WaitlistStatus string

const (
	WaitlistWaiting WaitlistStatus = "waiting"
	WaitlistServed  WaitlistStatus = "served"
	WaitlistRemoved WaitlistStatus = "removed"
)

// WaitlistEntry is a requester queued for a station and connector type.
// Position is 1-based and dense among waiting entries of the same queue; it is 0 once the
// entry has left the queue.
type WaitlistEntry struct {
	ID            string         `db:"id" json:"id"`
	UserID        string         `db:"user_id" json:"user_id"`
	StationID     string         `db:"station_id" json:"station_id"`
	ConnectorType string         `db:"connector_type" json:"connector_type"`
	Position      int            `db:"position" json:"position"`
	Status        WaitlistStatus `db:"status" json:"status"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}
