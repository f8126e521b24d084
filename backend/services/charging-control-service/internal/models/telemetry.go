package models

import "time"

// TelemetryReading is a point-in-time meter sample for a session.
type TelemetryReading struct {
	ID         int64     `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	MeterWh    int64     `db:"meter_wh" json:"meter_wh"`
	PowerKW    *float64  `db:"power_kw" json:"power_kw,omitempty"`
	SoC        *float64  `db:"soc" json:"soc,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TelemetryQuery bounds a telemetry read. Zero times mean unbounded.
type TelemetryQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}
