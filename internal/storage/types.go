package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on restart
//   - "file": dependency-free file backend (jsonl + snapshot) under Path
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis at URL (redis:// or rediss://)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	URL         string
	Namespace   string        // key prefix (redis only); default "pawremind"
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduledEntry is one reminder identifier currently handed to the
// notification gateway.
type ScheduledEntry struct {
	ID            string    `json:"id" db:"id"`
	AppointmentID string    `json:"appointment_id" db:"appointment_id"`
	Label         string    `json:"label" db:"label"`
	FireAt        time.Time `json:"fire_at" db:"fire_at"`
	Digest        string    `json:"digest" db:"digest"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// DeliveryRecord records one delivered notification.
type DeliveryRecord struct {
	ID       string    `json:"id" db:"id"`
	Key      string    `json:"key" db:"key"`
	Channel  string    `json:"channel" db:"channel"`
	ChatID   int64     `json:"chat_id" db:"chat_id"`
	Title    string    `json:"title,omitempty" db:"title"`
	At       time.Time `json:"at" db:"at"`
	Attempts int       `json:"attempts" db:"attempts"`
}
