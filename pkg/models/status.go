package models

import "time"

// Status is the processing state of one registrant within a SIC run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known status values. Unknown
// values appear when a status file was edited by hand.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// StatusEntry is one row of a SIC run's status file. A ticker is
// "processed" in the resume sense when Status == StatusCompleted.
type StatusEntry struct {
	Ticker    string    `json:"ticker"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Err       string    `json:"error,omitempty"`
}
