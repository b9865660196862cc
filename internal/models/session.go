package models

import "time"

// SessionRecord is the archived summary of one client session. The
// conversation itself is not stored.
type SessionRecord struct {
	ID           string     `json:"id"`
	Endpoint     string     `json:"endpoint"`
	MessageCount int        `json:"message_count"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}
