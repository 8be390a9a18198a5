package models

import "time"

// ContinueEntry marks a subject as already tested within a session. It
// mirrors a row of the continue_entries table.
type ContinueEntry struct {
	SessionID   string    `json:"session_id" db:"session_id"`
	CheckerType string    `json:"checker_type" db:"checker_type"`
	Subject     string    `json:"subject" db:"subject"`
	Status      Status    `json:"status" db:"status"`
	TestedAt    time.Time `json:"tested_at" db:"-"`
}

// Key identifies the entry across all sessions.
func (e ContinueEntry) Key() ContinueKey {
	return ContinueKey{SessionID: e.SessionID, CheckerType: e.CheckerType, Subject: e.Subject}
}

// ContinueKey is the primary key of a ContinueEntry.
type ContinueKey struct {
	SessionID   string
	CheckerType string
	Subject     string
}
