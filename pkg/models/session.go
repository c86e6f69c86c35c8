package models

import "time"

// SessionState represents the lifecycle state of a session.
type SessionState string

const (
	StateCreated SessionState = "CREATED"
	StateActive  SessionState = "ACTIVE"
	StateIdle    SessionState = "IDLE"
	StateClosed  SessionState = "CLOSED"
)

// SessionSummary is the read-only view of a live session returned by
// list_sessions.
type SessionSummary struct {
	ID          string       `json:"session_id"`
	WorkspaceID string       `json:"workspace_id"`
	State       SessionState `json:"state"`
	Label       string       `json:"label,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	LastUsedAt  time.Time    `json:"last_used"`
	HAREnabled  bool         `json:"har_enabled,omitempty"`
	Pooled      bool         `json:"pooled,omitempty"`
}

// ConsoleEntry is one captured browser console message.
type ConsoleEntry struct {
	Kind     string  `json:"type"`
	Text     string  `json:"text"`
	Location string  `json:"location,omitempty"`
	TS       float64 `json:"ts"`
}
