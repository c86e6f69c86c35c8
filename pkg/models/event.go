package models

import "time"

// EventKind classifies a telemetry event.
type EventKind string

const (
	EventCommandStarted  EventKind = "command_started"
	EventCommandFinished EventKind = "command_finished"
	EventCommandFailed   EventKind = "command_failed"
	EventConsole         EventKind = "console"
)

// Event is a single telemetry record for a session. Events are ephemeral:
// delivered to live subscribers, never persisted unless a command exports
// them as an artifact.
type Event struct {
	Kind      EventKind
	SessionID string
	TS        time.Time
	Data      any
}

// Frame converts the event to its wire representation.
func (e Event) Frame() EventFrame {
	return EventFrame{
		Type:      FrameEvent,
		Event:     string(e.Kind),
		SessionID: e.SessionID,
		TS:        float64(e.TS.UnixNano()) / float64(time.Second),
		Data:      e.Data,
	}
}
