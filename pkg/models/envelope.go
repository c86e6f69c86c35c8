package models

import "encoding/json"

// Frame types on the control channel.
const (
	FrameAuth        = "auth"
	FrameAuthSuccess = "auth_success"
	FrameConnected   = "connected"
	FrameResponse    = "response"
	FrameError       = "error"
	FrameEvent       = "event"
)

// Envelope is a single inbound command frame. SessionID is optional; absent
// means the connection's implicit session.
type Envelope struct {
	ID        string                     `json:"id"`
	SessionID string                     `json:"session_id,omitempty"`
	Command   string                     `json:"command"`
	Args      map[string]json.RawMessage `json:"args,omitempty"`
}

// AuthFrame is the first frame a client must send when authentication is
// required.
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Response is the reply to a command envelope, matched by correlation ID.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// EventFrame is an asynchronous telemetry frame pushed to subscribed
// connections.
type EventFrame struct {
	Type      string  `json:"type"`
	Event     string  `json:"event"`
	SessionID string  `json:"session_id"`
	TS        float64 `json:"ts"`
	Data      any     `json:"data,omitempty"`
}

// ConnectedFrame announces a successful connection (and authentication, when
// enabled) to the client.
type ConnectedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}
