// ABOUTME: Wire frames for the WebSocket session protocol
// ABOUTME: Clients send auth and message; the server answers connected, auth_success, message, error

package session

import "time"

// Client frame types.
const (
	FrameAuth    = "auth"
	FrameMessage = "message"
)

// Server frame types.
const (
	FrameConnected   = "connected"
	FrameAuthSuccess = "auth_success"
	FrameError       = "error"
)

// Error codes carried by error frames.
const (
	CodeAuthRequired      = "auth_required"
	CodeAuthTimeout       = "auth_timeout"
	CodeAuthFailed        = "auth_failed"
	CodeTicketExpired     = "ticket_expired"
	CodeTicketUsed        = "ticket_used"
	CodeInvalidFrame     = "invalid_frame"
	CodeInvalidMessage   = "invalid_message"
	CodeAgentUnavailable = "agent_unavailable"
	CodeDispatchFailed   = "dispatch_failed"
)

// ClientFrame is any frame a client sends.
type ClientFrame struct {
	Type string `json:"type"`
	// Token carries the auth ticket on auth frames.
	Token string `json:"token,omitempty"`
	// MessageID is the client-assigned message id; retrying with the same id
	// never processes the message twice.
	MessageID string `json:"messageId,omitempty"`
	Content   string `json:"content,omitempty"`
	// Timestamp is the client's send time; informational only.
	Timestamp string `json:"timestamp,omitempty"`
}

// ServerFrame is any frame the server sends.
type ServerFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	// UserID and ChannelID are set on auth_success frames.
	UserID    string `json:"userId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Content   string `json:"content,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	// Greeting marks the one-time conversation greeting message.
	Greeting bool `json:"greeting,omitempty"`
	// Duplicate marks a reply served from the dedup cache.
	Duplicate bool `json:"duplicate,omitempty"`
	// Code and Error describe error frames.
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// frameTime formats a server frame timestamp.
func frameTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
