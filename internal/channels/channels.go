// ABOUTME: Sender interface plus the queue handlers that drive outbound sends
// ABOUTME: One send queue per transport, all draining through the same handler shape

package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley-gateway/internal/dispatch"
	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
)

// Sender delivers one outbound message on a transport. The recipient string
// is transport-specific: a WhatsApp JID, a Telegram chat ID, or an email
// address.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient, text string) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, recipient, text string) error {
	return f(ctx, recipient, text)
}

// OutboundHandler drains one send queue through a Sender. Transport errors
// bubble up so the queue retries with backoff; malformed payloads are
// permanent.
type OutboundHandler struct {
	sender Sender
}

// NewOutboundHandler creates the handler for a send queue.
func NewOutboundHandler(sender Sender) *OutboundHandler {
	return &OutboundHandler{sender: sender}
}

// Execute implements jobs.Handler.
func (h *OutboundHandler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload dispatch.OutboundPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return retry.Permanent(fmt.Errorf("decoding outbound payload: %w", err))
	}
	if payload.UserID == "" {
		return retry.Permanent(fmt.Errorf("outbound payload missing recipient"))
	}
	return h.sender.Send(ctx, payload.UserID, payload.Text)
}
