// ABOUTME: Queue handler for inbound messages arriving off the socket path
// ABOUTME: Telegram updates, WhatsApp events and inbound email all land here

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
)

// InboundPayload is the job payload on the message-processing queue.
type InboundPayload struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
	// MessageID is the transport's message identifier, reused as the dedup
	// key so redelivered events are not processed twice.
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// InboundHandler adapts the dispatcher to the message-processing queue.
// Replies are fanned out by the dispatcher itself, so this handler only has
// to run the message through.
type InboundHandler struct {
	dispatcher *Dispatcher
}

// NewInboundHandler creates the handler for the message-processing queue.
func NewInboundHandler(d *Dispatcher) *InboundHandler {
	return &InboundHandler{dispatcher: d}
}

// Execute implements jobs.Handler.
func (h *InboundHandler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload InboundPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return retry.Permanent(fmt.Errorf("decoding inbound payload: %w", err))
	}
	if payload.UserID == "" || payload.ChannelID == "" {
		return retry.Permanent(fmt.Errorf("inbound payload missing user or channel"))
	}

	_, err := h.dispatcher.Dispatch(ctx, payload.UserID, payload.ChannelID, payload.MessageID, payload.Text)
	if err != nil {
		// A redelivered transport event whose first run is still in flight
		// is not a failure
		if errors.Is(err, ErrDuplicateInFlight) {
			return nil
		}
		return err
	}
	return nil
}
