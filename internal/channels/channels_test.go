// ABOUTME: Tests for the outbound and notification queue handlers

package channels

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley-gateway/internal/dispatch"
	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
)

func TestOutboundHandler(t *testing.T) {
	var gotRecipient, gotText string
	h := NewOutboundHandler(SenderFunc(func(ctx context.Context, recipient, text string) error {
		gotRecipient = recipient
		gotText = text
		return nil
	}))

	payload, err := json.Marshal(dispatch.OutboundPayload{
		UserID:    "49151234567@s.whatsapp.net",
		ChannelID: "wa-sales",
		Text:      "your order shipped",
	})
	require.NoError(t, err)

	require.NoError(t, h.Execute(context.Background(), &jobs.Job{Payload: payload}))
	assert.Equal(t, "49151234567@s.whatsapp.net", gotRecipient)
	assert.Equal(t, "your order shipped", gotText)
}

func TestOutboundHandler_TransportErrorIsRetryable(t *testing.T) {
	boom := errors.New("transport down")
	h := NewOutboundHandler(SenderFunc(func(ctx context.Context, recipient, text string) error {
		return boom
	}))

	payload, _ := json.Marshal(dispatch.OutboundPayload{UserID: "u", Text: "t"})
	err := h.Execute(context.Background(), &jobs.Job{Payload: payload})
	assert.ErrorIs(t, err, boom)
	assert.True(t, retry.IsRetryable(err))
}

func TestOutboundHandler_BadPayloadIsPermanent(t *testing.T) {
	h := NewOutboundHandler(SenderFunc(func(ctx context.Context, recipient, text string) error {
		t.Fatal("sender must not run")
		return nil
	}))

	err := h.Execute(context.Background(), &jobs.Job{Payload: []byte("{broken")})
	assert.True(t, retry.IsPermanent(err))

	err = h.Execute(context.Background(), &jobs.Job{Payload: []byte(`{"text":"no recipient"}`)})
	assert.True(t, retry.IsPermanent(err))
}

func TestNotificationHandler(t *testing.T) {
	var got Notification
	h := NewNotificationHandler(notifierFunc(func(ctx context.Context, n Notification) error {
		got = n
		return nil
	}))

	payload, _ := json.Marshal(Notification{Level: "warn", Title: "Queue backlog", Text: "whatsapp-sending is saturated"})
	require.NoError(t, h.Execute(context.Background(), &jobs.Job{Payload: payload}))
	assert.Equal(t, "Queue backlog", got.Title)
	assert.Equal(t, "warn", got.Level)
}

func TestNotificationHandler_BadPayloadIsPermanent(t *testing.T) {
	h := NewNotificationHandler(NopNotifier{})

	err := h.Execute(context.Background(), &jobs.Job{Payload: []byte("not json")})
	assert.True(t, retry.IsPermanent(err))
}

type notifierFunc func(ctx context.Context, n Notification) error

func (f notifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }
