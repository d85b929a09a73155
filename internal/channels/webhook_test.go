// ABOUTME: Tests for webhook delivery and signing
// ABOUTME: Verifies the signature, retryable failures, and handler payload validation

package channels

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley-gateway/internal/dispatch"
	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
)

func TestWebhookDeliverer_SignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDeliverer("hook-secret", time.Second, nil)
	err := d.Deliver(context.Background(), dispatch.WebhookPayload{
		URL:       srv.URL,
		Event:     "message.replied",
		UserID:    "user-1",
		ChannelID: "web-support",
		Text:      "hello",
	})
	require.NoError(t, err)

	// The receiver can recompute the signature over the raw body
	want := Sign([]byte("hook-secret"), gotBody)
	assert.True(t, hmac.Equal([]byte(want), []byte(gotSig)))

	var payload dispatch.WebhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "message.replied", payload.Event)
}

func TestWebhookDeliverer_NoSecretNoSignature(t *testing.T) {
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header[SignatureHeader]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewWebhookDeliverer("", time.Second, nil)
	err := d.Deliver(context.Background(), dispatch.WebhookPayload{URL: srv.URL})
	require.NoError(t, err)
	assert.False(t, sawHeader)
}

func TestWebhookDeliverer_Non2xxIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewWebhookDeliverer("secret", time.Second, nil)
	err := d.Deliver(context.Background(), dispatch.WebhookPayload{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
}

func TestWebhookDeliverer_ConnectionError(t *testing.T) {
	d := NewWebhookDeliverer("secret", 100*time.Millisecond, nil)
	err := d.Deliver(context.Background(), dispatch.WebhookPayload{
		URL: "http://127.0.0.1:1/unreachable",
	})
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
}

func TestWebhookHandler(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewWebhookHandler(NewWebhookDeliverer("secret", time.Second, nil))

	payload, err := json.Marshal(dispatch.WebhookPayload{URL: srv.URL, Event: "message.replied"})
	require.NoError(t, err)
	require.NoError(t, h.Execute(context.Background(), &jobs.Job{Payload: payload}))
	assert.Equal(t, 1, hits)
}

func TestWebhookHandler_BadPayloadIsPermanent(t *testing.T) {
	h := NewWebhookHandler(NewWebhookDeliverer("secret", time.Second, nil))

	err := h.Execute(context.Background(), &jobs.Job{Payload: []byte("{broken")})
	assert.True(t, retry.IsPermanent(err))

	err = h.Execute(context.Background(), &jobs.Job{Payload: []byte(`{"event":"x"}`)})
	assert.True(t, retry.IsPermanent(err))
}
