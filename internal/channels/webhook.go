// ABOUTME: Signed webhook deliveries for per-channel integrations
// ABOUTME: HMAC-SHA256 body signature; non-2xx responses are retried by the queue

package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyhq/parley-gateway/internal/dispatch"
	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Parley-Signature"

// WebhookDeliverer POSTs reply events to per-channel webhook URLs.
type WebhookDeliverer struct {
	client *http.Client
	secret []byte
	logger *slog.Logger
}

// NewWebhookDeliverer creates the deliverer. secret signs every body; an
// empty secret disables signing.
func NewWebhookDeliverer(secret string, timeout time.Duration, logger *slog.Logger) *WebhookDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookDeliverer{
		client: &http.Client{Timeout: timeout},
		secret: []byte(secret),
		logger: logger.With("component", "webhook"),
	}
}

// Deliver sends one event. Any non-2xx status is an error so the queue
// retries with backoff; receivers get at-least-once delivery.
func (w *WebhookDeliverer) Deliver(ctx context.Context, payload dispatch.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("encoding webhook body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("building webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	w.logger.Debug("webhook delivered", "url", payload.URL, "event", payload.Event)
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret. Receivers recompute
// this to authenticate deliveries.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookHandler drains the webhook-processing queue.
type WebhookHandler struct {
	deliverer *WebhookDeliverer
}

// NewWebhookHandler creates the handler for the webhook-processing queue.
func NewWebhookHandler(d *WebhookDeliverer) *WebhookHandler {
	return &WebhookHandler{deliverer: d}
}

// Execute implements jobs.Handler.
func (h *WebhookHandler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload dispatch.WebhookPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return retry.Permanent(fmt.Errorf("decoding webhook payload: %w", err))
	}
	if payload.URL == "" {
		return retry.Permanent(fmt.Errorf("webhook payload missing URL"))
	}
	return h.deliverer.Deliver(ctx, payload)
}
