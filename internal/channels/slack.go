// ABOUTME: Operator notifications posted to a Slack channel
// ABOUTME: Drains the notifications queue; disabled configs use the no-op notifier

package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
)

// Notification is the payload on the notifications queue.
type Notification struct {
	// Level is "info", "warn" or "error"; it picks the message prefix.
	Level string `json:"level"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SlackNotifier posts notifications to one Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier creates the notifier for the given bot token and channel.
func NewSlackNotifier(token, channel string, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
		logger:  logger.With("component", "slack"),
	}
}

// Notify implements Notifier.
func (s *SlackNotifier) Notify(ctx context.Context, n Notification) error {
	prefix := ""
	switch n.Level {
	case "warn":
		prefix = ":warning: "
	case "error":
		prefix = ":rotating_light: "
	}

	text := fmt.Sprintf("%s*%s*\n%s", prefix, n.Title, n.Text)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}

// NopNotifier drops notifications; used when Slack is not configured.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// NotificationHandler drains the notifications queue through a Notifier.
type NotificationHandler struct {
	notifier Notifier
}

// NewNotificationHandler creates the handler for the notifications queue.
func NewNotificationHandler(n Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: n}
}

// Execute implements jobs.Handler.
func (h *NotificationHandler) Execute(ctx context.Context, job *jobs.Job) error {
	var n Notification
	if err := json.Unmarshal(job.Payload, &n); err != nil {
		return retry.Permanent(fmt.Errorf("decoding notification: %w", err))
	}
	return h.notifier.Notify(ctx, n)
}
