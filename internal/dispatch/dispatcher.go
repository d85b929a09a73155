// ABOUTME: Message dispatch: dedupe, persistence, agent invocation, job fan-out
// ABOUTME: Also owns the exactly-once conversation greeting

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley-gateway/internal/agent"
	"github.com/parleyhq/parley-gateway/internal/dedupe"
	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/store"
)

// Dispatch errors
var (
	ErrEmptyMessage      = errors.New("empty message")
	ErrDuplicateInFlight = errors.New("duplicate message still processing")
)

// defaultGreeting is used when a channel has no greeting configured and the
// agent cannot produce one.
const defaultGreeting = "Hello! How can I help you today?"

// historyLimit bounds the transcript sent to the agent per turn.
const historyLimit = 20

// Result is the outcome of dispatching one inbound message.
type Result struct {
	// Reply is the agent's answer.
	Reply string
	// MessageID identifies the stored assistant message.
	MessageID string
	// Duplicate is true when the reply was served from the dedup cache
	// instead of invoking the agent again.
	Duplicate bool
}

// OutboundPayload is the job payload for channel send queues.
type OutboundPayload struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
	Text      string `json:"text"`
}

// WebhookPayload is the job payload for webhook deliveries.
type WebhookPayload struct {
	URL       string    `json:"url"`
	Event     string    `json:"event"`
	UserID    string    `json:"userId"`
	ChannelID string    `json:"channelId"`
	MessageID string    `json:"messageId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the analytics job payload.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	ChannelID string    `json:"channelId"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher routes one inbound message through dedupe, storage, the agent,
// and the background queues. Safe for concurrent use across sessions.
type Dispatcher struct {
	store   store.Store
	invoker agent.Invoker
	queues  *jobs.Manager
	seen    *dedupe.Cache
	logger  *slog.Logger
}

// New creates a dispatcher. dedupWindow is how long a clientMessageId is
// remembered; duplicates inside the window never reach the agent twice.
func New(st store.Store, invoker agent.Invoker, queues *jobs.Manager, dedupWindow time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   st,
		invoker: invoker,
		queues:  queues,
		seen:    dedupe.New(dedupWindow, 100_000),
		logger:  logger.With("component", "dispatch"),
	}
}

// Close releases the dedup cache.
func (d *Dispatcher) Close() {
	d.seen.Close()
}

// Dispatch processes one user message: persists it, invokes the agent with
// the conversation transcript, persists the reply, and fans out background
// jobs. A resend carrying the same clientMessageId within the dedup window
// returns the original reply without a second agent invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, channelID, clientMessageID, text string) (*Result, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	key := dedupKey(userID, channelID, clientMessageID)
	if clientMessageID != "" && d.seen.CheckAndMark(key) {
		if v, ok := d.seen.Get(key); ok {
			cached := v.(*Result)
			d.logger.Debug("duplicate message served from cache",
				"user_id", userID, "client_message_id", clientMessageID)
			return &Result{Reply: cached.Reply, MessageID: cached.MessageID, Duplicate: true}, nil
		}
		// First delivery is still running; the client will get its reply there
		return nil, ErrDuplicateInFlight
	}

	result, err := d.process(ctx, userID, channelID, text)
	if err != nil {
		// Let the client retry a failed message with the same ID
		if clientMessageID != "" {
			d.seen.Forget(key)
		}
		return nil, err
	}

	if clientMessageID != "" {
		d.seen.Put(key, result)
	}
	return result, nil
}

// process is the non-dedup portion of Dispatch.
func (d *Dispatcher) process(ctx context.Context, userID, channelID, text string) (*Result, error) {
	ch, err := d.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("loading channel: %w", err)
	}

	if _, err := d.store.EnsureConversation(ctx, userID, channelID); err != nil {
		return nil, fmt.Errorf("ensuring conversation: %w", err)
	}

	// Transcript before this message; the new input goes in the request itself
	history, err := d.store.GetMessages(ctx, userID, channelID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	userMsg := &store.Message{
		UserID:    userID,
		ChannelID: channelID,
		Role:      store.RoleUser,
		Content:   text,
	}
	if err := d.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("saving user message: %w", err)
	}

	reply, err := d.invoker.Invoke(ctx, agent.Request{
		Model:   ch.Model,
		History: toTurns(history),
		Input:   text,
	})
	if err != nil {
		return nil, err
	}

	assistantMsg := &store.Message{
		UserID:    userID,
		ChannelID: channelID,
		Role:      store.RoleAssistant,
		Content:   reply.Text,
	}
	if err := d.store.SaveMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("saving reply: %w", err)
	}
	if err := d.store.TouchConversation(ctx, userID, channelID, time.Now().UTC()); err != nil {
		d.logger.Warn("touching conversation failed", "error", err)
	}

	d.fanOut(ch, userID, assistantMsg.ID, reply.Text)
	return &Result{Reply: reply.Text, MessageID: assistantMsg.ID}, nil
}

// Greeting sends the conversation's one-time greeting. Exactly one call per
// (user, channel) pair across all sessions and reconnects returns sent=true;
// every other call is a cheap no-op.
func (d *Dispatcher) Greeting(ctx context.Context, userID, channelID string) (string, bool, error) {
	if _, err := d.store.EnsureConversation(ctx, userID, channelID); err != nil {
		return "", false, fmt.Errorf("ensuring conversation: %w", err)
	}

	won, err := d.store.MarkGreetingSent(ctx, userID, channelID)
	if err != nil {
		return "", false, fmt.Errorf("marking greeting: %w", err)
	}
	if !won {
		return "", false, nil
	}

	ch, err := d.store.GetChannel(ctx, channelID)
	if err != nil {
		return "", false, fmt.Errorf("loading channel: %w", err)
	}

	text := ch.Greeting
	if text == "" {
		reply, err := d.invoker.Invoke(ctx, agent.Request{
			Model: ch.Model,
			Input: "Greet the user warmly in one short sentence and offer to help.",
		})
		if err != nil {
			// The greeting mark is already burned; fall back rather than
			// losing the greeting entirely
			d.logger.Warn("agent greeting failed, using fallback", "error", err)
			text = defaultGreeting
		} else {
			text = reply.Text
		}
	}

	msg := &store.Message{
		UserID:    userID,
		ChannelID: channelID,
		Role:      store.RoleAssistant,
		Content:   text,
	}
	if err := d.store.SaveMessage(ctx, msg); err != nil {
		return "", false, fmt.Errorf("saving greeting: %w", err)
	}

	d.enqueue(jobs.QueueAnalytics, "event", Event{
		Type:      "greeting_sent",
		UserID:    userID,
		ChannelID: channelID,
		Timestamp: time.Now().UTC(),
	})
	return text, true, nil
}

// fanOut enqueues the background work a reply produces. Queue errors are
// logged, never surfaced: the user already has their reply.
func (d *Dispatcher) fanOut(ch *store.Channel, userID, messageID, text string) {
	now := time.Now().UTC()

	if queueName, ok := outboundQueue(ch.Kind); ok {
		d.enqueue(queueName, "send", OutboundPayload{
			UserID:    userID,
			ChannelID: ch.ID,
			Text:      text,
		})
	}

	if ch.WebhookURL != "" {
		d.enqueue(jobs.QueueWebhooks, "deliver", WebhookPayload{
			URL:       ch.WebhookURL,
			Event:     "message.replied",
			UserID:    userID,
			ChannelID: ch.ID,
			MessageID: messageID,
			Text:      text,
			Timestamp: now,
		})
	}

	d.enqueue(jobs.QueueAnalytics, "event", Event{
		Type:      "message_processed",
		UserID:    userID,
		ChannelID: ch.ID,
		Timestamp: now,
	})
}

func (d *Dispatcher) enqueue(queueName, jobType string, payload any) {
	if _, err := d.queues.Enqueue(queueName, jobType, payload, 0); err != nil {
		d.logger.Warn("enqueue failed", "queue", queueName, "type", jobType, "error", err)
	}
}

// outboundQueue maps a channel kind to its send queue. Web sessions get their
// reply over the socket, so they have no outbound queue.
func outboundQueue(kind store.ChannelKind) (string, bool) {
	switch kind {
	case store.ChannelKindWhatsApp:
		return jobs.QueueWhatsApp, true
	case store.ChannelKindTelegram:
		return jobs.QueueTelegram, true
	case store.ChannelKindEmail:
		return jobs.QueueEmail, true
	default:
		return "", false
	}
}

func toTurns(messages []*store.Message) []agent.Turn {
	turns := make([]agent.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, agent.Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}

func dedupKey(userID, channelID, clientMessageID string) string {
	return userID + "\x00" + channelID + "\x00" + clientMessageID
}
