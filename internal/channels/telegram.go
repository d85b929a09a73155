// ABOUTME: Telegram sender and inbound bridge using go-telegram/bot
// ABOUTME: Long polling for updates; inbound messages are fed to the message queue

package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/parleyhq/parley-gateway/internal/dispatch"
	"github.com/parleyhq/parley-gateway/internal/jobs"
)

// TelegramBridge connects a bot account to the gateway: outbound sends via
// the send queue, inbound updates onto the message-processing queue.
type TelegramBridge struct {
	bot       *bot.Bot
	queues    *jobs.Manager
	channelID string
	logger    *slog.Logger
}

// NewTelegramBridge creates the bridge. channelID is the configured gateway
// channel that inbound Telegram traffic is attributed to.
func NewTelegramBridge(token, channelID string, queues *jobs.Manager, logger *slog.Logger) (*TelegramBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tb := &TelegramBridge{
		queues:    queues,
		channelID: channelID,
		logger:    logger.With("component", "telegram"),
	}

	b, err := bot.New(token, bot.WithDefaultHandler(tb.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	tb.bot = b
	return tb, nil
}

// Start begins long polling. Blocks until ctx is cancelled.
func (t *TelegramBridge) Start(ctx context.Context) {
	t.logger.Info("telegram long polling started", "channel_id", t.channelID)
	t.bot.Start(ctx)
}

// Send delivers a text message. The recipient is the Telegram chat ID.
func (t *TelegramBridge) Send(ctx context.Context, recipient, text string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}

	_, err = t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// handleUpdate enqueues inbound text messages for processing. The Telegram
// message ID doubles as the dedup key, so redelivered updates are harmless.
func (t *TelegramBridge) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	_, err := t.queues.Enqueue(jobs.QueueMessages, "inbound", dispatch.InboundPayload{
		UserID:    chatID,
		ChannelID: t.channelID,
		MessageID: "tg:" + strconv.Itoa(update.Message.ID),
		Text:      update.Message.Text,
	}, 0)
	if err != nil {
		t.logger.Warn("dropping inbound telegram message", "chat_id", chatID, "error", err)
	}
}
