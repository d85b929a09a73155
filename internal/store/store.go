// ABOUTME: Store interface and domain types for persistent gateway state
// ABOUTME: Channels, conversations, message history and document embeddings

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// ChannelKind identifies the transport a channel binds to.
type ChannelKind string

const (
	ChannelKindWeb      ChannelKind = "web"
	ChannelKindWhatsApp ChannelKind = "whatsapp"
	ChannelKindTelegram ChannelKind = "telegram"
	ChannelKindEmail    ChannelKind = "email"
)

// Channel is an operator-configured binding between a transport and an agent.
type Channel struct {
	ID         string
	Name       string
	Kind       ChannelKind
	Greeting   string // static greeting text; empty means agent-generated
	Model      string // agent model override; empty means the configured default
	WebhookURL string // optional per-reply webhook target
	Active     bool
	CreatedAt  time.Time
}

// Conversation tracks per-(user, channel) state that must survive reconnects.
type Conversation struct {
	UserID        string
	ChannelID     string
	GreetingSent  bool
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// MessageRole identifies the author side of a history row.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one history row in a conversation.
type Message struct {
	ID        string
	UserID    string
	ChannelID string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}

// Embedding is one embedded chunk of a processed document.
type Embedding struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Vector     []float32
	CreatedAt  time.Time
}

// Store defines the persistence operations the gateway needs.
type Store interface {
	// Channels
	CreateChannel(ctx context.Context, ch *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	ListChannels(ctx context.Context) ([]*Channel, error)

	// Conversations
	EnsureConversation(ctx context.Context, userID, channelID string) (*Conversation, error)
	GetConversation(ctx context.Context, userID, channelID string) (*Conversation, error)
	// MarkGreetingSent flips greeting_sent exactly once. Returns true only for
	// the call that performed the transition.
	MarkGreetingSent(ctx context.Context, userID, channelID string) (bool, error)
	TouchConversation(ctx context.Context, userID, channelID string, at time.Time) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessages(ctx context.Context, userID, channelID string, limit int) ([]*Message, error)

	// Embeddings
	SaveEmbeddings(ctx context.Context, embeddings []*Embedding) error
	CountEmbeddings(ctx context.Context, documentID string) (int, error)

	Close() error
}
