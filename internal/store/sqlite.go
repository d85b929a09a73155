// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides channel/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each pooled connection to :memory: would open its own database, so pin
	// the pool to a single connection for in-memory use.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS channels (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			kind        TEXT NOT NULL,
			greeting    TEXT NOT NULL DEFAULT '',
			model       TEXT NOT NULL DEFAULT '',
			webhook_url TEXT NOT NULL DEFAULT '',
			active      INTEGER NOT NULL DEFAULT 1,
			created_at  DATETIME NOT NULL,

			CHECK (kind IN ('web', 'whatsapp', 'telegram', 'email'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			user_id         TEXT NOT NULL,
			channel_id      TEXT NOT NULL,
			greeting_sent   INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL,
			last_message_at DATETIME NOT NULL,

			PRIMARY KEY (user_id, channel_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL,

			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(user_id, channel_id, created_at);

		CREATE TABLE IF NOT EXISTS embeddings (
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content     TEXT NOT NULL,
			vector      BLOB NOT NULL,
			created_at  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_embeddings_document
			ON embeddings(document_id, chunk_index);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateChannel inserts a new channel. Returns ErrDuplicate on ID collision.
func (s *SQLiteStore) CreateChannel(ctx context.Context, ch *Channel) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, kind, greeting, model, webhook_url, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, string(ch.Kind), ch.Greeting, ch.Model, ch.WebhookURL, boolToInt(ch.Active), ch.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting channel: %w", err)
	}
	return nil
}

// GetChannel returns the channel with the given ID, or ErrNotFound.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, greeting, model, webhook_url, active, created_at
		 FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by creation time.
func (s *SQLiteStore) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, greeting, model, webhook_url, active, created_at
		 FROM channels ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// EnsureConversation returns the conversation for (user, channel), creating it
// if it does not exist. Safe under concurrent callers for the same pair.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, userID, channelID string) (*Conversation, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, channel_id, greeting_sent, created_at, last_message_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT(user_id, channel_id) DO NOTHING`,
		userID, channelID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring conversation: %w", err)
	}
	return s.GetConversation(ctx, userID, channelID)
}

// GetConversation returns the conversation for (user, channel), or ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, userID, channelID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, channel_id, greeting_sent, created_at, last_message_at
		 FROM conversations WHERE user_id = ? AND channel_id = ?`,
		userID, channelID)

	var c Conversation
	var sent int
	err := row.Scan(&c.UserID, &c.ChannelID, &sent, &c.CreatedAt, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	c.GreetingSent = sent != 0
	return &c, nil
}

// MarkGreetingSent flips greeting_sent exactly once for the conversation.
// The guarded UPDATE makes the transition atomic: only one caller observes
// rows affected == 1, even when reconnecting clients race.
func (s *SQLiteStore) MarkGreetingSent(ctx context.Context, userID, channelID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET greeting_sent = 1
		 WHERE user_id = ? AND channel_id = ? AND greeting_sent = 0`,
		userID, channelID)
	if err != nil {
		return false, fmt.Errorf("marking greeting sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}

// TouchConversation updates last_message_at.
func (s *SQLiteStore) TouchConversation(ctx context.Context, userID, channelID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE user_id = ? AND channel_id = ?`,
		at.UTC(), userID, channelID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// SaveMessage appends one history row.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, channel_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.ChannelID, string(msg.Role), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessages returns the most recent history rows for a conversation in
// chronological order. A limit <= 0 returns all rows.
func (s *SQLiteStore) GetMessages(ctx context.Context, userID, channelID string, limit int) ([]*Message, error) {
	query := `SELECT id, user_id, channel_id, role, content, created_at
		 FROM messages WHERE user_id = ? AND channel_id = ?
		 ORDER BY created_at DESC`
	args := []any{userID, channelID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &m.ChannelID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = MessageRole(role)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SaveEmbeddings inserts embedded chunks in a single transaction.
func (s *SQLiteStore) SaveEmbeddings(ctx context.Context, embeddings []*Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embeddings (id, document_id, chunk_index, content, vector, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range embeddings {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.DocumentID, e.ChunkIndex, e.Content, encodeVector(e.Vector), createdAt); err != nil {
			return fmt.Errorf("inserting embedding %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// CountEmbeddings returns the number of stored chunks for a document.
func (s *SQLiteStore) CountEmbeddings(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return n, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(sc scanner) (*Channel, error) {
	var ch Channel
	var kind string
	var active int
	err := sc.Scan(&ch.ID, &ch.Name, &kind, &ch.Greeting, &ch.Model, &ch.WebhookURL, &active, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}
	ch.Kind = ChannelKind(kind)
	ch.Active = active != 0
	return &ch, nil
}

// encodeVector packs a float32 slice into a little-endian blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a little-endian blob into a float32 slice.
func DecodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether the error is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
