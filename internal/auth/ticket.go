// ABOUTME: Single-use auth tickets for the session handshake
// ABOUTME: HS256 JWTs with a jti claim tracked in a TTL cache for exactly-once consumption

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/parleyhq/parley-gateway/internal/dedupe"
	"github.com/parleyhq/parley-gateway/internal/store"
)

// Ticket errors
var (
	ErrTicketInvalid     = errors.New("invalid ticket")
	ErrTicketExpired     = errors.New("ticket expired")
	ErrTicketAlreadyUsed = errors.New("ticket already used")
	ErrChannelNotFound   = errors.New("channel not found")
	ErrChannelInactive   = errors.New("channel inactive")
)

// ChannelStore is what ticket issuance needs from storage.
type ChannelStore interface {
	GetChannel(ctx context.Context, id string) (*store.Channel, error)
}

// Ticket is a short-lived, single-use credential authorizing one handshake
// attempt for a (user, channel) pair.
type Ticket struct {
	Token     string
	ExpiresIn time.Duration
}

// Identity is the verified result of consuming a ticket.
type Identity struct {
	UserID    string
	ChannelID string
}

// TicketService issues and consumes handshake tickets.
// Issuance does not create a session; it only authorizes the next handshake.
type TicketService struct {
	secret   []byte
	ttl      time.Duration
	channels ChannelStore
	consumed *dedupe.Cache
}

// NewTicketService creates a ticket service. Consumed ticket IDs are retained
// for twice the TTL so a replay always fails deterministically rather than
// racing the expiry check.
func NewTicketService(secret []byte, ttl time.Duration, channels ChannelStore) *TicketService {
	return &TicketService{
		secret:   secret,
		ttl:      ttl,
		channels: channels,
		consumed: dedupe.New(2*ttl, 100_000),
	}
}

// IssueTicket validates the channel and mints a ticket for the pair.
func (s *TicketService) IssueTicket(ctx context.Context, userID, channelID string) (*Ticket, error) {
	if userID == "" || channelID == "" {
		return nil, fmt.Errorf("%w: user and channel are required", ErrTicketInvalid)
	}

	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("looking up channel: %w", err)
	}
	if !ch.Active {
		return nil, ErrChannelInactive
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"chan": channelID,
		"jti":  uuid.New().String(),
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing ticket: %w", err)
	}

	return &Ticket{Token: token, ExpiresIn: s.ttl}, nil
}

// ConsumeTicket validates the token and burns its jti. Exactly one call per
// ticket succeeds; replays fail with ErrTicketAlreadyUsed, expired tickets
// with ErrTicketExpired, and anything malformed with ErrTicketInvalid.
func (s *TicketService) ConsumeTicket(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTicketExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTicketInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTicketInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTicketInvalid
	}

	userID, _ := claims["sub"].(string)
	channelID, _ := claims["chan"].(string)
	jti, _ := claims["jti"].(string)
	if userID == "" || channelID == "" || jti == "" {
		return nil, ErrTicketInvalid
	}

	// Burn the jti atomically; the loser of a replay race gets AlreadyUsed
	if s.consumed.CheckAndMark(jti) {
		return nil, ErrTicketAlreadyUsed
	}

	return &Identity{UserID: userID, ChannelID: channelID}, nil
}

// Close releases the consumed-ticket cache.
func (s *TicketService) Close() {
	s.consumed.Close()
}
