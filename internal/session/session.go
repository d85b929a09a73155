// ABOUTME: Per-connection session state machine over an abstract transport
// ABOUTME: Connecting -> Authenticating -> Authenticated -> Closed, greeting off the hot path

package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley-gateway/internal/agent"
	"github.com/parleyhq/parley-gateway/internal/auth"
	"github.com/parleyhq/parley-gateway/internal/dispatch"
)

// State is the lifecycle phase of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport a session runs over. The production implementation
// wraps a gorilla WebSocket connection; tests use an in-memory pipe.
type Conn interface {
	// ReadMessage blocks for the next client frame.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one frame. Implementations need not be safe for
	// concurrent use; the session serializes writes.
	WriteMessage(data []byte) error
	Close() error
}

// Config holds the session timing knobs.
type Config struct {
	// AuthTimeout is how long a connection may sit unauthenticated.
	AuthTimeout time.Duration
	// GreetingTimeout bounds the background greeting after auth.
	GreetingTimeout time.Duration
	// DispatchTimeout bounds one message round-trip through the agent.
	DispatchTimeout time.Duration
}

// Session owns one client connection from accept to close.
type Session struct {
	ID string

	cfg        Config
	conn       Conn
	tickets    *auth.TicketService
	dispatcher *dispatch.Dispatcher
	registry   *Registry
	logger     *slog.Logger

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	// inflight tracks dispatches running off the read loop.
	inflight sync.WaitGroup

	identity *auth.Identity
	// greetingDone closes when the greeting goroutine finishes; tests and
	// graceful shutdown wait on it.
	greetingDone chan struct{}
}

// New creates a session over conn. Run must be called to start it.
func New(conn Conn, cfg Config, tickets *auth.TicketService, dispatcher *dispatch.Dispatcher, registry *Registry, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		ID:           uuid.New().String(),
		cfg:          cfg,
		conn:         conn,
		tickets:      tickets,
		dispatcher:   dispatcher,
		registry:     registry,
		logger:       logger.With("component", "session"),
		greetingDone: make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Identity returns the authenticated identity, or nil before auth.
func (s *Session) Identity() *auth.Identity {
	if s.State() != StateAuthenticated {
		return nil
	}
	return s.identity
}

// Run drives the session until the connection drops or ctx is cancelled.
// It blocks; callers start it in its own goroutine.
func (s *Session) Run(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer func() {
		s.Close()
		s.inflight.Wait()
	}()

	if s.registry != nil {
		s.registry.add(s)
		defer s.registry.remove(s.ID)
	}

	// Stop the read loop when the parent context ends
	go func() {
		<-s.ctx.Done()
		_ = s.conn.Close()
	}()

	s.write(ServerFrame{Type: FrameConnected, SessionID: s.ID})

	authTimer := time.AfterFunc(s.cfg.AuthTimeout, func() {
		if st := s.State(); st == StateConnecting || st == StateAuthenticating {
			s.writeError(CodeAuthTimeout, "authentication timed out")
			s.Close()
		}
	})
	defer authTimer.Stop()

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeError(CodeInvalidFrame, "frames must be JSON objects")
			continue
		}

		switch s.State() {
		case StateConnecting:
			if frame.Type != FrameAuth {
				s.writeError(CodeAuthRequired, "first frame must be auth")
				return
			}
			s.state.Store(int32(StateAuthenticating))
			if !s.handleAuth(frame, authTimer) {
				return
			}
		case StateAuthenticated:
			s.handleFrame(frame)
		default:
			return
		}
	}
}

// Close tears the session down. Idempotent; in-flight dispatches are
// cancelled through the session context.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close()
	})
}

// handleAuth consumes the ticket. Returns false when the session must close.
func (s *Session) handleAuth(frame ClientFrame, authTimer *time.Timer) bool {
	identity, err := s.tickets.ConsumeTicket(frame.Token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTicketExpired):
			s.writeError(CodeTicketExpired, "ticket expired, request a new one")
		case errors.Is(err, auth.ErrTicketAlreadyUsed):
			s.writeError(CodeTicketUsed, "ticket already used, request a new one")
		default:
			s.writeError(CodeAuthFailed, "invalid ticket")
		}
		return false
	}

	authTimer.Stop()
	s.identity = identity
	s.state.Store(int32(StateAuthenticated))
	s.write(ServerFrame{
		Type:      FrameAuthSuccess,
		SessionID: s.ID,
		UserID:    identity.UserID,
		ChannelID: identity.ChannelID,
	})
	s.logger.Info("session authenticated",
		"session_id", s.ID, "user_id", identity.UserID, "channel_id", identity.ChannelID)

	// The greeting runs off the hot path: a slow agent delays the greeting,
	// never the user's first message
	go s.sendGreeting()
	return true
}

func (s *Session) sendGreeting() {
	defer close(s.greetingDone)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.GreetingTimeout)
	defer cancel()

	text, sent, err := s.dispatcher.Greeting(ctx, s.identity.UserID, s.identity.ChannelID)
	if err != nil {
		s.logger.Warn("greeting failed", "session_id", s.ID, "error", err)
		return
	}
	if sent {
		s.write(ServerFrame{
			Type:      FrameMessage,
			Content:   text,
			Greeting:  true,
			Timestamp: frameTime(time.Now()),
		})
	}
}

func (s *Session) handleFrame(frame ClientFrame) {
	switch frame.Type {
	case FrameMessage:
		// Dispatch off the read loop so a transport close is noticed (and
		// cancels the session context) while the agent is still working
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.handleMessage(frame)
		}()
	default:
		s.writeError(CodeInvalidFrame, "unknown frame type "+frame.Type)
	}
}

func (s *Session) handleMessage(frame ClientFrame) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DispatchTimeout)
	defer cancel()

	res, err := s.dispatcher.Dispatch(ctx,
		s.identity.UserID, s.identity.ChannelID, frame.MessageID, frame.Content)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrEmptyMessage):
			s.writeError(CodeInvalidMessage, "message text is required")
		case errors.Is(err, dispatch.ErrDuplicateInFlight):
			// A retry racing its original is dropped; the reply arrives from
			// the first delivery
			s.logger.Debug("duplicate in flight dropped",
				"session_id", s.ID, "client_message_id", frame.MessageID)
		case errors.Is(err, agent.ErrUnavailable):
			s.writeError(CodeAgentUnavailable, "the agent is unavailable, try again shortly")
		default:
			s.logger.Error("dispatch failed", "session_id", s.ID, "error", err)
			s.writeError(CodeDispatchFailed, "message could not be processed")
		}
		return
	}

	s.write(ServerFrame{
		Type:      FrameMessage,
		MessageID: res.MessageID,
		Content:   res.Reply,
		Duplicate: res.Duplicate,
		Timestamp: frameTime(time.Now()),
	})
}

func (s *Session) write(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(data); err != nil {
		s.logger.Debug("write failed", "session_id", s.ID, "error", err)
	}
}

func (s *Session) writeError(code, message string) {
	s.write(ServerFrame{Type: FrameError, Code: code, Error: message})
}
