// ABOUTME: WebSocket transport for sessions using gorilla/websocket
// ABOUTME: HTTP handler that upgrades, wraps the conn, and runs the session

package session

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley-gateway/internal/auth"
	"github.com/parleyhq/parley-gateway/internal/dispatch"
)

const (
	wsMaxPayloadBytes = 64 * 1024
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 25 * time.Second
)

// wsConn adapts a gorilla connection to the session Conn interface. Gorilla
// allows one writer at a time, so data frames and keepalive pings share a
// mutex here.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// Handler upgrades HTTP requests to WebSocket sessions.
type Handler struct {
	cfg        Config
	tickets    *auth.TicketService
	dispatcher *dispatch.Dispatcher
	registry   *Registry
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHandler creates the /ws endpoint handler.
func NewHandler(cfg Config, tickets *auth.TicketService, dispatcher *dispatch.Dispatcher, registry *Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:        cfg,
		tickets:    tickets,
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Auth happens in-band via single-use tickets, so any origin may
			// open the socket
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	wrapped := &wsConn{conn: conn}
	go keepAlive(wrapped, r.Context().Done())

	sess := New(wrapped, h.cfg, h.tickets, h.dispatcher, h.registry, h.logger)
	h.logger.Debug("session opened", "session_id", sess.ID, "remote", r.RemoteAddr)
	sess.Run(r.Context())
	h.logger.Debug("session closed", "session_id", sess.ID)
}

// keepAlive pings until the connection or request context ends. A failed ping
// closes the connection so the session's read loop observes the dead peer.
func keepAlive(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
