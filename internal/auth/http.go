// ABOUTME: HTTP handler for ticket issuance before the WebSocket handshake
// ABOUTME: POST /auth exchanges a (userId, channelId) pair for a short-lived ticket

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// issueRequest is the POST /auth request body.
type issueRequest struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
}

// issueResponse is the POST /auth success body.
type issueResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

// errorResponse is the shared error body shape.
type errorResponse struct {
	Error string `json:"error"`
}

// TicketHandler serves ticket issuance over plain HTTP, decoupled from the
// real-time transport so clients can fetch a ticket before opening the socket.
type TicketHandler struct {
	tickets *TicketService
	logger  *slog.Logger
}

// NewTicketHandler creates the HTTP handler for POST /auth.
func NewTicketHandler(tickets *TicketService, logger *slog.Logger) *TicketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketHandler{
		tickets: tickets,
		logger:  logger.With("component", "auth-http"),
	}
}

// ServeHTTP implements http.Handler.
func (h *TicketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.ChannelID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId and channelId are required")
		return
	}

	ticket, err := h.tickets.IssueTicket(r.Context(), req.UserID, req.ChannelID)
	if err != nil {
		switch {
		case errors.Is(err, ErrChannelNotFound):
			writeJSONError(w, http.StatusNotFound, "channel not found")
		case errors.Is(err, ErrChannelInactive):
			writeJSONError(w, http.StatusUnprocessableEntity, "channel inactive")
		default:
			h.logger.Error("ticket issuance failed", "error", err, "channel_id", req.ChannelID)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.logger.Debug("ticket issued", "user_id", req.UserID, "channel_id", req.ChannelID)
	writeJSON(w, http.StatusOK, issueResponse{
		Token:            ticket.Token,
		ExpiresInSeconds: int(ticket.ExpiresIn.Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
