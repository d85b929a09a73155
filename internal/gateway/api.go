// ABOUTME: HTTP API routes for the gateway
// ABOUTME: Ticket issuance, WebSocket sessions, queue stats and admin endpoints

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley-gateway/internal/auth"
	"github.com/parleyhq/parley-gateway/internal/documents"
	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/session"
	"github.com/parleyhq/parley-gateway/internal/store"
)

// newMux builds the HTTP routing table.
func (g *Gateway) newMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/auth", auth.NewTicketHandler(g.tickets, g.logger))
	mux.Handle("/ws", session.NewHandler(session.Config{
		AuthTimeout:     g.config.Session.AuthTimeout,
		GreetingTimeout: g.config.Session.GreetingTimeout,
		DispatchTimeout: g.config.Session.DispatchTimeout,
	}, g.tickets, g.dispatcher, g.registry, g.logger))

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/api/queues/stats", g.handleQueueStats)
	mux.HandleFunc("/api/queues/reset", g.handleQueueReset)
	mux.HandleFunc("/api/history", g.handleHistory)
	mux.HandleFunc("/api/channels", g.handleChannels)
	mux.HandleFunc("/api/documents", g.handleDocumentUpload)

	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, promhttp.HandlerFor(g.promRegistry, promhttp.HandlerOpts{}))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListChannels(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.registry.Len())
}

// handleQueueStats returns a consistent snapshot of every queue.
func (g *Gateway) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, g.queues.Stats())
}

// handleQueueReset clears counters and purges finished jobs. Waiting, active
// and delayed jobs are untouched.
func (g *Gateway) handleQueueReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	g.queues.ResetStatistics()
	g.logger.Info("queue statistics reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// historyMessage is the wire shape of one history row.
type historyMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHistory returns recent conversation history for a (user, channel).
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.URL.Query().Get("userId")
	channelID := r.URL.Query().Get("channelId")
	if userID == "" || channelID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId and channelId are required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := g.store.GetMessages(r.Context(), userID, channelID, limit)
	if err != nil {
		g.logger.Error("loading history", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "loading history")
		return
	}

	out := make([]historyMessage, len(msgs))
	for i, m := range msgs {
		out[i] = historyMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// channelRequest is the POST /api/channels body.
type channelRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Greeting   string `json:"greeting"`
	Model      string `json:"model"`
	WebhookURL string `json:"webhookUrl"`
}

// channelResponse is the wire shape of one channel.
type channelResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Greeting   string    `json:"greeting,omitempty"`
	Model      string    `json:"model,omitempty"`
	WebhookURL string    `json:"webhookUrl,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// handleChannels lists channels or creates a new one.
func (g *Gateway) handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.listChannels(w, r)
	case http.MethodPost:
		g.createChannel(w, r)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (g *Gateway) listChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := g.store.ListChannels(r.Context())
	if err != nil {
		g.logger.Error("listing channels", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "listing channels")
		return
	}

	out := make([]channelResponse, len(chs))
	for i, ch := range chs {
		out[i] = channelResponse{
			ID:         ch.ID,
			Name:       ch.Name,
			Kind:       string(ch.Kind),
			Greeting:   ch.Greeting,
			Model:      ch.Model,
			WebhookURL: ch.WebhookURL,
			Active:     ch.Active,
			CreatedAt:  ch.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (g *Gateway) createChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "id and name are required")
		return
	}

	kind := store.ChannelKind(req.Kind)
	switch kind {
	case store.ChannelKindWeb, store.ChannelKindWhatsApp, store.ChannelKindTelegram, store.ChannelKindEmail:
	case "":
		kind = store.ChannelKindWeb
	default:
		writeJSONError(w, http.StatusBadRequest, "unknown channel kind "+req.Kind)
		return
	}

	ch := &store.Channel{
		ID:         req.ID,
		Name:       req.Name,
		Kind:       kind,
		Greeting:   req.Greeting,
		Model:      req.Model,
		WebhookURL: req.WebhookURL,
		Active:     true,
	}
	if err := g.store.CreateChannel(r.Context(), ch); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeJSONError(w, http.StatusConflict, "channel already exists")
			return
		}
		g.logger.Error("creating channel", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "creating channel")
		return
	}

	g.logger.Info("channel created", "channel_id", ch.ID, "kind", ch.Kind)
	writeJSON(w, http.StatusCreated, channelResponse{
		ID:        ch.ID,
		Name:      ch.Name,
		Kind:      string(ch.Kind),
		Greeting:  ch.Greeting,
		Model:     ch.Model,
		Active:    ch.Active,
		CreatedAt: ch.CreatedAt,
	})
}

// documentRequest is the POST /api/documents body.
type documentRequest struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

// handleDocumentUpload enqueues a document for chunking and embedding.
func (g *Gateway) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.New().String()
	}

	job, err := g.queues.Enqueue(jobs.QueueDocuments, "process", documents.Payload{
		DocumentID: req.DocumentID,
		Content:    req.Content,
	}, 0)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueSaturated) {
			writeJSONError(w, http.StatusTooManyRequests, "document queue is full")
			return
		}
		g.logger.Error("enqueueing document", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "enqueueing document")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"documentId": req.DocumentID,
		"jobId":      job.ID,
	})
}
