package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mkravets/embedchat/internal/config"
	"github.com/mkravets/embedchat/internal/identity"
	"github.com/mkravets/embedchat/internal/store"
)

// ErrRateLimited is returned by Relay when the visitor exceeded the window.
var ErrRateLimited = errors.New("rate limit exceeded")

// Handler relays widget payloads to the upstream agent API. It holds no
// per-request state: each conversation turn is exactly one upstream call,
// with no retries and no session affinity.
type Handler struct {
	forwarder   *Forwarder
	repo        store.Repository
	rateLimiter *RateLimiter
	transcript  TranscriptLogger
	maxBodySize int64
}

// NewHandler creates the relay handler.
func NewHandler(cfg *config.Config, repo store.Repository, forwarder *Forwarder, transcript TranscriptLogger) *Handler {
	if transcript == nil {
		transcript = noopTranscriptLogger{}
	}
	return &Handler{
		forwarder:   forwarder,
		repo:        repo,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		transcript:  transcript,
		maxBodySize: cfg.MaxBodySize,
	}
}

// Relay performs one conversation turn: rate-limit check, transcript logging,
// and the single upstream call. The upstream's status and body come back
// unchanged; a non-2xx upstream status is the caller's to relay, not an error.
func (h *Handler) Relay(ctx context.Context, visitorID string, payload Payload) (int, []byte, error) {
	if !h.rateLimiter.Allow(visitorID) {
		return 0, nil, ErrRateLimited
	}

	reqID := chiMiddleware.GetReqID(ctx)

	slog.Info("relay request",
		"visitor_id", visitorID,
		"session_id", payload.SessionID,
		"message_length", len(payload.Data.Message.Content),
	)
	h.transcript.Log(TranscriptEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		VisitorID: visitorID,
		SessionID: payload.SessionID,
		Direction: "outbound",
		EventType: "user_message",
		Content:   payload.Data.Message.Content,
		Meta:      map[string]any{"request_id": reqID},
	})

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal relay payload: %w", err)
	}

	status, respBody, err := h.forwarder.Forward(ctx, body)
	if err != nil {
		slog.Error("relay upstream call failed", "error", err, "visitor_id", visitorID)
		h.transcript.Log(TranscriptEvent{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			VisitorID: visitorID,
			SessionID: payload.SessionID,
			Direction: "inbound",
			EventType: "relay_error",
			Content:   err.Error(),
			Meta:      map[string]any{"request_id": reqID},
		})
		return 0, nil, err
	}

	h.logAgentReply(visitorID, payload.SessionID, reqID, status, respBody)

	// Count the completed turn against the visitor record. Best effort: a
	// store failure must not fail the turn.
	if status >= 200 && status < 300 {
		if terr := h.repo.TouchVisitor(ctx, visitorID, time.Now(), 1); terr != nil {
			slog.Warn("failed to bump visitor message count", "error", terr, "visitor_id", visitorID)
		}
	}
	return status, respBody, nil
}

// HandleProxy handles /api/proxy requests. Only POST is accepted; every other
// method is rejected before anything is sent upstream.
func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(payload.Data.Message.Content) == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return
	}

	// The payload carries whatever identifiers the widget bootstrapped; the
	// authenticated visitor ID from the middleware wins so a client cannot
	// spoof another visitor's upstream session.
	payload.UserID = visitorID
	if payload.SessionID == "" {
		payload.SessionID = identity.SessionIDFromContext(r.Context())
	}

	status, respBody, err := h.Relay(r.Context(), visitorID, payload)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		http.Error(w, `{"error": "upstream request failed"}`, http.StatusBadGateway)
		return
	}

	// A non-2xx upstream status is a forwarding failure. The upstream body may
	// carry internal details, so the client gets the normalized error shape.
	if status < 200 || status >= 300 {
		slog.Warn("upstream returned error status", "status", status, "visitor_id", visitorID)
		http.Error(w, `{"error": "agent request failed"}`, http.StatusBadGateway)
		return
	}

	// Relay a successful upstream body and status unchanged.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(respBody); err != nil {
		slog.Warn("failed to write relay response", "error", err, "visitor_id", visitorID)
	}
}

func (h *Handler) logAgentReply(visitorID, sessionID, reqID string, status int, body []byte) {
	content := ""
	if status >= 200 && status < 300 {
		var env Envelope
		if err := json.Unmarshal(body, &env); err == nil {
			content = env.OutputData.Content
		}
	}
	h.transcript.Log(TranscriptEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		VisitorID: visitorID,
		SessionID: sessionID,
		Direction: "inbound",
		EventType: "agent_message",
		Content:   content,
		Meta: map[string]any{
			"request_id":      reqID,
			"upstream_status": status,
		},
	})
}

// RegisterRoutes registers the relay endpoint. All methods route to the
// handler so non-POST requests get the endpoint's own 405 response.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/api/proxy", h.HandleProxy)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Close()
	if err := h.transcript.Close(); err != nil {
		slog.Warn("failed to close transcript logger", "error", err)
	}
}
