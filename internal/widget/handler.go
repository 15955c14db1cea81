package widget

import (
	"encoding/json"
	"errors"
	htmlpkg "html"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mkravets/embedchat/internal/api"
	"github.com/mkravets/embedchat/internal/domain"
	"github.com/mkravets/embedchat/internal/identity"
	"github.com/mkravets/embedchat/internal/proxy"
)

const maxMessageBodySize = 64 << 10 // 64KB of JSON for one chat message

// Handler exposes the widget core over HTTP for the embedded JS binding.
type Handler struct {
	manager  *Manager
	renderer Renderer
	timing   Timing
}

// NewHandler creates the widget HTTP handler.
func NewHandler(manager *Manager, renderer Renderer, timing Timing) *Handler {
	return &Handler{
		manager:  manager,
		renderer: renderer,
		timing:   timing,
	}
}

// MessageView is one conversation turn as rendered for the client. Agent
// messages carry pre-rendered HTML alongside the raw content.
type MessageView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	HTML    string `json:"html,omitempty"`
}

// SnapshotView is the full widget state as rendered for the client.
type SnapshotView struct {
	Messages        []MessageView `json:"messages"`
	Loading         bool          `json:"loading"`
	LoadingStep     int           `json:"loading_step"`
	Error           string        `json:"error,omitempty"`
	SuggestionIndex int           `json:"suggestion_index"`
}

// BootstrapView is the initial payload a freshly mounted widget needs.
type BootstrapView struct {
	VisitorID            string   `json:"visitor_id"`
	SessionID            string   `json:"session_id"`
	Suggestions          []string `json:"suggestions"`
	SuggestionIndex      int      `json:"suggestion_index"`
	RotateIntervalMillis int64    `json:"rotate_interval_ms"`
	StepIntervalMillis   int64    `json:"loading_step_interval_ms"`
}

type messageRequest struct {
	Message string `json:"message"`
}

// HandleBootstrap handles GET /api/widget/bootstrap. The identity middleware
// has already read-or-created both identifiers; this materializes the tab's
// conversation and hands the client everything it needs to render.
func (h *Handler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if visitorID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conv := h.manager.Get(visitorID, sessionID)
	conv.Touch()

	api.JSON(w, http.StatusOK, BootstrapView{
		VisitorID:            visitorID,
		SessionID:            sessionID,
		Suggestions:          conv.Suggestions(),
		SuggestionIndex:      conv.State().PromptIndex(),
		RotateIntervalMillis: h.timing.SuggestionRotateInterval.Milliseconds(),
		StepIntervalMillis:   h.timing.LoadingStepInterval.Milliseconds(),
	})
}

// HandleMessage handles POST /api/widget/message: one SubmitMessage turn.
// Failures are surfaced in the snapshot's error field — the widget stays
// usable for further submissions.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if visitorID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBodySize)
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv := h.manager.Get(visitorID, sessionID)

	err := conv.SubmitMessage(r.Context(), req.Message)
	switch {
	case err == nil:
		api.JSON(w, http.StatusOK, h.snapshot(conv))
	case errors.Is(err, ErrBusy):
		api.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, proxy.ErrRateLimited):
		api.JSON(w, http.StatusTooManyRequests, h.snapshot(conv))
	default:
		// The error is already in the snapshot; the non-2xx status lets the
		// client distinguish a failed turn without parsing the error string.
		api.JSON(w, http.StatusBadGateway, h.snapshot(conv))
	}
}

// HandleConversation handles GET /api/widget/conversation: the current
// snapshot, so a reloaded tab within the idle TTL re-renders its state.
func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if visitorID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conv := h.manager.Get(visitorID, sessionID)
	conv.Touch()
	api.JSON(w, http.StatusOK, h.snapshot(conv))
}

func (h *Handler) snapshot(conv *Conversation) SnapshotView {
	state := conv.State()
	messages := state.Messages()

	views := make([]MessageView, 0, len(messages))
	for _, msg := range messages {
		view := MessageView{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == domain.RoleAgent {
			rendered, err := h.renderer.Render(msg.Content)
			if err != nil {
				slog.Warn("markdown render failed, falling back to escaped text", "error", err)
				rendered = htmlpkg.EscapeString(msg.Content)
			}
			view.HTML = rendered
		}
		views = append(views, view)
	}

	return SnapshotView{
		Messages:        views,
		Loading:         state.Loading(),
		LoadingStep:     state.LoadingStep(),
		Error:           state.Error(),
		SuggestionIndex: state.PromptIndex(),
	}
}

// RegisterRoutes registers the widget API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/widget", func(r chi.Router) {
		r.Get("/bootstrap", h.HandleBootstrap)
		r.Post("/message", h.HandleMessage)
		r.Get("/conversation", h.HandleConversation)
	})
}
