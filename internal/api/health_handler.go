package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mkravets/embedchat/internal/config"
	"github.com/mkravets/embedchat/internal/store"
)

// HealthHandler reports service readiness. It never exposes configuration
// values, only whether they are present.
type HealthHandler struct {
	repo store.Repository
	cfg  *config.Config
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository, cfg *config.Config) *HealthHandler {
	return &HealthHandler{repo: repo, cfg: cfg}
}

// HandleReady handles GET /health/ready.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbOK := true
	if err := h.repo.Ping(r.Context()); err != nil {
		dbOK = false
		status = http.StatusServiceUnavailable
	}

	upstreamConfigured := h.cfg.UpstreamURL != "" && h.cfg.UpstreamKey != ""
	if !upstreamConfigured {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, map[string]any{
		"status":              httpStatusLabel(status),
		"database":            dbOK,
		"upstream_configured": upstreamConfigured,
	})
}

func httpStatusLabel(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// RegisterHealth registers health routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health/ready", h.HandleReady)
}
