// embedchat - embeddable chat widget server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mkravets/embedchat/internal/api"
	"github.com/mkravets/embedchat/internal/config"
	"github.com/mkravets/embedchat/internal/identity"
	"github.com/mkravets/embedchat/internal/middleware"
	"github.com/mkravets/embedchat/internal/proxy"
	"github.com/mkravets/embedchat/internal/store"
	"github.com/mkravets/embedchat/internal/widget"
	"github.com/mkravets/embedchat/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	transcript, err := proxy.NewTranscriptLogger(proxy.TranscriptLogConfig{
		Enabled:   cfg.TranscriptLog.Enabled,
		Dir:       cfg.TranscriptLog.Dir,
		QueueSize: cfg.TranscriptLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}

	forwarder := proxy.NewForwarder(cfg.UpstreamURL, cfg.UpstreamKey, cfg.UpstreamTimeout)
	proxyHandler := proxy.NewHandler(cfg, repo, forwarder, transcript)
	defer proxyHandler.Close()

	// Widget core: conversation manager + renderer + HTTP surface. Widget
	// turns go through the same relay pipeline as /api/proxy.
	timing := widget.Timing{
		SuggestionRotateInterval: cfg.Widget.SuggestionRotateInterval,
		LoadingStepInterval:      cfg.Widget.LoadingStepInterval,
	}
	manager := widget.NewManager(proxyHandler, widget.DefaultSuggestions, timing, cfg.Widget.ConversationTTL)
	renderer := widget.NewMarkdownRenderer(widget.RenderCapabilities{
		Inline:        true,
		LinksInNewTab: true,
	})
	widgetHandler := widget.NewHandler(manager, renderer, timing)

	healthHandler := api.NewHealthHandler(repo, cfg)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	proxyHandler.RegisterRoutes(r)
	widgetHandler.RegisterRoutes(r)

	// Serve the embedded widget page (catch-all).
	r.Handle("/*", web.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sweep idle conversations for the lifetime of the process.
	manager.StartSweeper(ctx)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
