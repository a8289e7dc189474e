// SMEPro - Subject Matter Expert collaboration server
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

	"github.com/cmiguez/smepro/internal/api"
	"github.com/cmiguez/smepro/internal/chat"
	"github.com/cmiguez/smepro/internal/config"
	"github.com/cmiguez/smepro/internal/genai"
	"github.com/cmiguez/smepro/internal/identity"
	"github.com/cmiguez/smepro/internal/middleware"
	"github.com/cmiguez/smepro/internal/presence"
	"github.com/cmiguez/smepro/internal/safety"
	"github.com/cmiguez/smepro/internal/session"
	"github.com/cmiguez/smepro/internal/store"
	"github.com/cmiguez/smepro/internal/vault"
	"github.com/cmiguez/smepro/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	if err := safety.SeedKeywords(context.Background(), repo, cfg.Safety.KeywordSeedPath); err != nil {
		slog.Error("Failed to seed moderation keywords", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	hub := session.NewHub(repo)
	client := genai.New(cfg.GenAI)
	if !client.Enabled() {
		slog.Info("AI features disabled (GENAI_API_KEY not set)")
	}

	var classifier safety.Classifier
	if client.Enabled() {
		classifier = client
	}
	gate := safety.NewGate(repo, classifier, cfg.Safety)

	chatSvc := chat.NewService(hub, client, gate)
	chatHandler := chat.NewHandler(chatSvc, hub, cfg)
	defer chatHandler.Close()

	registry := presence.NewRegistry(hub)
	typing := presence.NewTypingTracker(cfg.Presence.TypingTTL)
	presenceHandler := presence.NewHandler(hub, registry, typing, cfg.FrontendURL, cfg.IsDevelopment())

	vaultSvc := vault.NewService(repo, client, vault.DefaultFetchers()...)

	catalog, err := api.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load SME catalog", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	base := api.NewHandler(repo)
	sessionHandler := api.NewSessionHandler(base, hub)
	vaultHandler := api.NewVaultHandler(base, vaultSvc)
	safetyHandler := api.NewSafetyHandler(base, gate)
	profileHandler := api.NewProfileHandler(base)
	healthHandler := api.NewHealthHandler(repo, cfg)
	catalogHandler := api.NewCatalogHandler(catalog)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	presenceHandler.RegisterRoutes(r)
	vaultHandler.RegisterRoutes(r)
	safetyHandler.RegisterRoutes(r)
	profileHandler.RegisterRoutes(r)
	catalogHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Typing indicators expire server-side even when a client goes quiet.
	typing.StartSweeper(ctx, registry)

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
