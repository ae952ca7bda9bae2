// FitBot - WebSocket fitness chat server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/fitbot/internal/api"
	"github.com/ashureev/fitbot/internal/chat"
	"github.com/ashureev/fitbot/internal/config"
	"github.com/ashureev/fitbot/internal/llm"
	"github.com/ashureev/fitbot/internal/middleware"
	"github.com/ashureev/fitbot/internal/store"
	"github.com/ashureev/fitbot/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

// welcomeWeb greets every WebSocket client on connect and after /reset.
const welcomeWeb = "¡Hola! Soy FitBot 🤖💪 Contame en qué puedo ayudarte. " +
	"Comandos: /log <actividad>, /history, /reset, /quit."

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

	slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreKind)

	// Initialize dependencies.
	repo, err := newRepository(cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected")

	provider := llm.New(cfg.LM)
	if provider.Available(context.Background()) {
		slog.Info("Completion provider reachable", "base_url", cfg.LM.BaseURL)
	} else {
		slog.Warn("Completion provider unreachable, replies will use the fallback text", "base_url", cfg.LM.BaseURL)
	}

	registry := chat.NewRegistry()
	engine := chat.NewEngine(repo, provider, welcomeWeb, cfg.LM.Timeout)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, provider)
	wsHandler := chat.NewWebSocketHandler(repo, engine, registry)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.MethodNotAllowed(api.MethodNotAllowed)

	r.Get("/health", healthHandler.ServeHTTP)

	// WebSocket endpoint.
	r.Get("/ws/{client_id}", wsHandler.ServeHTTP)

	// Serve the embedded browser client.
	r.Handle("/*", web.Handler())

	// Streaming replies need long-lived writes, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the stale-session sweeper.
	store.StartRetentionWorker(ctx, repo, cfg.RetentionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
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

func newRepository(cfg *config.Config) (store.Repository, error) {
	switch cfg.StoreKind {
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return repo, nil
	}
}
