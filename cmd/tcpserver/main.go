// FitBot - TCP line-protocol chat server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/fitbot/internal/chat"
	"github.com/ashureev/fitbot/internal/config"
	"github.com/ashureev/fitbot/internal/llm"
	"github.com/ashureev/fitbot/internal/store"
	"github.com/ashureev/fitbot/internal/tcpserver"
	"github.com/joho/godotenv"
)

// welcomeTCP is re-sent by the engine after /reset. The banner shown on
// connect lives in the tcpserver package.
const welcomeTCP = "Listo, empecemos de cero. Contame en qué puedo ayudarte."

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

	slog.Info("Starting TCP server", "addr", cfg.TCPAddr, "store", cfg.StoreKind)

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
	if !provider.Available(context.Background()) {
		slog.Warn("Completion provider unreachable, replies will use the fallback text", "base_url", cfg.LM.BaseURL)
	}

	registry := chat.NewRegistry()
	engine := chat.NewEngine(repo, provider, welcomeTCP, cfg.LM.Timeout)
	srv := tcpserver.New(cfg.TCPAddr, repo, engine, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartRetentionWorker(ctx, repo, cfg.RetentionTTL)

	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("TCP server failed", "error", err)
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
