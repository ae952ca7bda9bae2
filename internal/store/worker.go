package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionSweepInterval = time.Hour

// StartRetentionWorker runs a background goroutine that periodically sweeps
// stale guest sessions from the repository. A zero or negative ttl disables
// the worker.
func StartRetentionWorker(ctx context.Context, repo Repository, ttl time.Duration) {
	if ttl <= 0 {
		slog.Info("Retention worker disabled")
		return
	}

	ticker := time.NewTicker(retentionSweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", retentionSweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepStaleSessions(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepStaleSessions(ctx context.Context, repo Repository, ttl time.Duration) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	deleted, err := repo.DeleteStaleSessions(sweepCtx, ttl)
	if err != nil {
		slog.Error("Retention worker failed to sweep stale sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker swept stale sessions", "count", deleted)
	}
}
