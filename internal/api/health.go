package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/fitbot/internal/store"
)

// availabilityChecker reports whether the completion provider is reachable.
type availabilityChecker interface {
	Available(ctx context.Context) bool
}

// HealthHandler serves GET /health. Store reachability decides the status;
// provider availability is reported alongside so the client can warn about
// degraded completions without failing the probe.
type HealthHandler struct {
	repo     store.Repository
	provider availabilityChecker
}

// NewHealthHandler creates the health probe handler.
func NewHealthHandler(repo store.Repository, provider availabilityChecker) *HealthHandler {
	return &HealthHandler{repo: repo, provider: provider}
}

type healthResponse struct {
	Status            string `json:"status"`
	LMClientAvailable bool   `json:"lm_client_available"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	available := h.provider.Available(ctx)

	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("health check: store unreachable", "error", err)
		JSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:            "degraded",
			LMClientAvailable: available,
		})
		return
	}

	JSON(w, http.StatusOK, healthResponse{
		Status:            "ok",
		LMClientAvailable: available,
	})
}
