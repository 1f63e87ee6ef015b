package handlers

import (
	"net/http"
	"time"

	"github.com/campusclub/api/internal/platform/httpx"
	"github.com/campusclub/api/internal/repositories"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	db        repositories.HealthRepository
	clock     func() time.Time
	startedAt time.Time
}

// NewHealthHandlers constructs the probe handlers. A nil repository marks
// the readiness probe as unavailable.
func NewHealthHandlers(db repositories.HealthRepository) *HealthHandlers {
	now := time.Now().UTC()
	return &HealthHandlers{
		db:        db,
		clock:     func() time.Time { return time.Now().UTC() },
		startedAt: now,
	}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	})
}

// Readyz reports whether the API can reach its database.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.db == nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "database not configured", http.StatusServiceUnavailable))
		return
	}
	if err := h.db.Ping(ctx); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "database unreachable", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.clock().Format(time.RFC3339),
	})
}
