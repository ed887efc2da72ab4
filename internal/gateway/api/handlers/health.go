package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/shoal/pkg/placement"
)

// HealthHandler handles the unauthenticated health probes.
//
//   - Liveness: is the server process running?
//   - Readiness: has the storage-node view been populated?
type HealthHandler struct {
	view      *placement.View
	startTime time.Time
}

// NewHealthHandler creates a new health handler. The view may be nil, in
// which case readiness always reports unavailable.
func NewHealthHandler(view *placement.View) *HealthHandler {
	return &HealthHandler{view: view, startTime: time.Now()}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"service":    "shoal",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime_sec": int64(uptime.Seconds()),
	})
}

// Readiness handles GET /health/ready. The gateway cannot place writes
// until the storage-node view has refreshed at least once.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.view == nil || h.view.LastRefreshed().IsZero() {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"reason": "storage node view not yet refreshed",
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"refreshed_at": h.view.LastRefreshed().UTC().Format(time.RFC3339),
	})
}
