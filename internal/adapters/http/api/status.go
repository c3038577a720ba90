package api

import (
	"context"
	"net/http"

	"github.com/okian/tally/internal/health"
)

// StatusDependencies exposes the health monitor's read views.
type StatusDependencies interface {
	SystemStatus(ctx context.Context) (health.SystemStatus, error)
	Report(ctx context.Context) (health.Report, error)
}

// StatusHandler handles status and report requests.
type StatusHandler struct {
	deps StatusDependencies
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(deps StatusDependencies) *StatusHandler {
	return &StatusHandler{deps: deps}
}

// HandleStatus handles GET /status requests.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_status"
	st, err := h.deps.SystemStatus(r.Context())
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleReport handles GET /report requests.
func (h *StatusHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_report"
	rep, err := h.deps.Report(r.Context())
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
