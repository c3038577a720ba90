package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/tally/internal/domain/model"
)

// AlertDependencies lists and resolves alerts.
type AlertDependencies interface {
	Alerts(ctx context.Context, activeOnly bool) ([]model.Alert, error)
	ResolveAlert(ctx context.Context, id string) error
}

// AlertsHandler handles alert requests.
type AlertsHandler struct {
	deps AlertDependencies
}

// NewAlertsHandler creates a new alerts handler.
func NewAlertsHandler(deps AlertDependencies) *AlertsHandler {
	return &AlertsHandler{deps: deps}
}

// HandleList handles GET /alerts?active=true requests.
func (h *AlertsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_alerts"
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		activeOnly = b
	}
	alerts, err := h.deps.Alerts(r.Context(), activeOnly)
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type resolveResponse struct {
	ID       string `json:"id"`
	Resolved bool   `json:"resolved"`
}

// HandleResolve handles POST /alerts/{id}/resolve requests.
func (h *AlertsHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	const op = "api.resolve_alert"
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	if err := h.deps.ResolveAlert(r.Context(), id); err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{ID: id, Resolved: true})
}
