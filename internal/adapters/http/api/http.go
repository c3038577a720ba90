// Package api exposes the operator HTTP surface of the oracle.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/internal/syncer"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	StatusDependencies
	SyncDependencies
	FailedActionDependencies
	AlertDependencies
}

// Server wires HTTP routes for the operator API.
type Server struct {
	healthHandler        *HealthHandler
	statusHandler        *StatusHandler
	syncHandler          *SyncHandler
	failedActionsHandler *FailedActionsHandler
	alertsHandler        *AlertsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:        NewHealthHandler(),
		statusHandler:        NewStatusHandler(deps),
		syncHandler:          NewSyncHandler(deps),
		failedActionsHandler: NewFailedActionsHandler(deps),
		alertsHandler:        NewAlertsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /status", MetricsMiddleware(s.statusHandler.HandleStatus, "status"))
	mux.HandleFunc("GET /report", MetricsMiddleware(s.statusHandler.HandleReport, "report"))
	mux.HandleFunc("POST /sync", MetricsMiddleware(s.syncHandler.HandleSync, "sync"))
	mux.HandleFunc("GET /sync", MetricsMiddleware(s.syncHandler.HandleLast, "sync_last"))
	mux.HandleFunc("GET /failed-actions", MetricsMiddleware(s.failedActionsHandler.HandleList, "failed_actions"))
	mux.HandleFunc("POST /failed-actions/{id}/retry", MetricsMiddleware(s.failedActionsHandler.HandleRetry, "failed_action_retry"))
	mux.HandleFunc("GET /alerts", MetricsMiddleware(s.alertsHandler.HandleList, "alerts"))
	mux.HandleFunc("POST /alerts/{id}/resolve", MetricsMiddleware(s.alertsHandler.HandleResolve, "alert_resolve"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeUpstreamError maps errors from the oracle onto status codes.
func writeUpstreamError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, executor.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "sync_in_progress", WrapKind(op, ErrBusy, err))
	case errors.Is(err, syncer.ErrAlreadyLaunched):
		writeError(w, http.StatusConflict, "already_launched", WrapKind(op, ErrConflict, err))
	case errors.Is(err, syncer.ErrUnsupportedOperation):
		writeError(w, http.StatusUnprocessableEntity, "unsupported_operation", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, syncer.ErrBatchStart):
		writeError(w, http.StatusServiceUnavailable, "source_unavailable", Wrap(op, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}
