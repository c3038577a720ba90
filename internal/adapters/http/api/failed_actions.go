package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/tally/internal/domain/model"
)

// FailedActionDependencies lists and replays failed actions.
type FailedActionDependencies interface {
	FailedActions(ctx context.Context) ([]model.FailedActionRecord, error)
	FindFailedAction(ctx context.Context, subjectID, operation string) (model.FailedActionRecord, error)
	RetryFailedAction(ctx context.Context, id string) (model.TransactionResult, error)
}

// FailedActionsHandler handles failed action requests.
type FailedActionsHandler struct {
	deps FailedActionDependencies
}

// NewFailedActionsHandler creates a new failed actions handler.
func NewFailedActionsHandler(deps FailedActionDependencies) *FailedActionsHandler {
	return &FailedActionsHandler{deps: deps}
}

// HandleList handles GET /failed-actions requests. With both subject and
// operation query parameters set, only the matching record is returned.
func (h *FailedActionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_failed_actions"
	q := r.URL.Query()
	subject, operation := strings.TrimSpace(q.Get("subject")), strings.TrimSpace(q.Get("operation"))
	if subject != "" || operation != "" {
		if subject == "" || operation == "" {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		rec, err := h.deps.FindFailedAction(r.Context(), subject, operation)
		if err != nil {
			writeUpstreamError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, []model.FailedActionRecord{rec})
		return
	}
	recs, err := h.deps.FailedActions(r.Context())
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	if recs == nil {
		recs = []model.FailedActionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleRetry handles POST /failed-actions/{id}/retry requests. A replay that
// reaches the ledger but fails again is still a 200 with success=false.
func (h *FailedActionsHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	const op = "api.retry_failed_action"
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	res, err := h.deps.RetryFailedAction(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
