package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/tally/internal/syncer"
)

// SyncDependencies triggers a sync batch and reports the last one.
type SyncDependencies interface {
	SyncAll(ctx context.Context) (syncer.Summary, error)
	LastSummary() (syncer.Summary, bool)
}

// SyncHandler handles manual sync requests.
type SyncHandler struct {
	deps SyncDependencies
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(deps SyncDependencies) *SyncHandler {
	return &SyncHandler{deps: deps}
}

// HandleSync handles POST /sync. The batch runs to completion before the
// summary is returned; an overlapping request gets 409.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_sync"
	sum, err := h.deps.SyncAll(r.Context())
	if err != nil {
		writeUpstreamError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// HandleLast handles GET /sync, returning the summary of the most recent
// completed batch.
func (h *SyncHandler) HandleLast(w http.ResponseWriter, _ *http.Request) {
	const op = "api.get_sync"
	sum, ok := h.deps.LastSummary()
	if !ok {
		writeError(w, http.StatusNotFound, "no_sync_yet", WrapKind(op, ErrNotFound, errors.New("no batch has completed")))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
