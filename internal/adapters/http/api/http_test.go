package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/tally/internal/adapters/http/api"
	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/domain/model"
	"github.com/okian/tally/internal/executor"
	"github.com/okian/tally/internal/health"
	"github.com/okian/tally/internal/syncer"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDeps struct {
	status    health.SystemStatus
	statusErr error
	report    health.Report

	summary syncer.Summary
	syncErr error
	last    *syncer.Summary

	failed    []model.FailedActionRecord
	retryRes  model.TransactionResult
	retryErr  error
	retriedID string

	alerts      []model.Alert
	activeOnly  bool
	resolveErr  error
	resolvedIDs []string
}

func (m *mockDeps) SystemStatus(context.Context) (health.SystemStatus, error) {
	return m.status, m.statusErr
}

func (m *mockDeps) Report(context.Context) (health.Report, error) {
	return m.report, m.statusErr
}

func (m *mockDeps) SyncAll(context.Context) (syncer.Summary, error) {
	return m.summary, m.syncErr
}

func (m *mockDeps) LastSummary() (syncer.Summary, bool) {
	if m.last == nil {
		return syncer.Summary{}, false
	}
	return *m.last, true
}

func (m *mockDeps) FailedActions(context.Context) ([]model.FailedActionRecord, error) {
	return m.failed, nil
}

func (m *mockDeps) FindFailedAction(_ context.Context, subjectID, operation string) (model.FailedActionRecord, error) {
	for _, rec := range m.failed {
		if rec.SubjectID == subjectID && rec.Operation == operation {
			return rec, nil
		}
	}
	return model.FailedActionRecord{}, repository.ErrNotFound
}

func (m *mockDeps) RetryFailedAction(_ context.Context, id string) (model.TransactionResult, error) {
	m.retriedID = id
	return m.retryRes, m.retryErr
}

func (m *mockDeps) Alerts(_ context.Context, activeOnly bool) ([]model.Alert, error) {
	m.activeOnly = activeOnly
	return m.alerts, nil
}

func (m *mockDeps) ResolveAlert(_ context.Context, id string) error {
	if m.resolveErr != nil {
		return m.resolveErr
	}
	m.resolvedIDs = append(m.resolvedIDs, id)
	return nil
}

func newMux(deps api.Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

func TestStatusRoutes(t *testing.T) {
	Convey("Given an API backed by a healthy oracle", t, func() {
		last := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		deps := &mockDeps{
			status: health.SystemStatus{
				Status:          model.StatusHealthy,
				SuccessRate:     0.98,
				LastSync:        &last,
				ActiveAlerts:    []model.Alert{},
				Recommendations: []string{"System is operating normally"},
			},
			report: health.Report{
				GeneratedAt:    last,
				ErrorBreakdown: map[string]int{"INSUFFICIENT_FUNDS": 2},
			},
		}
		mux := newMux(deps)

		Convey("GET /status returns the system status", func() {
			rec := do(mux, http.MethodGet, "/status")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Header().Get("Content-Type"), ShouldStartWith, "application/json")

			var body map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
			So(body["status"], ShouldEqual, "healthy")
			So(body["success_rate"], ShouldEqual, 0.98)
			So(body["last_successful_sync"], ShouldEqual, "2025-01-01T12:00:00Z")
		})

		Convey("GET /report includes the error breakdown", func() {
			rec := do(mux, http.MethodGet, "/report")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var body health.Report
			So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
			So(body.ErrorBreakdown["INSUFFICIENT_FUNDS"], ShouldEqual, 2)
		})

		Convey("A failing monitor surfaces as a 500", func() {
			deps.statusErr = errors.New("store closed")
			rec := do(mux, http.MethodGet, "/status")
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
			So(decodeError(rec)["code"], ShouldEqual, "internal_error")
		})

		Convey("POST /status is not routed", func() {
			rec := do(mux, http.MethodPost, "/status")
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("GET /healthz serves Prometheus metrics", func() {
			_ = do(mux, http.MethodGet, "/status")
			rec := do(mux, http.MethodGet, "/healthz")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "http_requests_total")
		})
	})
}

func TestSyncRoute(t *testing.T) {
	Convey("Given an API with a sync driver", t, func() {
		deps := &mockDeps{summary: syncer.Summary{Subjects: 2, Synced: 2, LaunchesTriggered: 1}}
		mux := newMux(deps)

		Convey("POST /sync returns the batch summary", func() {
			rec := do(mux, http.MethodPost, "/sync")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var sum syncer.Summary
			So(json.Unmarshal(rec.Body.Bytes(), &sum), ShouldBeNil)
			So(sum.Synced, ShouldEqual, 2)
			So(sum.LaunchesTriggered, ShouldEqual, 1)
		})

		Convey("An overlapping sync is a conflict", func() {
			deps.syncErr = syncer.ErrSyncInProgress
			rec := do(mux, http.MethodPost, "/sync")
			So(rec.Code, ShouldEqual, http.StatusConflict)
			So(decodeError(rec)["code"], ShouldEqual, "sync_in_progress")
		})

		Convey("An unreadable source is a 503", func() {
			deps.syncErr = fmt.Errorf("%w: connection refused", syncer.ErrBatchStart)
			rec := do(mux, http.MethodPost, "/sync")
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("GET /sync before any batch is a 404", func() {
			rec := do(mux, http.MethodGet, "/sync")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(rec)["code"], ShouldEqual, "no_sync_yet")
		})

		Convey("GET /sync returns the last completed batch", func() {
			deps.last = &syncer.Summary{Subjects: 3, Synced: 2, Failed: 1}
			rec := do(mux, http.MethodGet, "/sync")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var sum syncer.Summary
			So(json.Unmarshal(rec.Body.Bytes(), &sum), ShouldBeNil)
			So(sum.Subjects, ShouldEqual, 3)
			So(sum.Failed, ShouldEqual, 1)
		})

		Convey("DELETE /sync is not routed", func() {
			rec := do(mux, http.MethodDelete, "/sync")
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestFailedActionRoutes(t *testing.T) {
	Convey("Given an API with recorded failures", t, func() {
		deps := &mockDeps{
			failed: []model.FailedActionRecord{{
				ID:         "fa-1",
				SubjectID:  "c1",
				Operation:  "updateCreatorMetrics",
				Attempts:   3,
				ErrorClass: "INSUFFICIENT_FUNDS",
			}},
			retryRes: model.TransactionResult{Success: true, TxHandle: "0xabc", Attempts: 1},
		}
		mux := newMux(deps)

		Convey("GET /failed-actions lists them", func() {
			rec := do(mux, http.MethodGet, "/failed-actions")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var recs []model.FailedActionRecord
			So(json.Unmarshal(rec.Body.Bytes(), &recs), ShouldBeNil)
			So(recs, ShouldHaveLength, 1)
			So(recs[0].ErrorClass, ShouldEqual, "INSUFFICIENT_FUNDS")
		})

		Convey("An empty registry lists as an empty array", func() {
			deps.failed = nil
			rec := do(mux, http.MethodGet, "/failed-actions")
			So(strings.TrimSpace(rec.Body.String()), ShouldEqual, "[]")
		})

		Convey("Filtering by subject and operation returns the matching record", func() {
			rec := do(mux, http.MethodGet, "/failed-actions?subject=c1&operation=updateCreatorMetrics")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var recs []model.FailedActionRecord
			So(json.Unmarshal(rec.Body.Bytes(), &recs), ShouldBeNil)
			So(recs, ShouldHaveLength, 1)
			So(recs[0].ID, ShouldEqual, "fa-1")
		})

		Convey("Filtering on a pair with no record is a 404", func() {
			rec := do(mux, http.MethodGet, "/failed-actions?subject=c2&operation=updateCreatorMetrics")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Filtering on the subject alone is a bad request", func() {
			rec := do(mux, http.MethodGet, "/failed-actions?subject=c1")
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("POST retry replays the action", func() {
			rec := do(mux, http.MethodPost, "/failed-actions/fa-1/retry")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.retriedID, ShouldEqual, "fa-1")

			var res model.TransactionResult
			So(json.Unmarshal(rec.Body.Bytes(), &res), ShouldBeNil)
			So(res.Success, ShouldBeTrue)
			So(res.TxHandle, ShouldEqual, "0xabc")
		})

		Convey("An unknown id is a 404", func() {
			deps.retryErr = fmt.Errorf("%w: fa-9", executor.ErrNotFound)
			rec := do(mux, http.MethodPost, "/failed-actions/fa-9/retry")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(rec)["code"], ShouldEqual, "not_found")
		})

		Convey("A launch that already happened is a conflict", func() {
			deps.retryErr = syncer.ErrAlreadyLaunched
			rec := do(mux, http.MethodPost, "/failed-actions/fa-1/retry")
			So(rec.Code, ShouldEqual, http.StatusConflict)
		})

		Convey("An operation that cannot be rebuilt is unprocessable", func() {
			deps.retryErr = syncer.ErrUnsupportedOperation
			rec := do(mux, http.MethodPost, "/failed-actions/fa-1/retry")
			So(rec.Code, ShouldEqual, http.StatusUnprocessableEntity)
		})
	})
}

func TestAlertRoutes(t *testing.T) {
	Convey("Given an API with alerts", t, func() {
		deps := &mockDeps{
			alerts: []model.Alert{{
				ID:       "al-1",
				Severity: model.SeverityCritical,
				Kind:     model.AlertLowSuccessRate,
				Message:  "success rate 65.0% below 70.0%",
			}},
		}
		mux := newMux(deps)

		Convey("GET /alerts lists all alerts by default", func() {
			rec := do(mux, http.MethodGet, "/alerts")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.activeOnly, ShouldBeFalse)

			var alerts []model.Alert
			So(json.Unmarshal(rec.Body.Bytes(), &alerts), ShouldBeNil)
			So(alerts, ShouldHaveLength, 1)
			So(alerts[0].Kind, ShouldEqual, model.AlertLowSuccessRate)
		})

		Convey("active=true filters to unresolved alerts", func() {
			rec := do(mux, http.MethodGet, "/alerts?active=true")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.activeOnly, ShouldBeTrue)
		})

		Convey("A malformed active flag is rejected", func() {
			rec := do(mux, http.MethodGet, "/alerts?active=maybe")
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(rec)["code"], ShouldEqual, "bad_request")
		})

		Convey("POST resolve marks the alert resolved", func() {
			rec := do(mux, http.MethodPost, "/alerts/al-1/resolve")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.resolvedIDs, ShouldResemble, []string{"al-1"})
			So(rec.Body.String(), ShouldContainSubstring, `"resolved":true`)
		})

		Convey("Resolving an unknown alert is a 404", func() {
			deps.resolveErr = fmt.Errorf("resolve alert al-9: %w", repository.ErrNotFound)
			rec := do(mux, http.MethodPost, "/alerts/al-9/resolve")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Error helpers keep their sentinel kinds", t, func() {
		err := api.WrapKind("api.op", api.ErrBadRequest, errors.New("boom"))
		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.op: bad request: boom")

		So(errors.Is(api.NewKind("api.op", api.ErrNotFound), api.ErrNotFound), ShouldBeTrue)

		base := errors.New("disk full")
		So(errors.Is(api.Wrap("api.op", base), base), ShouldBeTrue)
	})
}
