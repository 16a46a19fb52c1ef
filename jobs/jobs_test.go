package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/internal/stock"
)

type memoryAudit struct {
	logs []shared.AuditLog
	err  error
}

func (m *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

type memoryCleaner struct {
	calls  []time.Duration
	result error
}

func (m *memoryCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	m.calls = append(m.calls, olderThan)
	return m.result
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStockAlertJobAuditsReport(t *testing.T) {
	audit := &memoryAudit{}
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewStockAlertJob(audit, quietLogger(), metrics)

	raised := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	task, err := NewStockAlertTask(StockAlertPayload{
		OrderID:    "order-1",
		TerminalID: "T1",
		Negative:   []stock.Deduction{{ProductID: "flour", Quantity: 4, Balance: -1}},
		LowStock:   []stock.Deduction{{ProductID: "sugar", Quantity: 1, Balance: 2}, {ProductID: "flour", Quantity: 4, Balance: -1}},
		RaisedAt:   raised,
	})
	require.NoError(t, err)
	require.Equal(t, TaskStockAlert, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, audit.logs, 1)
	require.Equal(t, "stock.alert", audit.logs[0].Action)
	require.Equal(t, "order-1", audit.logs[0].EntityID)
	require.Equal(t, "T1", audit.logs[0].Actor)
	require.Equal(t, raised, audit.logs[0].At)

	families, err := registry.Gather()
	require.NoError(t, err)
	series := 0
	for _, family := range families {
		if family.GetName() == "odyssey_pos_stock_alerts_total" {
			series = len(family.GetMetric())
		}
	}
	require.Equal(t, 2, series)
}

func TestStockAlertJobRejectsBadPayload(t *testing.T) {
	job := NewStockAlertJob(&memoryAudit{}, quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskStockAlert, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskStockAlert, []byte(`{"terminal_id":"T1"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestStockAlertJobSurfacesAuditFailure(t *testing.T) {
	boom := errors.New("audit down")
	job := NewStockAlertJob(&memoryAudit{err: boom}, quietLogger(), nil)
	task, err := NewStockAlertTask(StockAlertPayload{OrderID: "order-2", TerminalID: "T1"})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestIdempotencyCleanupJob(t *testing.T) {
	cleaner := &memoryCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, quietLogger(), nil)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, []time.Duration{48 * time.Hour, DefaultIdempotencyRetention}, cleaner.calls)

	cleaner.result = errors.New("db gone")
	require.Error(t, job.Handle(context.Background(), task))

	var unset *IdempotencyCleanupJob
	require.Error(t, unset.Handle(context.Background(), task))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, quietLogger()).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body queueHealth
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, QueueDefault, body.Queue)
	require.Zero(t, body.Pending)
}
