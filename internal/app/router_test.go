package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/cashier"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/orders"
	"github.com/odyssey-erp/odyssey-pos/internal/stock"
	_ "github.com/odyssey-erp/odyssey-pos/testing"
)

func testRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *observability.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 1000}
	cfg.StoreDriver = StoreSQLite
	cfg.SQLitePath = "file:" + t.Name() + "?mode=memory&cache=shared"

	backend, err := OpenBackend(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	catalogSvc := catalog.NewService(backend.Catalog, nil, backend.Audit, nil, catalog.ServiceConfig{}, logger)
	orderSvc := orders.NewService(orders.Dependencies{
		Repo:       backend.Orders,
		Reconciler: stock.NewReconciler(stock.Config{}, logger),
		Catalog:    catalogSvc,
		Logger:     logger,
	}, orders.ServiceConfig{NumberPrefix: "TRX"})
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		CatalogHandler: catalog.NewHandler(logger, catalogSvc),
		CashierHandler: cashier.NewHandler(logger, cashier.NewRegistry(catalogSvc.Catalog()), catalogSvc.Catalog(), orderSvc),
		Checks:         checks,
	})
	return router, metrics
}

func TestHealthz(t *testing.T) {
	router, _ := testRouter(t, map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "ok", body["store"])
}

func TestHealthzDegraded(t *testing.T) {
	router, _ := testRouter(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"redis":"down"`)
}

func TestRouterServesAPIAndMetrics(t *testing.T) {
	router, _ := testRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/catalog/products", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/terminals/T1/cart", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"terminalId":"T1"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `route="/api/terminals/{terminal}/cart"`), rr.Body.String())
}
