package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/cashier"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/orders"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/stock"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.String("driver", cfg.StoreDriver), slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	} else {
		logger.Info("redis disabled, running single-process")
	}

	tax, err := cfg.TaxPolicy()
	if err != nil {
		logger.Error("tax policy", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := observability.NewMetrics()

	catalogCache := catalog.NewCache(redisClient, 5*time.Minute)
	catalogService := catalog.NewService(backend.Catalog, catalog.NewCatalog(), backend.Audit, catalogCache, catalog.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeAdjustment,
	}, logger)
	if err := catalogService.Reload(ctx); err != nil {
		logger.Error("load catalog", slog.Any("error", err))
		os.Exit(1)
	}
	if err := catalogService.Watch(ctx); err != nil {
		logger.Warn("catalog watch", slog.Any("error", err))
	}

	deps := orders.Dependencies{
		Repo:        backend.Orders,
		Reconciler:  stock.NewReconciler(stock.Config{LowStockThreshold: cfg.LowStockThreshold}, logger),
		Catalog:     catalogService,
		Audit:       backend.Audit,
		Idempotency: backend.Idempotency,
		Metrics:     metrics,
		Logger:      logger,
	}
	var jobHandler *jobs.Handler
	if redisClient != nil {
		deps.Locker = cache.NewLocker(redisClient)
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		deps.Alerts = jobClient

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}
	orderService := orders.NewService(deps, orders.ServiceConfig{
		Tax:          tax,
		NumberPrefix: cfg.OrderNumberPrefix,
	})

	checks := map[string]app.HealthCheck{"store": backend.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		CatalogHandler: catalog.NewHandler(logger, catalogService),
		CashierHandler: cashier.NewHandler(logger, cashier.NewRegistry(catalogService.Catalog()), catalogService.Catalog(), orderService),
		JobHandler:     jobHandler,
		Checks:         checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
