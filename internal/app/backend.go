package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/localstore"
	"github.com/odyssey-erp/odyssey-pos/internal/orders"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/localdb"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// KeyStore is the idempotency store used by checkout and the cleanup job.
type KeyStore interface {
	orders.IdempotencyPort
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// AuditRecorder writes audit logs.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Backend bundles the durable store selected by STORE_DRIVER.
type Backend struct {
	Catalog     catalog.RepositoryPort
	Orders      orders.RepositoryPort
	Audit       AuditRecorder
	Idempotency KeyStore
	Ping        HealthCheck
	close       func()
}

// Close releases the underlying connections.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// OpenBackend connects the configured store and prepares its schema.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PGMigrate {
			if err := db.Migrate(pool); err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("postgres schema up to date")
		}
		return &Backend{
			Catalog:     catalog.NewRepository(pool),
			Orders:      orders.NewRepository(pool),
			Audit:       shared.NewAuditLogger(pool),
			Idempotency: shared.NewIdempotencyStore(pool),
			Ping:        pool.Ping,
			close:       pool.Close,
		}, nil
	case StoreSQLite:
		gdb, err := localdb.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("app: sqlite handle: %w", err)
		}
		store := localstore.New(gdb)
		if err := store.AutoMigrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		logger.Info("sqlite store ready", slog.String("path", cfg.SQLitePath))
		return &Backend{
			Catalog:     store.Catalog(),
			Orders:      store.Orders(),
			Audit:       store.Audit(),
			Idempotency: store.Idempotency(),
			Ping:        sqlDB.PingContext,
			close: func() {
				if err := sqlDB.Close(); err != nil {
					logger.Warn("sqlite close", slog.Any("error", err))
				}
			},
		}, nil
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}
}
