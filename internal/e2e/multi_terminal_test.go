package e2e

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/localstore"
	"github.com/odyssey-erp/odyssey-pos/internal/orders"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/localdb"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/internal/stock"
)

// terminalProcess is one cashier process: its own in-memory catalog and
// order service sharing the store and redis with its peers.
type terminalProcess struct {
	catalog *catalog.Service
	orders  *orders.Service
}

func newProcess(store *localstore.Store, client *redis.Client, logger *slog.Logger) *terminalProcess {
	catalogSvc := catalog.NewService(store.Catalog(), catalog.NewCatalog(), store.Audit(), catalog.NewCache(client, time.Minute), catalog.ServiceConfig{}, logger)
	orderSvc := orders.NewService(orders.Dependencies{
		Repo:        store.Orders(),
		Reconciler:  stock.NewReconciler(stock.Config{LowStockThreshold: 2}, logger),
		Catalog:     catalogSvc,
		Audit:       store.Audit(),
		Idempotency: store.Idempotency(),
		Locker:      cache.NewLocker(client),
		Logger:      logger,
	}, orders.ServiceConfig{NumberPrefix: "TRX"})
	return &terminalProcess{catalog: catalogSvc, orders: orderSvc}
}

func effective(t *testing.T, p *terminalProcess, id string) int64 {
	t.Helper()
	n, err := p.catalog.Catalog().EffectiveStock(id)
	if err != nil {
		return -1
	}
	return n
}

func TestStockChangesPropagateAcrossTerminals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := localdb.Open(localdb.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := localstore.New(db)
	require.NoError(t, store.AutoMigrate(ctx))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	front := newProcess(store, client, logger)
	back := newProcess(store, client, logger)

	flour, err := front.catalog.UpsertProduct(ctx, catalog.Product{Name: "Flour", Kind: catalog.KindRawMaterial, StoredStock: 10}, "admin")
	require.NoError(t, err)
	bun, err := front.catalog.UpsertProduct(ctx, catalog.Product{Name: "Bun", Price: 7000, Kind: catalog.KindDerived, Recipe: []catalog.RecipeComponent{
		{ProductID: flour.ID, QuantityPerUnit: 2},
	}}, "admin")
	require.NoError(t, err)

	require.NoError(t, front.catalog.Watch(ctx))
	require.NoError(t, back.catalog.Watch(ctx))
	require.NoError(t, back.catalog.Reload(ctx))
	require.EqualValues(t, 5, effective(t, back, bun.ID))

	c := cart.New(back.catalog.Catalog())
	_, err = c.AddLine(bun, 2)
	require.NoError(t, err)
	result, err := back.orders.Checkout(ctx, "T2", c, orders.PaymentInfo{Method: orders.PaymentCard})
	require.NoError(t, err)
	require.EqualValues(t, 14000, result.Order.Totals.Total)
	require.EqualValues(t, 3, effective(t, back, bun.ID))

	require.Eventually(t, func() bool {
		return effective(t, front, bun.ID) == 3
	}, 2*time.Second, 10*time.Millisecond)

	_, err = front.catalog.AdjustStock(ctx, catalog.AdjustInput{ProductID: flour.ID, Delta: 4, Note: "delivery", Actor: "admin"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return effective(t, back, bun.ID) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLockedSavedOrderCannotBePaidTwice(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := localdb.Open(localdb.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := localstore.New(db)
	require.NoError(t, store.AutoMigrate(ctx))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := newProcess(store, client, logger)
	soda, err := proc.catalog.UpsertProduct(ctx, catalog.Product{Name: "Soda", Price: 6000, Kind: catalog.KindSimple, StoredStock: 6}, "admin")
	require.NoError(t, err)

	c := cart.New(proc.catalog.Catalog())
	_, err = c.AddLine(soda, 2)
	require.NoError(t, err)
	saved, err := proc.orders.Save(ctx, "T1", c)
	require.NoError(t, err)

	_, err = proc.orders.Load(ctx, saved.ID, c)
	require.NoError(t, err)

	release, err := cache.NewLocker(client).Acquire(ctx, shared.OrderLockKey(saved.ID), time.Minute)
	require.NoError(t, err)

	_, err = proc.orders.Checkout(ctx, "T1", c, orders.PaymentInfo{Method: orders.PaymentQRIS})
	require.ErrorIs(t, err, orders.ErrOrderBusy)
	require.Equal(t, saved.ID, c.LoadedOrderID())
	require.Equal(t, 1, c.Len())

	release()
	result, err := proc.orders.Checkout(ctx, "T1", c, orders.PaymentInfo{Method: orders.PaymentQRIS})
	require.NoError(t, err)
	require.Equal(t, saved.ID, result.Order.ID)
	require.Zero(t, c.Len())
	require.False(t, mr.Exists(shared.OrderLockKey(saved.ID)))
}
