package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/pricing"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/internal/stock"
)

const (
	idempotencyModule = "pos.checkout"
	orderLockTTL      = 30 * time.Second
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards checkout against duplicate submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// LockPort serialises checkout of the same saved order across processes.
type LockPort interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StockRefresher is notified after a checkout changed stored stock.
type StockRefresher interface {
	StockChanged(ctx context.Context) error
}

// AlertPort receives stock reports worth a follow-up.
type AlertPort interface {
	EnqueueStockAlert(ctx context.Context, orderID, terminalID string, report stock.Report) error
}

// MetricsPort records checkout outcomes.
type MetricsPort interface {
	ObserveCheckout(outcome string, total int64)
	ObserveNegativeStock(count int)
}

// Dependencies groups the collaborators of Service. Only Repo and
// Reconciler are required.
type Dependencies struct {
	Repo        RepositoryPort
	Reconciler  *stock.Reconciler
	Catalog     StockRefresher
	Audit       AuditPort
	Idempotency IdempotencyPort
	Locker      LockPort
	Alerts      AlertPort
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// ServiceConfig groups order settings.
type ServiceConfig struct {
	Tax          pricing.TaxPolicy
	NumberPrefix string
}

// Service drives the order lifecycle: save, load and checkout.
type Service struct {
	deps   Dependencies
	tax    pricing.TaxPolicy
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(deps Dependencies, cfg ServiceConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Reconciler == nil {
		deps.Reconciler = stock.NewReconciler(stock.Config{}, logger)
	}
	return &Service{
		deps:   deps,
		tax:    cfg.Tax,
		prefix: cfg.NumberPrefix,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// TaxPolicy returns the policy applied to carts and orders.
func (s *Service) TaxPolicy() pricing.TaxPolicy {
	return s.tax
}

// Save persists the cart as a saved order and clears it. A cart loaded from
// a saved order updates that order in place.
func (s *Service) Save(ctx context.Context, terminalID string, c *cart.Cart) (Order, error) {
	if strings.TrimSpace(terminalID) == "" {
		return Order{}, ErrTerminalRequired
	}
	if c.Len() == 0 {
		return Order{}, shared.ErrEmptyCart
	}
	if err := c.BeginCheckout(); err != nil {
		return Order{}, err
	}
	committed := false
	defer func() { c.EndCheckout(committed) }()

	snap := c.Snapshot()
	totals := pricing.ComputeTotals(cart.PricingLines(snap.Lines), snap.Discount, s.tax)
	now := s.now()

	var order Order
	err := s.deps.Repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if snap.LoadedOrderID != "" {
			existing, err := tx.GetOrderForUpdate(ctx, snap.LoadedOrderID)
			if err != nil {
				return err
			}
			if existing.Status == StatusPaid {
				return ErrOrderPaid
			}
			order = existing
		} else {
			order = Order{
				ID:         shared.NewID(),
				Number:     NewNumber(s.prefix, now),
				TerminalID: terminalID,
				CreatedAt:  now,
			}
		}
		order.Status = StatusSaved
		order.CustomerID = snap.CustomerID
		order.Notes = snap.Notes
		order.Lines = lockLines(snap.Lines)
		order.Discount = snap.Discount
		order.Tax = s.tax
		order.Totals = totals
		order.UpdatedAt = now
		if snap.LoadedOrderID != "" {
			return tx.UpdateOrder(ctx, order)
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return Order{}, escalate("orders: save", err)
	}
	committed = true
	s.record(ctx, terminalID, "order.saved", order.ID, map[string]any{
		"number": order.Number,
		"total":  order.Totals.Total,
		"lines":  len(order.Lines),
	})
	s.logger.Info("order saved", slog.String("order_id", order.ID), slog.String("terminal_id", terminalID))
	return order, nil
}

// Load replaces the cart with a saved order; every line is locked.
func (s *Service) Load(ctx context.Context, id string, c *cart.Cart) (Order, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if order.Status == StatusPaid {
		return Order{}, ErrOrderPaid
	}
	if err := c.LoadOrder(order.Snapshot()); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Checkout pays the cart: it re-validates stock, recomputes totals, persists
// the paid order and deducts stock in one transaction, then clears the
// cart. Any failure leaves the cart untouched and nothing paid. Once the
// transaction starts, cancelling ctx no longer aborts it.
func (s *Service) Checkout(ctx context.Context, terminalID string, c *cart.Cart, info PaymentInfo) (CheckoutResult, error) {
	if strings.TrimSpace(terminalID) == "" {
		return CheckoutResult{}, ErrTerminalRequired
	}
	if c.Len() == 0 {
		return CheckoutResult{}, shared.ErrEmptyCart
	}
	if !info.Method.Valid() {
		return CheckoutResult{}, fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, info.Method)
	}
	if err := c.BeginCheckout(); err != nil {
		return CheckoutResult{}, err
	}
	committed := false
	defer func() { c.EndCheckout(committed) }()

	if err := ctx.Err(); err != nil {
		return CheckoutResult{}, err
	}

	key := strings.TrimSpace(info.IdempotencyKey)
	if key != "" && s.deps.Idempotency != nil {
		if err := s.deps.Idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			s.observe("duplicate", 0)
			return CheckoutResult{}, err
		}
	}
	fail := func(err error) (CheckoutResult, error) {
		if key != "" && s.deps.Idempotency != nil {
			if delErr := s.deps.Idempotency.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Warn("idempotency rollback failed", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		s.observe("failed", 0)
		return CheckoutResult{}, err
	}

	snap := c.Snapshot()
	if snap.LoadedOrderID != "" && s.deps.Locker != nil {
		release, err := s.deps.Locker.Acquire(ctx, shared.OrderLockKey(snap.LoadedOrderID), orderLockTTL)
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrOrderBusy, err))
		}
		defer release()
	}

	var result CheckoutResult
	err := s.deps.Repo.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx TxRepository) error {
		items := stockItems(snap.Lines)
		if err := s.deps.Reconciler.Validate(ctx, tx, items); err != nil {
			return err
		}
		totals := pricing.ComputeTotals(cart.PricingLines(snap.Lines), snap.Discount, s.tax)
		payment, err := settle(info, totals.Total)
		if err != nil {
			return err
		}
		now := s.now()
		order := Order{
			ID:         shared.NewID(),
			Number:     NewNumber(s.prefix, now),
			TerminalID: terminalID,
			CreatedAt:  now,
		}
		if snap.LoadedOrderID != "" {
			existing, err := tx.GetOrderForUpdate(ctx, snap.LoadedOrderID)
			if err != nil {
				return err
			}
			if existing.Status == StatusPaid {
				return ErrOrderPaid
			}
			order = existing
		}
		order.Status = StatusPaid
		order.CustomerID = snap.CustomerID
		order.Notes = snap.Notes
		order.Lines = lockLines(snap.Lines)
		order.Discount = snap.Discount
		order.Tax = s.tax
		order.Totals = totals
		order.Payment = &payment
		order.UpdatedAt = now
		order.PaidAt = &now
		if snap.LoadedOrderID != "" {
			err = tx.UpdateOrder(ctx, order)
		} else {
			err = tx.InsertOrder(ctx, order)
		}
		if err != nil {
			return err
		}
		report, err := s.deps.Reconciler.Apply(ctx, tx, items, order.ID)
		if err != nil {
			return err
		}
		result = CheckoutResult{Order: order, Stock: report}
		return nil
	})
	if err != nil {
		return fail(escalate("orders: checkout", err))
	}
	committed = true

	s.afterCheckout(context.WithoutCancel(ctx), terminalID, result)
	return result, nil
}

func (s *Service) afterCheckout(ctx context.Context, terminalID string, result CheckoutResult) {
	order := result.Order
	if s.deps.Catalog != nil {
		if err := s.deps.Catalog.StockChanged(ctx); err != nil {
			s.logger.Warn("catalog refresh after checkout failed", slog.String("order_id", order.ID), slog.Any("error", err))
		}
	}
	meta := map[string]any{
		"number": order.Number,
		"total":  order.Totals.Total,
		"method": string(order.Payment.Method),
	}
	if result.Stock.WentNegative() {
		meta["negative_stock"] = result.Stock.Negative
	}
	s.record(ctx, terminalID, "order.paid", order.ID, meta)
	s.observe("paid", order.Totals.Total)
	if s.deps.Metrics != nil && result.Stock.WentNegative() {
		s.deps.Metrics.ObserveNegativeStock(len(result.Stock.Negative))
	}
	if s.deps.Alerts != nil && (result.Stock.WentNegative() || len(result.Stock.LowStock) > 0) {
		if err := s.deps.Alerts.EnqueueStockAlert(ctx, order.ID, terminalID, result.Stock); err != nil {
			s.logger.Warn("enqueue stock alert failed", slog.String("order_id", order.ID), slog.Any("error", err))
		}
	}
	s.logger.Info("order paid",
		slog.String("order_id", order.ID),
		slog.String("terminal_id", terminalID),
		slog.Int64("total", order.Totals.Total))
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, fmt.Errorf("orders: id required: %w", shared.ErrInvalidOperation)
	}
	return s.deps.Repo.GetOrder(ctx, id)
}

// List returns orders newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	switch filter.Status {
	case "", StatusDraft, StatusSaved, StatusPaid:
	default:
		return nil, fmt.Errorf("orders: unknown status %q: %w", filter.Status, shared.ErrInvalidOperation)
	}
	filter.Limit = shared.ClampLimit(filter.Limit, 50, 200)
	return s.deps.Repo.ListOrders(ctx, filter)
}

func (s *Service) observe(outcome string, total int64) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCheckout(outcome, total)
	}
}

func (s *Service) record(ctx context.Context, actor, action, id string, meta map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	err := s.deps.Audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "order",
		EntityID: id,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// escalate keeps domain errors intact and marks everything else as a
// persistence failure.
func escalate(op string, err error) error {
	for _, domain := range []error{
		shared.ErrNotFound,
		shared.ErrOutOfStock,
		shared.ErrInsufficientStock,
		shared.ErrLineLocked,
		shared.ErrEmptyCart,
		shared.ErrInvalidOperation,
		shared.ErrPersistence,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return shared.Persistence(op, err)
}
