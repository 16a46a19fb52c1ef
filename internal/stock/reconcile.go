// Package stock deducts consumed inventory when an order is paid. All reads
// and writes go through a Ledger bound to the caller's transaction.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Ledger is the transactional subset of the catalog repository used here.
type Ledger interface {
	GetProductForUpdate(ctx context.Context, id string) (catalog.Product, error)
	UpdateStoredStock(ctx context.Context, id string, stock int64, at time.Time) error
	InsertMovement(ctx context.Context, movement catalog.Movement) error
}

// Item is a sold quantity of one product.
type Item struct {
	ProductID string
	Quantity  int64
}

// Deduction is a stored-stock change applied to one product.
type Deduction struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Balance   int64  `json:"balance"`
}

// Report summarises an Apply call. Negative lists products whose stored
// stock went below zero; LowStock lists those at or under the threshold.
type Report struct {
	Applied  []Deduction `json:"applied"`
	Negative []Deduction `json:"negative,omitempty"`
	LowStock []Deduction `json:"lowStock,omitempty"`
}

// WentNegative reports whether any deduction left a negative balance.
func (r Report) WentNegative() bool {
	return len(r.Negative) > 0
}

// Config tunes the reconciler.
type Config struct {
	LowStockThreshold int64
}

// Reconciler validates and applies stock deductions.
type Reconciler struct {
	lowStock int64
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler builds a Reconciler.
func NewReconciler(cfg Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{lowStock: cfg.LowStockThreshold, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Validate re-reads stock through ledger and fails with
// shared.ErrInsufficientStock when any item exceeds its effective stock or
// when the combined demand of all items on one stored product exceeds what
// is stored, as happens when a recipe and its ingredient share a cart. It
// performs no writes.
func (r *Reconciler) Validate(ctx context.Context, ledger Ledger, items []Item) error {
	snap := newSnapshot(ledger)
	for _, item := range sortedItems(items) {
		if err := snap.loadTree(ctx, item.ProductID); err != nil {
			return err
		}
	}
	for _, item := range items {
		product, ok := snap.lookup(item.ProductID)
		if !ok {
			return fmt.Errorf("stock: product %s: %w", item.ProductID, shared.ErrNotFound)
		}
		available := catalog.EffectiveStock(product, snap.lookup)
		if item.Quantity > available {
			return shared.NewStockError(shared.ErrInsufficientStock, item.ProductID, item.Quantity, available)
		}
	}

	plan, err := planFrom(ctx, snap, items)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(plan))
	for id := range plan {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		product, _ := snap.lookup(id)
		stored := max(product.StoredStock, 0)
		if plan[id] > stored {
			return shared.NewStockError(shared.ErrInsufficientStock, id, plan[id], stored)
		}
	}
	return nil
}

// Plan expands items into per-product stored-stock deductions, cascading
// through recipes. A recipe cycle is an invalid operation; a missing or
// deleted component is not found.
func (r *Reconciler) Plan(ctx context.Context, ledger Ledger, items []Item) (map[string]int64, error) {
	return planFrom(ctx, newSnapshot(ledger), items)
}

func planFrom(ctx context.Context, snap *snapshot, items []Item) (map[string]int64, error) {
	plan := make(map[string]int64)
	for _, item := range sortedItems(items) {
		if item.Quantity <= 0 {
			continue
		}
		if err := snap.loadTree(ctx, item.ProductID); err != nil {
			return nil, err
		}
		if err := expand(snap, item.ProductID, item.Quantity, plan, make(map[string]struct{})); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func expand(snap *snapshot, id string, qty int64, plan map[string]int64, path map[string]struct{}) error {
	product, ok := snap.lookup(id)
	if !ok {
		return fmt.Errorf("stock: product %s: %w", id, shared.ErrNotFound)
	}
	switch product.Kind {
	case catalog.KindSimple, catalog.KindRawMaterial:
		plan[id] += qty
		return nil
	case catalog.KindDerived:
		if _, seen := path[id]; seen {
			return fmt.Errorf("stock: recipe cycle at %s: %w", id, shared.ErrInvalidOperation)
		}
		path[id] = struct{}{}
		defer delete(path, id)
		if len(product.Recipe) == 0 {
			return fmt.Errorf("stock: derived product %s has no recipe: %w", id, shared.ErrInvalidOperation)
		}
		for _, component := range product.Recipe {
			if component.QuantityPerUnit <= 0 {
				return fmt.Errorf("stock: component %s of %s has no quantity: %w", component.ProductID, id, shared.ErrInvalidOperation)
			}
			if err := expand(snap, component.ProductID, qty*component.QuantityPerUnit, plan, path); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("stock: product %s has unknown kind %q: %w", id, product.Kind, shared.ErrInvalidOperation)
	}
}

// Apply deducts the stock consumed by items and records a SALE movement per
// product referencing ref. Balances may go negative; those are reported, not
// rejected. Any failure is escalated as shared.ErrPersistence so the caller
// aborts its transaction.
func (r *Reconciler) Apply(ctx context.Context, ledger Ledger, items []Item, ref string) (Report, error) {
	plan, err := r.Plan(ctx, ledger, items)
	if err != nil {
		return Report{}, shared.Persistence("stock: plan", err)
	}
	ids := make([]string, 0, len(plan))
	for id := range plan {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := r.now()
	var report Report
	for _, id := range ids {
		qty := plan[id]
		product, err := ledger.GetProductForUpdate(ctx, id)
		if err != nil {
			return Report{}, shared.Persistence("stock: load "+id, err)
		}
		balance := product.StoredStock - qty
		if err := ledger.UpdateStoredStock(ctx, id, balance, now); err != nil {
			return Report{}, shared.Persistence("stock: update "+id, err)
		}
		err = ledger.InsertMovement(ctx, catalog.Movement{
			ID:        shared.NewID(),
			ProductID: id,
			Type:      catalog.MovementSale,
			Delta:     -qty,
			Balance:   balance,
			Ref:       ref,
			At:        now,
		})
		if err != nil {
			return Report{}, shared.Persistence("stock: movement "+id, err)
		}
		d := Deduction{ProductID: id, Quantity: qty, Balance: balance}
		report.Applied = append(report.Applied, d)
		if balance < 0 {
			report.Negative = append(report.Negative, d)
			r.logger.Warn("stock went negative",
				slog.String("product_id", id),
				slog.Int64("balance", balance),
				slog.String("ref", ref))
		}
		if balance <= r.lowStock {
			report.LowStock = append(report.LowStock, d)
		}
	}
	return report, nil
}

func sortedItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// snapshot caches products read (and locked) through a ledger.
type snapshot struct {
	ledger   Ledger
	products map[string]catalog.Product
	missing  map[string]struct{}
}

func newSnapshot(ledger Ledger) *snapshot {
	return &snapshot{ledger: ledger, products: make(map[string]catalog.Product), missing: make(map[string]struct{})}
}

func (s *snapshot) lookup(id string) (catalog.Product, bool) {
	p, ok := s.products[id]
	if !ok || p.Deleted() {
		return catalog.Product{}, false
	}
	return p, true
}

// loadTree reads id and every product reachable through recipes. Absent
// products are remembered and left for the caller to judge.
func (s *snapshot) loadTree(ctx context.Context, id string) error {
	if _, ok := s.products[id]; ok {
		return nil
	}
	if _, ok := s.missing[id]; ok {
		return nil
	}
	product, err := s.ledger.GetProductForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.missing[id] = struct{}{}
			return nil
		}
		return shared.Persistence("stock: load "+id, err)
	}
	s.products[id] = product
	if product.Kind != catalog.KindDerived {
		return nil
	}
	for _, component := range product.Recipe {
		if err := s.loadTree(ctx, component.ProductID); err != nil {
			return err
		}
	}
	return nil
}
