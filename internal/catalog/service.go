package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListProducts(ctx context.Context) ([]Product, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// Service coordinates catalog reads and writes and keeps the in-memory
// Catalog in step with the durable store.
type Service struct {
	repo     RepositoryPort
	store    *Catalog
	audit    AuditPort
	cache    *Cache
	logger   *slog.Logger
	allowNeg bool
	reloads  singleflight.Group
	now      func() time.Time
}

// NewService builds Service. store, audit and cache may be nil.
func NewService(repo RepositoryPort, store *Catalog, audit AuditPort, cache *Cache, cfg ServiceConfig, logger *slog.Logger) *Service {
	if store == nil {
		store = NewCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		store:    store,
		audit:    audit,
		cache:    cache,
		logger:   logger,
		allowNeg: cfg.AllowNegativeStock,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Catalog exposes the in-memory store backing cart stock checks.
func (s *Service) Catalog() *Catalog {
	return s.store
}

// Reload refreshes the in-memory catalog from the repository. Concurrent
// callers share a single load.
func (s *Service) Reload(ctx context.Context) error {
	loadCtx := context.WithoutCancel(ctx)
	result := s.reloads.DoChan("catalog", func() (any, error) {
		products, err := s.repo.ListProducts(loadCtx)
		if err != nil {
			return nil, fmt.Errorf("catalog: list products: %w", err)
		}
		categories, err := s.repo.ListCategories(loadCtx)
		if err != nil {
			return nil, fmt.Errorf("catalog: list categories: %w", err)
		}
		s.store.Replace(products, categories)
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-result:
		return res.Err
	}
}

// Watch reloads the catalog whenever another process bumps the version.
func (s *Service) Watch(ctx context.Context) error {
	return s.cache.Listen(ctx, func(version int64) {
		if err := s.Reload(ctx); err != nil {
			s.logger.Warn("catalog reload after bump failed", slog.Int64("version", version), slog.Any("error", err))
		}
	})
}

// StockChanged reloads the catalog after stock was mutated outside this
// service and notifies other processes.
func (s *Service) StockChanged(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.bump(ctx)
	return nil
}

// ListActive lists active products matching filter.
func (s *Service) ListActive(filter Filter) []Listing {
	return s.store.ListActive(filter)
}

// ListCategories lists active categories.
func (s *Service) ListCategories() []Category {
	return s.store.Categories()
}

// AdjustStock applies a signed correction to a simple or raw material product.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (Movement, error) {
	if strings.TrimSpace(input.ProductID) == "" {
		return Movement{}, fmt.Errorf("%w: product id required", ErrInvalidProduct)
	}
	if input.Delta == 0 {
		return Movement{}, ErrZeroAdjust
	}
	var (
		movement Movement
		updated  Product
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if product.Deleted() {
			return fmt.Errorf("catalog: product %s: %w", product.ID, shared.ErrNotFound)
		}
		switch product.Kind {
		case KindSimple, KindRawMaterial:
		case KindDerived:
			return ErrDerivedAdjust
		default:
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidProduct, product.Kind)
		}
		next := product.StoredStock + input.Delta
		if next < 0 && !s.allowNeg {
			return shared.NewStockError(shared.ErrInsufficientStock, product.ID, -input.Delta, max(product.StoredStock, 0))
		}
		now := s.now()
		if err := tx.UpdateStoredStock(ctx, product.ID, next, now); err != nil {
			return err
		}
		movement = Movement{
			ID:        shared.NewID(),
			ProductID: product.ID,
			Type:      MovementAdjust,
			Delta:     input.Delta,
			Balance:   next,
			Ref:       input.Actor,
			Note:      input.Note,
			At:        now,
		}
		if err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
		product.StoredStock = next
		product.UpdatedAt = now
		updated = product
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.store.Put(updated)
	s.bump(ctx)
	s.record(ctx, input.Actor, "stock.adjust", "product", updated.ID, map[string]any{
		"delta":   input.Delta,
		"balance": movement.Balance,
		"note":    input.Note,
	})
	return movement, nil
}

// UpsertProduct creates or updates a product. Stored stock of an existing
// product is preserved; use AdjustStock to change it.
func (s *Service) UpsertProduct(ctx context.Context, product Product, actor string) (Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	product.SKU = strings.TrimSpace(product.SKU)
	if err := s.validateProduct(product); err != nil {
		return Product{}, err
	}
	creating := product.ID == ""
	if creating {
		product.ID = shared.NewID()
	}
	lookup := func(id string) (Product, bool) {
		if id == product.ID {
			return product, true
		}
		return s.store.Lookup(id)
	}
	for _, component := range product.Recipe {
		if component.ProductID == product.ID {
			return Product{}, fmt.Errorf("%w: recipe references itself", ErrInvalidProduct)
		}
		if _, ok := s.store.Lookup(component.ProductID); !ok {
			return Product{}, fmt.Errorf("catalog: recipe component %s: %w", component.ProductID, shared.ErrNotFound)
		}
	}
	if HasCycle(product, lookup) {
		return Product{}, fmt.Errorf("%w: recipe forms a cycle", ErrInvalidProduct)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		product.UpdatedAt = now
		product.DeletedAt = nil
		opening := int64(0)
		if !creating {
			existing, err := tx.GetProductForUpdate(ctx, product.ID)
			switch {
			case errors.Is(err, shared.ErrNotFound):
				creating = true
			case err != nil:
				return err
			case existing.Deleted():
				return fmt.Errorf("catalog: product %s: %w", product.ID, shared.ErrNotFound)
			default:
				product.CreatedAt = existing.CreatedAt
				product.StoredStock = existing.StoredStock
				if product.Kind == KindDerived {
					product.StoredStock = 0
				}
			}
		}
		if creating {
			product.CreatedAt = now
			if product.Kind == KindDerived {
				product.StoredStock = 0
			}
			opening = product.StoredStock
		}
		if err := tx.UpsertProduct(ctx, product); err != nil {
			return err
		}
		if opening != 0 {
			return tx.InsertMovement(ctx, Movement{
				ID:        shared.NewID(),
				ProductID: product.ID,
				Type:      MovementAdjust,
				Delta:     opening,
				Balance:   opening,
				Ref:       actor,
				Note:      "opening balance",
				At:        now,
			})
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.store.Put(product)
	s.bump(ctx)
	s.record(ctx, actor, "product.upsert", "product", product.ID, map[string]any{
		"name":  product.Name,
		"kind":  string(product.Kind),
		"price": product.Price,
	})
	return product, nil
}

func (s *Service) validateProduct(p Product) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidProduct)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: price must be non-negative", ErrInvalidProduct)
	}
	if p.Price > MaxPrice {
		return fmt.Errorf("%w: price exceeds %d", ErrInvalidProduct, MaxPrice)
	}
	if p.StoredStock < 0 {
		return fmt.Errorf("%w: stored stock must be non-negative", ErrInvalidProduct)
	}
	switch p.Kind {
	case KindSimple, KindRawMaterial:
		if len(p.Recipe) > 0 {
			return fmt.Errorf("%w: only derived products carry a recipe", ErrInvalidProduct)
		}
	case KindDerived:
		if len(p.Recipe) == 0 {
			return fmt.Errorf("%w: derived product requires a recipe", ErrInvalidProduct)
		}
		seen := make(map[string]struct{}, len(p.Recipe))
		for _, component := range p.Recipe {
			if component.ProductID == "" {
				return fmt.Errorf("%w: recipe component id required", ErrInvalidProduct)
			}
			if component.QuantityPerUnit <= 0 {
				return fmt.Errorf("%w: quantity per unit must be positive", ErrInvalidProduct)
			}
			if _, dup := seen[component.ProductID]; dup {
				return fmt.Errorf("%w: duplicate recipe component %s", ErrInvalidProduct, component.ProductID)
			}
			seen[component.ProductID] = struct{}{}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidProduct, p.Kind)
	}
	return nil
}

// DeleteProduct soft-deletes a product.
func (s *Service) DeleteProduct(ctx context.Context, id, actor string) error {
	var deleted Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if product.Deleted() {
			return fmt.Errorf("catalog: product %s: %w", id, shared.ErrNotFound)
		}
		now := s.now()
		if err := tx.SoftDeleteProduct(ctx, id, now); err != nil {
			return err
		}
		product.DeletedAt = &now
		deleted = product
		return nil
	})
	if err != nil {
		return err
	}
	s.store.Put(deleted)
	s.bump(ctx)
	s.record(ctx, actor, "product.delete", "product", id, nil)
	return nil
}

// UpsertCategory creates or renames a category.
func (s *Service) UpsertCategory(ctx context.Context, category Category, actor string) (Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return Category{}, fmt.Errorf("%w: name required", ErrInvalidCategory)
	}
	if category.ID == AllCategories {
		return Category{}, fmt.Errorf("%w: id %q is reserved", ErrInvalidCategory, AllCategories)
	}
	now := s.now()
	if category.ID == "" {
		category.ID = shared.NewID()
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = now
	}
	category.UpdatedAt = now
	category.DeletedAt = nil
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpsertCategory(ctx, category)
	})
	if err != nil {
		return Category{}, err
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("catalog reload after category upsert failed", slog.Any("error", err))
	}
	s.record(ctx, actor, "category.upsert", "category", category.ID, map[string]any{"name": category.Name})
	return category, nil
}

// ListMovements returns the most recent stock movements of a product.
func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]Movement, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("%w: product id required", ErrInvalidProduct)
	}
	limit = shared.ClampLimit(limit, 50, 500)
	key, err := s.cache.BuildKey(ctx, "pos", "movements", productID, strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	var movements []Movement
	err = s.cache.FetchJSON(ctx, key, &movements, func(ctx context.Context) (any, error) {
		return s.repo.ListMovements(ctx, productID, limit)
	})
	return movements, err
}

func (s *Service) bump(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("catalog version bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor, action, entity, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: id,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
