// Package localstore persists the catalog, orders, audit trail and
// idempotency keys in the terminal's embedded SQLite database through gorm.
// It mirrors the PostgreSQL repositories so services run unchanged offline.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/orders"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Store wraps the gorm handle.
type Store struct {
	db *gorm.DB
}

// New constructs Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the local schema.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&categoryModel{},
		&productModel{},
		&movementModel{},
		&orderModel{},
		&orderLineModel{},
		&auditModel{},
		&idempotencyModel{},
	)
}

// Catalog returns the catalog repository.
func (s *Store) Catalog() *CatalogRepository {
	return &CatalogRepository{db: s.db}
}

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{db: s.db}
}

// Audit returns the audit logger.
func (s *Store) Audit() *AuditLogger {
	return &AuditLogger{db: s.db}
}

// Idempotency returns the idempotency key store.
func (s *Store) Idempotency() *IdempotencyStore {
	return &IdempotencyStore{db: s.db}
}

// CatalogRepository implements catalog.RepositoryPort on SQLite.
type CatalogRepository struct {
	db *gorm.DB
}

// WithTx runs fn in a transaction. SQLite has no row locks; the single
// connection serialises writers instead.
func (r *CatalogRepository) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &ledger{db: tx})
	})
}

// ListProducts returns active products.
func (r *CatalogRepository) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	var rows []productModel
	if err := r.db.WithContext(ctx).Order("name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]catalog.Product, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListCategories returns active categories.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	var rows []categoryModel
	if err := r.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]catalog.Category, 0, len(rows))
	for _, row := range rows {
		out = append(out, catalog.Category{ID: row.ID, Name: row.Name, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt})
	}
	return out, nil
}

// ListMovements returns the latest movements of a product.
func (r *CatalogRepository) ListMovements(ctx context.Context, productID string, limit int) ([]catalog.Movement, error) {
	var rows []movementModel
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Movement, 0, len(rows))
	for _, m := range rows {
		out = append(out, catalog.Movement{
			ID:        m.ID,
			ProductID: m.ProductID,
			Type:      catalog.MovementType(m.Type),
			Delta:     m.Delta,
			Balance:   m.Balance,
			Ref:       m.Ref,
			Note:      m.Note,
			At:        m.OccurredAt,
		})
	}
	return out, nil
}

// ledger implements catalog.TxRepository and orders.TxRepository on a
// transaction handle.
type ledger struct {
	db *gorm.DB
}

func (l *ledger) GetProductForUpdate(ctx context.Context, id string) (catalog.Product, error) {
	var row productModel
	err := l.db.WithContext(ctx).Unscoped().Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.Product{}, fmt.Errorf("localstore: product %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return catalog.Product{}, err
	}
	return row.toDomain()
}

func (l *ledger) UpdateStoredStock(ctx context.Context, id string, stock int64, at time.Time) error {
	res := l.db.WithContext(ctx).Unscoped().Model(&productModel{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"stored_stock": stock, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("localstore: product %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (l *ledger) InsertMovement(ctx context.Context, m catalog.Movement) error {
	return l.db.WithContext(ctx).Create(&movementModel{
		ID:         m.ID,
		ProductID:  m.ProductID,
		Type:       string(m.Type),
		Delta:      m.Delta,
		Balance:    m.Balance,
		Ref:        m.Ref,
		Note:       m.Note,
		OccurredAt: m.At,
	}).Error
}

func (l *ledger) UpsertProduct(ctx context.Context, p catalog.Product) error {
	row, err := productFromDomain(p)
	if err != nil {
		return err
	}
	return l.db.WithContext(ctx).Unscoped().Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (l *ledger) SoftDeleteProduct(ctx context.Context, id string, at time.Time) error {
	return l.db.WithContext(ctx).Unscoped().Model(&productModel{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"deleted_at": at, "updated_at": at}).Error
}

func (l *ledger) UpsertCategory(ctx context.Context, c catalog.Category) error {
	row := categoryModel{ID: c.ID, Name: c.Name, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
	return l.db.WithContext(ctx).Unscoped().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{"name": c.Name, "updated_at": c.UpdatedAt, "deleted_at": nil}),
	}).Create(&row).Error
}

func (l *ledger) GetOrderForUpdate(ctx context.Context, id string) (orders.Order, error) {
	return getOrder(ctx, l.db, id)
}

func (l *ledger) InsertOrder(ctx context.Context, o orders.Order) error {
	row := orderFromDomain(o)
	return l.db.WithContext(ctx).Create(&row).Error
}

func (l *ledger) UpdateOrder(ctx context.Context, o orders.Order) error {
	row := orderFromDomain(o)
	lines := row.Lines
	row.Lines = nil
	res := l.db.WithContext(ctx).Model(&orderModel{}).
		Where("id = ? AND status <> ?", o.ID, string(orders.StatusPaid)).
		Select("*").Omit("id", "number", "terminal_id", "created_at", "deleted_at", "Lines").
		Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return orders.ErrOrderPaid
	}
	if err := l.db.WithContext(ctx).Where("order_id = ?", o.ID).Delete(&orderLineModel{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Create(&lines).Error
}

func getOrder(ctx context.Context, db *gorm.DB, id string) (orders.Order, error) {
	var row orderModel
	err := db.WithContext(ctx).
		Preload("Lines", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Where("id = ?", id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orders.Order{}, fmt.Errorf("localstore: order %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return orders.Order{}, err
	}
	return row.toDomain(), nil
}

// OrderRepository implements orders.RepositoryPort on SQLite.
type OrderRepository struct {
	db *gorm.DB
}

// WithTx runs fn in a transaction shared by order writes and stock ledger.
func (r *OrderRepository) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &ledger{db: tx})
	})
}

// GetOrder loads an order with its lines.
func (r *OrderRepository) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return getOrder(ctx, r.db, id)
}

// ListOrders lists orders newest first, without lines.
func (r *OrderRepository) ListOrders(ctx context.Context, filter orders.ListFilter) ([]orders.Order, error) {
	q := r.db.WithContext(ctx).Model(&orderModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.TerminalID != "" {
		q = q.Where("terminal_id = ?", filter.TerminalID)
	}
	var rows []orderModel
	if err := q.Order("created_at DESC, id DESC").Limit(filter.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// AuditLogger writes audit records locally.
type AuditLogger struct {
	db *gorm.DB
}

// Record persists the log entry.
func (a *AuditLogger) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return a.db.WithContext(ctx).Create(&auditModel{
		Actor:      log.Actor,
		Action:     log.Action,
		Entity:     log.Entity,
		EntityID:   log.EntityID,
		Meta:       string(meta),
		OccurredAt: at,
	}).Error
}

// IdempotencyStore persists processed keys locally.
type IdempotencyStore struct {
	db *gorm.DB
}

// CheckAndInsert ensures key uniqueness.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if err := shared.ValidateIdempotencyKey(key, module); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&idempotencyModel{Key: key, Module: module, CreatedAt: time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return shared.ErrIdempotencyConflict
	}
	return nil
}

// Delete removes a key after failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	return s.db.WithContext(ctx).Where(&idempotencyModel{Key: key}).Delete(&idempotencyModel{}).Error
}

// Cleanup removes keys older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&idempotencyModel{}).Error
}
