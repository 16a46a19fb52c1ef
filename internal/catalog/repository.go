package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// GetProductForUpdate locks and returns a product, including soft-deleted
	// ones. It returns shared.ErrNotFound when the row is absent.
	GetProductForUpdate(ctx context.Context, id string) (Product, error)
	UpdateStoredStock(ctx context.Context, id string, stock int64, at time.Time) error
	InsertMovement(ctx context.Context, movement Movement) error
	UpsertProduct(ctx context.Context, product Product) error
	SoftDeleteProduct(ctx context.Context, id string, at time.Time) error
	UpsertCategory(ctx context.Context, category Category) error
}

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const productColumns = `id, name, sku, price, category_id, kind, stored_stock, recipe, created_at, updated_at, deleted_at`

// ListProducts returns every active product.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE deleted_at IS NULL ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListCategories returns every active category.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM categories WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMovements returns the latest movements of a product, newest first.
func (r *Repository) ListMovements(ctx context.Context, productID string, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, type, delta, balance, ref, note, occurred_at
FROM stock_movements WHERE product_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var typ string
		if err := rows.Scan(&m.ID, &m.ProductID, &typ, &m.Delta, &m.Balance, &m.Ref, &m.Note, &m.At); err != nil {
			return nil, err
		}
		m.Type = MovementType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps a pgx transaction; other packages reuse it to take
// part in the same transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, id string) (Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("catalog: product %s: %w", id, shared.ErrNotFound)
	}
	return p, err
}

func (r *txRepo) UpdateStoredStock(ctx context.Context, id string, stock int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stored_stock = $2, updated_at = $3 WHERE id = $1`, id, stock, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: product %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements (id, product_id, type, delta, balance, ref, note, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, m.ID, m.ProductID, string(m.Type), m.Delta, m.Balance, m.Ref, m.Note, m.At)
	return err
}

func (r *txRepo) UpsertProduct(ctx context.Context, p Product) error {
	recipe, err := json.Marshal(recipeOrEmpty(p.Recipe))
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO products (id, name, sku, price, category_id, kind, stored_stock, recipe, created_at, updated_at, deleted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price,
	category_id = EXCLUDED.category_id, kind = EXCLUDED.kind, stored_stock = EXCLUDED.stored_stock,
	recipe = EXCLUDED.recipe, updated_at = EXCLUDED.updated_at, deleted_at = NULL`,
		p.ID, p.Name, p.SKU, p.Price, p.CategoryID, string(p.Kind), p.StoredStock, recipe, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *txRepo) SoftDeleteProduct(ctx context.Context, id string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET deleted_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *txRepo) UpsertCategory(ctx context.Context, c Category) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO categories (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at, deleted_at = NULL`,
		c.ID, c.Name, c.CreatedAt, c.UpdatedAt)
	return err
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p      Product
		kind   string
		recipe []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.CategoryID, &kind, &p.StoredStock, &recipe, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
		return Product{}, err
	}
	p.Kind = Kind(kind)
	if len(recipe) > 0 {
		if err := json.Unmarshal(recipe, &p.Recipe); err != nil {
			return Product{}, fmt.Errorf("catalog: decode recipe of %s: %w", p.ID, err)
		}
	}
	if len(p.Recipe) == 0 {
		p.Recipe = nil
	}
	return p, nil
}

func recipeOrEmpty(recipe []RecipeComponent) []RecipeComponent {
	if recipe == nil {
		return []RecipeComponent{}
	}
	return recipe
}
