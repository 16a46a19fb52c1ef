package catalog

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type memoryRepo struct {
	products   map[string]Product
	categories map[string]Category
	movements  []Movement
	lists      int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(products ...Product) *memoryRepo {
	repo := &memoryRepo{products: make(map[string]Product), categories: make(map[string]Category)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	products := maps.Clone(r.products)
	categories := maps.Clone(r.categories)
	movements := len(r.movements)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products = products
		r.categories = categories
		r.movements = r.movements[:movements]
		return err
	}
	return nil
}

func (r *memoryRepo) ListProducts(context.Context) ([]Product, error) {
	r.lists++
	var out []Product
	for _, p := range r.products {
		if !p.Deleted() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListCategories(context.Context) ([]Category, error) {
	var out []Category
	for _, c := range r.categories {
		out = append(out, c)
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, productID string, limit int) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memoryTx) GetProductForUpdate(_ context.Context, id string) (Product, error) {
	p, ok := tx.repo.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (tx *memoryTx) UpdateStoredStock(_ context.Context, id string, stock int64, at time.Time) error {
	p := tx.repo.products[id]
	p.StoredStock = stock
	p.UpdatedAt = at
	tx.repo.products[id] = p
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) error {
	tx.repo.movements = append(tx.repo.movements, m)
	return nil
}

func (tx *memoryTx) UpsertProduct(_ context.Context, p Product) error {
	tx.repo.products[p.ID] = p
	return nil
}

func (tx *memoryTx) SoftDeleteProduct(_ context.Context, id string, at time.Time) error {
	p := tx.repo.products[id]
	p.DeletedAt = &at
	tx.repo.products[id] = p
	return nil
}

func (tx *memoryTx) UpsertCategory(_ context.Context, c Category) error {
	tx.repo.categories[c.ID] = c
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestService(t *testing.T, cfg ServiceConfig, products ...Product) (*Service, *memoryRepo, *memoryAudit) {
	t.Helper()
	repo := newMemoryRepo(products...)
	audit := &memoryAudit{}
	svc := NewService(repo, nil, audit, nil, cfg, nil)
	require.NoError(t, svc.Reload(context.Background()))
	return svc, repo, audit
}

func TestAdjustStock(t *testing.T) {
	svc, repo, audit := newTestService(t, ServiceConfig{},
		Product{ID: "flour", Name: "Flour", Kind: KindRawMaterial, StoredStock: 10},
		Product{ID: "cake", Name: "Cake", Kind: KindDerived, Recipe: []RecipeComponent{{ProductID: "flour", QuantityPerUnit: 2}}},
	)
	ctx := context.Background()

	mv, err := svc.AdjustStock(ctx, AdjustInput{ProductID: "flour", Delta: 5, Note: "delivery", Actor: "T1"})
	require.NoError(t, err)
	require.EqualValues(t, 15, mv.Balance)
	require.Equal(t, MovementAdjust, mv.Type)
	require.EqualValues(t, 15, repo.products["flour"].StoredStock)

	cakeStock, err := svc.Catalog().EffectiveStock("cake")
	require.NoError(t, err)
	require.EqualValues(t, 7, cakeStock)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "stock.adjust", audit.logs[0].Action)

	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: "cake", Delta: 1})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: "nope", Delta: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: "flour", Delta: 0})
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: "flour", Delta: -16})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.EqualValues(t, 15, repo.products["flour"].StoredStock)
	require.Len(t, repo.movements, 1)
}

func TestAdjustStockAllowNegative(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{AllowNegativeStock: true},
		Product{ID: "cup", Name: "Cup", Kind: KindSimple, StoredStock: 1},
	)
	mv, err := svc.AdjustStock(context.Background(), AdjustInput{ProductID: "cup", Delta: -3})
	require.NoError(t, err)
	require.EqualValues(t, -2, mv.Balance)
	require.EqualValues(t, -2, repo.products["cup"].StoredStock)

	stock, err := svc.Catalog().EffectiveStock("cup")
	require.NoError(t, err)
	require.Zero(t, stock)
}

func TestAdjustStockSoftDeleted(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{}, Product{ID: "cup", Name: "Cup", Kind: KindSimple, StoredStock: 1})
	ctx := context.Background()
	require.NoError(t, svc.DeleteProduct(ctx, "cup", "T1"))

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: "cup", Delta: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, svc.ListActive(Filter{}))

	require.ErrorIs(t, svc.DeleteProduct(ctx, "cup", "T1"), shared.ErrNotFound)
}

func TestUpsertProductValidation(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{}, Product{ID: "flour", Name: "Flour", Kind: KindRawMaterial, StoredStock: 10})
	ctx := context.Background()

	cases := map[string]Product{
		"no name":          {Kind: KindSimple},
		"negative price":   {Name: "x", Kind: KindSimple, Price: -1},
		"price too large":  {Name: "x", Kind: KindSimple, Price: MaxPrice + 1},
		"unknown kind":     {Name: "x", Kind: Kind("bundle")},
		"simple recipe":    {Name: "x", Kind: KindSimple, Recipe: []RecipeComponent{{ProductID: "flour", QuantityPerUnit: 1}}},
		"empty recipe":     {Name: "x", Kind: KindDerived},
		"zero per unit":    {Name: "x", Kind: KindDerived, Recipe: []RecipeComponent{{ProductID: "flour", QuantityPerUnit: 0}}},
		"duplicate":        {Name: "x", Kind: KindDerived, Recipe: []RecipeComponent{{ProductID: "flour", QuantityPerUnit: 1}, {ProductID: "flour", QuantityPerUnit: 2}}},
		"self reference":   {ID: "self", Name: "x", Kind: KindDerived, Recipe: []RecipeComponent{{ProductID: "self", QuantityPerUnit: 1}}},
		"negative opening": {Name: "x", Kind: KindSimple, StoredStock: -1},
	}
	for name, product := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.UpsertProduct(ctx, product, "T1")
			require.ErrorIs(t, err, shared.ErrInvalidOperation)
		})
	}

	_, err := svc.UpsertProduct(ctx, Product{Name: "x", Kind: KindDerived, Recipe: []RecipeComponent{{ProductID: "ghost", QuantityPerUnit: 1}}}, "T1")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpsertProductLifecycle(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{}, Product{ID: "flour", Name: "Flour", Kind: KindRawMaterial, StoredStock: 10})
	ctx := context.Background()

	bread, err := svc.UpsertProduct(ctx, Product{Name: " Bread ", Price: 12000, Kind: KindDerived, StoredStock: 99, Recipe: []RecipeComponent{{ProductID: "flour", QuantityPerUnit: 2}}}, "T1")
	require.NoError(t, err)
	require.NotEmpty(t, bread.ID)
	require.Equal(t, "Bread", bread.Name)
	require.Zero(t, bread.StoredStock)

	listing := svc.ListActive(Filter{SearchText: "bread"})
	require.Len(t, listing, 1)
	require.EqualValues(t, 5, listing[0].EffectiveStock)

	cup, err := svc.UpsertProduct(ctx, Product{Name: "Cup", Kind: KindSimple, StoredStock: 4}, "T1")
	require.NoError(t, err)
	require.Len(t, repo.movements, 1)
	require.Equal(t, "opening balance", repo.movements[0].Note)

	cup.Price = 500
	cup.StoredStock = 1000
	updated, err := svc.UpsertProduct(ctx, cup, "T1")
	require.NoError(t, err)
	require.EqualValues(t, 4, updated.StoredStock)
	require.EqualValues(t, 500, repo.products[cup.ID].Price)
	require.Len(t, repo.movements, 1)
}

func TestUpsertProductRejectsCycle(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{},
		Product{ID: "flour", Name: "Flour", Kind: KindRawMaterial, StoredStock: 10},
		Product{ID: "a", Name: "A", Kind: KindDerived, Recipe: []RecipeComponent{{ProductID: "flour", QuantityPerUnit: 1}}},
		Product{ID: "b", Name: "B", Kind: KindDerived, Recipe: []RecipeComponent{{ProductID: "a", QuantityPerUnit: 1}}},
	)
	_, err := svc.UpsertProduct(context.Background(), Product{ID: "a", Name: "A", Kind: KindDerived, Recipe: []RecipeComponent{{ProductID: "b", QuantityPerUnit: 1}}}, "T1")
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}

func TestCategoriesAndMovements(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{}, Product{ID: "cup", Name: "Cup", Kind: KindSimple, StoredStock: 1})
	ctx := context.Background()

	cat, err := svc.UpsertCategory(ctx, Category{Name: "Drinks"}, "T1")
	require.NoError(t, err)
	require.Equal(t, []Category{cat}, svc.ListCategories())

	_, err = svc.UpsertCategory(ctx, Category{ID: AllCategories, Name: "All"}, "T1")
	require.ErrorIs(t, err, shared.ErrInvalidOperation)

	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: "cup", Delta: 2})
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: "cup", Delta: -1})
	require.NoError(t, err)

	movements, err := svc.ListMovements(ctx, "cup", 0)
	require.NoError(t, err)
	require.Len(t, movements, 2)
}

func TestReloadPicksUpNewProducts(t *testing.T) {
	svc, repo, _ := newTestService(t, ServiceConfig{}, Product{ID: "cup", Name: "Cup", Kind: KindSimple, StoredStock: 1})
	repo.products["tea"] = Product{ID: "tea", Name: "Tea", Kind: KindSimple, StoredStock: 3}

	require.NoError(t, svc.Reload(context.Background()))
	require.Len(t, svc.ListActive(Filter{}), 2)
	require.Equal(t, 2, repo.lists)
}

// gatedRepo blocks ListProducts until release is closed.
type gatedRepo struct {
	*memoryRepo
	started chan struct{}
	release chan struct{}
}

func (r *gatedRepo) ListProducts(ctx context.Context) ([]Product, error) {
	close(r.started)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.release:
	}
	return r.memoryRepo.ListProducts(ctx)
}

func TestReloadSurvivesCallerCancellation(t *testing.T) {
	repo := &gatedRepo{
		memoryRepo: newMemoryRepo(Product{ID: "tea", Name: "Tea", Kind: KindSimple, StoredStock: 3}),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := NewService(repo, nil, nil, nil, ServiceConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- svc.Reload(ctx) }()

	<-repo.started
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	close(repo.release)
	require.Eventually(t, func() bool {
		return len(svc.ListActive(Filter{})) == 1
	}, time.Second, 5*time.Millisecond)
}
