package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Catalog is the in-memory view of active products and categories used by
// cashier sessions. It is safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	products   map[string]Product
	categories []Category
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]Product)}
}

// Replace swaps the whole content of the catalog. Soft-deleted records are dropped.
func (c *Catalog) Replace(products []Product, categories []Category) {
	next := make(map[string]Product, len(products))
	for _, p := range products {
		if p.Deleted() {
			continue
		}
		next[p.ID] = p
	}
	cats := make([]Category, 0, len(categories))
	for _, cat := range categories {
		if cat.DeletedAt == nil {
			cats = append(cats, cat)
		}
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })

	c.mu.Lock()
	c.products = next
	c.categories = cats
	c.mu.Unlock()
}

// Put inserts or replaces a single product, removing it when soft-deleted.
func (c *Catalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Deleted() {
		delete(c.products, p.ID)
		return
	}
	c.products[p.ID] = p
}

// Product returns an active product.
func (c *Catalog) Product(id string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("catalog: product %s: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

// EffectiveStock returns the effective stock of an active product.
func (c *Catalog) EffectiveStock(id string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return 0, fmt.Errorf("catalog: product %s: %w", id, shared.ErrNotFound)
	}
	return EffectiveStock(p, c.lookupLocked), nil
}

// Lookup resolves active products; callers must not hold the lock.
func (c *Catalog) Lookup(id string) (Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookupLocked(id)
}

func (c *Catalog) lookupLocked(id string) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// ListActive returns active products matching filter ordered by name.
func (c *Catalog) ListActive(filter Filter) []Listing {
	// Caser values carry state and are not shared across goroutines.
	folder := cases.Fold()
	needle := folder.String(strings.TrimSpace(filter.SearchText))
	category := strings.TrimSpace(filter.CategoryID)
	if category == AllCategories {
		category = ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Listing, 0, len(c.products))
	for _, p := range c.products {
		if category != "" && p.CategoryID != category {
			continue
		}
		if needle != "" &&
			!strings.Contains(folder.String(p.Name), needle) &&
			!strings.Contains(folder.String(p.SKU), needle) {
			continue
		}
		stock := EffectiveStock(p, c.lookupLocked)
		out = append(out, Listing{Product: p, EffectiveStock: stock, Level: LevelFor(stock)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Categories returns active categories ordered by name.
func (c *Catalog) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}
