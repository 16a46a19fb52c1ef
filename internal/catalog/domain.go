package catalog

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Kind classifies how a product's stock is tracked.
type Kind string

const (
	// KindSimple is a sellable item with its own stored stock.
	KindSimple Kind = "simple"
	// KindRawMaterial is an ingredient with stored stock, usually not sold directly.
	KindRawMaterial Kind = "raw_material"
	// KindDerived is assembled from a recipe; its stock is computed.
	KindDerived Kind = "derived"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSimple, KindRawMaterial, KindDerived:
		return true
	default:
		return false
	}
}

// RecipeComponent consumes QuantityPerUnit of ProductID per unit of the derived product.
type RecipeComponent struct {
	ProductID       string `json:"productId"`
	QuantityPerUnit int64  `json:"quantityPerUnit"`
}

// Product is a catalog record. Prices are in the smallest currency unit.
type Product struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	SKU         string            `json:"sku"`
	Price       int64             `json:"price"`
	CategoryID  string            `json:"categoryId"`
	Kind        Kind              `json:"kind"`
	StoredStock int64             `json:"storedStock"`
	Recipe      []RecipeComponent `json:"recipe,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	DeletedAt   *time.Time        `json:"deletedAt,omitempty"`
}

// Deleted reports whether the product is soft-deleted.
func (p Product) Deleted() bool {
	return p.DeletedAt != nil
}

// Category groups products for browsing.
type Category struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// MaxPrice caps unit prices so cart totals stay far from int64 limits.
const MaxPrice int64 = 1_000_000_000_000

// AllCategories selects every category in a Filter.
const AllCategories = "all"

// Filter narrows ListActive results.
type Filter struct {
	SearchText string
	CategoryID string
}

// StockLevel is the badge shown next to a product.
type StockLevel string

const (
	StockHigh   StockLevel = "high"
	StockMedium StockLevel = "medium"
	StockLow    StockLevel = "low"
)

// LevelFor maps an effective stock quantity to its badge.
func LevelFor(stock int64) StockLevel {
	switch {
	case stock > 10:
		return StockHigh
	case stock >= 5:
		return StockMedium
	default:
		return StockLow
	}
}

// Listing is a product as presented to the cashier.
type Listing struct {
	Product
	EffectiveStock int64      `json:"effectiveStock"`
	Level          StockLevel `json:"level"`
}

// MovementType identifies the source of a stock change.
type MovementType string

const (
	MovementSale   MovementType = "SALE"
	MovementAdjust MovementType = "ADJUST"
)

// Movement is one stock card entry.
type Movement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"productId"`
	Type      MovementType `json:"type"`
	Delta     int64        `json:"delta"`
	Balance   int64        `json:"balance"`
	Ref       string       `json:"ref,omitempty"`
	Note      string       `json:"note,omitempty"`
	At        time.Time    `json:"at"`
}

// AdjustInput describes a manual stock correction.
type AdjustInput struct {
	ProductID string
	Delta     int64
	Note      string
	Actor     string
}

var (
	// ErrInvalidProduct indicates a product failed validation.
	ErrInvalidProduct = fmt.Errorf("catalog: invalid product: %w", shared.ErrInvalidOperation)
	// ErrInvalidCategory indicates a category failed validation.
	ErrInvalidCategory = fmt.Errorf("catalog: invalid category: %w", shared.ErrInvalidOperation)
	// ErrDerivedAdjust is returned when adjusting stock of a derived product.
	ErrDerivedAdjust = fmt.Errorf("catalog: derived products have no stored stock: %w", shared.ErrInvalidOperation)
	// ErrZeroAdjust is returned for a zero delta.
	ErrZeroAdjust = fmt.Errorf("catalog: adjustment delta must be non-zero: %w", shared.ErrInvalidOperation)
)
