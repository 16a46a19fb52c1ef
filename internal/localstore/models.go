package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/odyssey-erp/odyssey-pos/internal/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/orders"
	"github.com/odyssey-erp/odyssey-pos/internal/pricing"
)

type categoryModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (categoryModel) TableName() string { return "categories" }

type productModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null;index"`
	SKU         string `gorm:"column:sku"`
	Price       int64  `gorm:"not null"`
	CategoryID  string `gorm:"index"`
	Kind        string `gorm:"not null"`
	StoredStock int64  `gorm:"not null;default:0"`
	Recipe      string `gorm:"type:text;not null;default:'[]'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (productModel) TableName() string { return "products" }

type movementModel struct {
	ID         string `gorm:"primaryKey"`
	ProductID  string `gorm:"not null;index:idx_movements_product"`
	Type       string `gorm:"not null"`
	Delta      int64  `gorm:"not null"`
	Balance    int64  `gorm:"not null"`
	Ref        string
	Note       string
	OccurredAt time.Time `gorm:"not null;index:idx_movements_product"`
}

func (movementModel) TableName() string { return "stock_movements" }

type orderModel struct {
	ID             string `gorm:"primaryKey"`
	Number         string `gorm:"uniqueIndex;not null"`
	TerminalID     string `gorm:"index"`
	Status         string `gorm:"not null;index"`
	CustomerID     string
	Notes          string
	DiscountKind   string          `gorm:"not null;default:'none'"`
	DiscountValue  decimal.Decimal `gorm:"type:text"`
	TaxEnabled     bool
	TaxRate        decimal.Decimal `gorm:"type:text"`
	TaxTiming      string
	Subtotal       int64
	DiscountAmount int64
	TaxAmount      int64
	IncludedTax    int64
	Total          int64
	PaymentMethod  string
	Tendered       int64
	ChangeDue      int64
	PaymentRef     string
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
	PaidAt         *time.Time
	DeletedAt      gorm.DeletedAt   `gorm:"index"`
	Lines          []orderLineModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (orderModel) TableName() string { return "orders" }

type orderLineModel struct {
	OrderID        string `gorm:"primaryKey"`
	Position       int    `gorm:"primaryKey"`
	ProductID      string `gorm:"not null"`
	Name           string `gorm:"not null"`
	UnitPrice      int64  `gorm:"not null"`
	Quantity       int64  `gorm:"not null"`
	Locked         bool
	LockedQuantity int64
}

func (orderLineModel) TableName() string { return "order_lines" }

type auditModel struct {
	ID         uint `gorm:"primaryKey"`
	Actor      string
	Action     string `gorm:"not null;index"`
	Entity     string `gorm:"not null"`
	EntityID   string `gorm:"not null"`
	Meta       string `gorm:"type:text"`
	OccurredAt time.Time
}

func (auditModel) TableName() string { return "pos_audit_logs" }

type idempotencyModel struct {
	Key       string    `gorm:"primaryKey"`
	Module    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (idempotencyModel) TableName() string { return "pos_idempotency_keys" }

func productFromDomain(p catalog.Product) (productModel, error) {
	recipe := p.Recipe
	if recipe == nil {
		recipe = []catalog.RecipeComponent{}
	}
	raw, err := json.Marshal(recipe)
	if err != nil {
		return productModel{}, err
	}
	m := productModel{
		ID:          p.ID,
		Name:        p.Name,
		SKU:         p.SKU,
		Price:       p.Price,
		CategoryID:  p.CategoryID,
		Kind:        string(p.Kind),
		StoredStock: p.StoredStock,
		Recipe:      string(raw),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.DeletedAt != nil {
		m.DeletedAt = gorm.DeletedAt{Time: *p.DeletedAt, Valid: true}
	}
	return m, nil
}

func (m productModel) toDomain() (catalog.Product, error) {
	p := catalog.Product{
		ID:          m.ID,
		Name:        m.Name,
		SKU:         m.SKU,
		Price:       m.Price,
		CategoryID:  m.CategoryID,
		Kind:        catalog.Kind(m.Kind),
		StoredStock: m.StoredStock,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.Recipe != "" {
		if err := json.Unmarshal([]byte(m.Recipe), &p.Recipe); err != nil {
			return catalog.Product{}, fmt.Errorf("localstore: decode recipe of %s: %w", m.ID, err)
		}
	}
	if len(p.Recipe) == 0 {
		p.Recipe = nil
	}
	if m.DeletedAt.Valid {
		at := m.DeletedAt.Time
		p.DeletedAt = &at
	}
	return p, nil
}

func orderFromDomain(o orders.Order) orderModel {
	m := orderModel{
		ID:             o.ID,
		Number:         o.Number,
		TerminalID:     o.TerminalID,
		Status:         string(o.Status),
		CustomerID:     o.CustomerID,
		Notes:          o.Notes,
		DiscountKind:   string(o.Discount.Kind),
		DiscountValue:  o.Discount.Value,
		TaxEnabled:     o.Tax.Enabled,
		TaxRate:        o.Tax.Rate,
		TaxTiming:      string(o.Tax.Timing),
		Subtotal:       o.Totals.Subtotal,
		DiscountAmount: o.Totals.DiscountAmount,
		TaxAmount:      o.Totals.TaxAmount,
		IncludedTax:    o.Totals.IncludedTax,
		Total:          o.Totals.Total,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		PaidAt:         o.PaidAt,
	}
	if o.Payment != nil {
		m.PaymentMethod = string(o.Payment.Method)
		m.Tendered = o.Payment.Tendered
		m.ChangeDue = o.Payment.Change
		m.PaymentRef = o.Payment.Reference
	}
	for i, line := range o.Lines {
		m.Lines = append(m.Lines, orderLineModel{
			OrderID:        o.ID,
			Position:       i,
			ProductID:      line.ProductID,
			Name:           line.Name,
			UnitPrice:      line.UnitPrice,
			Quantity:       line.Quantity,
			Locked:         line.Locked,
			LockedQuantity: line.LockedQuantity,
		})
	}
	return m
}

func (m orderModel) toDomain() orders.Order {
	o := orders.Order{
		ID:         m.ID,
		Number:     m.Number,
		TerminalID: m.TerminalID,
		Status:     orders.Status(m.Status),
		CustomerID: m.CustomerID,
		Notes:      m.Notes,
		Discount:   pricing.Discount{Kind: pricing.DiscountKind(m.DiscountKind), Value: m.DiscountValue},
		Tax:        pricing.TaxPolicy{Enabled: m.TaxEnabled, Rate: m.TaxRate, Timing: pricing.TaxTiming(m.TaxTiming)},
		Totals: pricing.Totals{
			Subtotal:       m.Subtotal,
			DiscountAmount: m.DiscountAmount,
			TaxAmount:      m.TaxAmount,
			IncludedTax:    m.IncludedTax,
			Total:          m.Total,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		PaidAt:    m.PaidAt,
	}
	if m.PaymentMethod != "" {
		o.Payment = &orders.Payment{
			Method:    orders.PaymentMethod(m.PaymentMethod),
			Tendered:  m.Tendered,
			Change:    m.ChangeDue,
			Reference: m.PaymentRef,
		}
	}
	for _, line := range m.Lines {
		o.Lines = append(o.Lines, cart.Line{
			ProductID:      line.ProductID,
			Name:           line.Name,
			UnitPrice:      line.UnitPrice,
			Quantity:       line.Quantity,
			Locked:         line.Locked,
			LockedQuantity: line.LockedQuantity,
		})
	}
	return o
}
