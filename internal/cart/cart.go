// Package cart holds the live cart of a cashier terminal. A Cart has a
// single owner and is not safe for concurrent use.
package cart

import (
	"fmt"
	"slices"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/pricing"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// StockSource reports the current effective stock of a product.
type StockSource interface {
	EffectiveStock(productID string) (int64, error)
}

// ErrCheckoutInProgress is returned for mutations attempted mid-checkout.
var ErrCheckoutInProgress = fmt.Errorf("cart: checkout in progress: %w", shared.ErrInvalidOperation)

// Line is one product in the cart. UnitPrice is captured when the line is
// first added. Locked lines cannot drop below LockedQuantity.
type Line struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	UnitPrice      int64  `json:"unitPrice"`
	Quantity       int64  `json:"quantity"`
	Locked         bool   `json:"locked"`
	LockedQuantity int64  `json:"lockedQuantity,omitempty"`
}

// Snapshot is a detached copy of cart state, also used to load saved orders.
type Snapshot struct {
	Lines         []Line           `json:"lines"`
	Discount      pricing.Discount `json:"discount"`
	Notes         string           `json:"notes,omitempty"`
	CustomerID    string           `json:"customerId,omitempty"`
	LoadedOrderID string           `json:"loadedOrderId,omitempty"`
}

// Cart is an ordered set of lines keyed by product ID plus order metadata.
type Cart struct {
	stock         StockSource
	lines         []Line
	discount      pricing.Discount
	notes         string
	customerID    string
	loadedOrderID string
	checkingOut   bool
}

// New returns an empty cart checking stock against source.
func New(source StockSource) *Cart {
	return &Cart{stock: source, discount: pricing.NoDiscount()}
}

func (c *Cart) index(productID string) int {
	return slices.IndexFunc(c.lines, func(l Line) bool { return l.ProductID == productID })
}

func (c *Cart) guard() error {
	if c.checkingOut {
		return ErrCheckoutInProgress
	}
	return nil
}

// AddLine adds qty of product, merging into an existing line. The resulting
// quantity is clamped to the product's effective stock; a line already at or
// above it is returned unchanged.
func (c *Cart) AddLine(product catalog.Product, qty int64) (Line, error) {
	if err := c.guard(); err != nil {
		return Line{}, err
	}
	if qty < 1 {
		return Line{}, fmt.Errorf("cart: quantity must be at least 1: %w", shared.ErrInvalidOperation)
	}
	available, err := c.stock.EffectiveStock(product.ID)
	if err != nil {
		return Line{}, err
	}
	if available <= 0 {
		return Line{}, shared.NewStockError(shared.ErrOutOfStock, product.ID, qty, 0)
	}
	if i := c.index(product.ID); i >= 0 {
		line := c.lines[i]
		line.Quantity = max(line.Quantity, min(line.Quantity+qty, available))
		c.lines[i] = line
		return line, nil
	}
	line := Line{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.Price,
		Quantity:  min(qty, available),
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// SetQuantity replaces the quantity of a line. qty <= 0 removes the line.
func (c *Cart) SetQuantity(productID string, qty int64) (Line, error) {
	if err := c.guard(); err != nil {
		return Line{}, err
	}
	i := c.index(productID)
	if i < 0 {
		return Line{}, fmt.Errorf("cart: line %s: %w", productID, shared.ErrNotFound)
	}
	if qty <= 0 {
		return Line{}, c.RemoveLine(productID)
	}
	line := c.lines[i]
	if line.Locked && qty < line.LockedQuantity {
		return Line{}, fmt.Errorf("cart: line %s cannot go below %d: %w", productID, line.LockedQuantity, shared.ErrLineLocked)
	}
	available, err := c.stock.EffectiveStock(productID)
	if err != nil {
		return Line{}, err
	}
	if qty > available {
		return Line{}, shared.NewStockError(shared.ErrInsufficientStock, productID, qty, max(available, 0))
	}
	line.Quantity = qty
	c.lines[i] = line
	return line, nil
}

// RemoveLine drops an unlocked line.
func (c *Cart) RemoveLine(productID string) error {
	if err := c.guard(); err != nil {
		return err
	}
	i := c.index(productID)
	if i < 0 {
		return fmt.Errorf("cart: line %s: %w", productID, shared.ErrNotFound)
	}
	if c.lines[i].Locked {
		return fmt.Errorf("cart: line %s: %w", productID, shared.ErrLineLocked)
	}
	c.lines = slices.Delete(c.lines, i, i+1)
	return nil
}

// Clear discards lines, discount, notes, customer and the loaded order.
func (c *Cart) Clear() error {
	if err := c.guard(); err != nil {
		return err
	}
	c.reset()
	return nil
}

func (c *Cart) reset() {
	c.lines = nil
	c.discount = pricing.NoDiscount()
	c.notes = ""
	c.customerID = ""
	c.loadedOrderID = ""
}

// LoadOrder replaces the cart with a saved order. Every line is locked at
// its saved quantity.
func (c *Cart) LoadOrder(snapshot Snapshot) error {
	if err := c.guard(); err != nil {
		return err
	}
	if snapshot.LoadedOrderID == "" {
		return fmt.Errorf("cart: order id required: %w", shared.ErrInvalidOperation)
	}
	lines := make([]Line, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		line.Locked = true
		line.LockedQuantity = line.Quantity
		lines = append(lines, line)
	}
	if snapshot.Discount.Kind == "" {
		snapshot.Discount = pricing.NoDiscount()
	}
	c.lines = lines
	c.discount = snapshot.Discount
	c.notes = snapshot.Notes
	c.customerID = snapshot.CustomerID
	c.loadedOrderID = snapshot.LoadedOrderID
	return nil
}

// SetDiscount validates and applies a cart-wide discount.
func (c *Cart) SetDiscount(d pricing.Discount) error {
	if err := c.guard(); err != nil {
		return err
	}
	if d.Kind == "" {
		d = pricing.NoDiscount()
	}
	if err := d.Validate(); err != nil {
		return err
	}
	c.discount = d
	return nil
}

// SetNotes replaces the order notes.
func (c *Cart) SetNotes(notes string) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.notes = notes
	return nil
}

// SetCustomer attaches a customer reference; empty detaches it.
func (c *Cart) SetCustomer(customerID string) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.customerID = customerID
	return nil
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []Line {
	return slices.Clone(c.lines)
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// LoadedOrderID returns the saved order this cart was loaded from, if any.
func (c *Cart) LoadedOrderID() string {
	return c.loadedOrderID
}

// Snapshot returns a detached copy of the cart.
func (c *Cart) Snapshot() Snapshot {
	return Snapshot{
		Lines:         c.Lines(),
		Discount:      c.discount,
		Notes:         c.notes,
		CustomerID:    c.customerID,
		LoadedOrderID: c.loadedOrderID,
	}
}

// PricingLines converts the lines for the pricing engine.
func PricingLines(lines []Line) []pricing.Line {
	out := make([]pricing.Line, len(lines))
	for i, l := range lines {
		out[i] = pricing.Line{UnitPrice: l.UnitPrice, Quantity: l.Quantity}
	}
	return out
}

// Totals prices the cart under tax.
func (c *Cart) Totals(tax pricing.TaxPolicy) pricing.Totals {
	return pricing.ComputeTotals(PricingLines(c.lines), c.discount, tax)
}

// BeginCheckout freezes the cart until EndCheckout.
func (c *Cart) BeginCheckout() error {
	if c.checkingOut {
		return ErrCheckoutInProgress
	}
	c.checkingOut = true
	return nil
}

// EndCheckout unfreezes the cart, clearing it when the checkout committed.
func (c *Cart) EndCheckout(committed bool) {
	c.checkingOut = false
	if committed {
		c.reset()
	}
}

// CheckingOut reports whether a checkout holds the cart.
func (c *Cart) CheckingOut() bool {
	return c.checkingOut
}
