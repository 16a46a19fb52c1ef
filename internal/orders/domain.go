package orders

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/cart"
	"github.com/odyssey-erp/odyssey-pos/internal/pricing"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/internal/stock"
)

// Status enumerates order lifecycle states.
type Status string

const (
	StatusDraft Status = "draft"
	StatusSaved Status = "saved"
	StatusPaid  Status = "paid"
)

// PaymentMethod enumerates accepted tenders.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentQRIS     PaymentMethod = "qris"
	PaymentTransfer PaymentMethod = "transfer"
)

// Valid reports whether m is accepted.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentQRIS, PaymentTransfer:
		return true
	default:
		return false
	}
}

// PaymentInfo is supplied by the cashier at checkout.
type PaymentInfo struct {
	Method         PaymentMethod
	Tendered       int64
	Reference      string
	IdempotencyKey string
}

// Payment is the settled payment stored on a paid order.
type Payment struct {
	Method    PaymentMethod `json:"method"`
	Tendered  int64         `json:"tendered"`
	Change    int64         `json:"change"`
	Reference string        `json:"reference,omitempty"`
}

// Order is a persisted cart snapshot.
type Order struct {
	ID         string            `json:"id"`
	Number     string            `json:"number"`
	TerminalID string            `json:"terminalId"`
	Status     Status            `json:"status"`
	CustomerID string            `json:"customerId,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Lines      []cart.Line       `json:"lines"`
	Discount   pricing.Discount  `json:"discount"`
	Tax        pricing.TaxPolicy `json:"tax"`
	Totals     pricing.Totals    `json:"totals"`
	Payment    *Payment          `json:"payment,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	PaidAt     *time.Time        `json:"paidAt,omitempty"`
}

// Snapshot returns the cart state needed to reload the order.
func (o Order) Snapshot() cart.Snapshot {
	lines := make([]cart.Line, len(o.Lines))
	copy(lines, o.Lines)
	return cart.Snapshot{
		Lines:         lines,
		Discount:      o.Discount,
		Notes:         o.Notes,
		CustomerID:    o.CustomerID,
		LoadedOrderID: o.ID,
	}
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status     Status
	TerminalID string
	Limit      int
}

// CheckoutResult bundles the paid order with the stock report.
type CheckoutResult struct {
	Order Order        `json:"order"`
	Stock stock.Report `json:"stock"`
}

var (
	// ErrOrderPaid indicates an attempt to change a paid order.
	ErrOrderPaid = fmt.Errorf("orders: order already paid: %w", shared.ErrInvalidOperation)
	// ErrOrderBusy indicates another terminal is checking out the same order.
	ErrOrderBusy = fmt.Errorf("orders: order is being checked out elsewhere: %w", shared.ErrInvalidOperation)
	// ErrInvalidPayment indicates an unknown method or insufficient tender.
	ErrInvalidPayment = fmt.Errorf("orders: invalid payment: %w", shared.ErrInvalidOperation)
	// ErrTerminalRequired is returned when no terminal is given.
	ErrTerminalRequired = fmt.Errorf("orders: terminal id required: %w", shared.ErrInvalidOperation)
)

// settle validates info against total and returns the stored payment.
func settle(info PaymentInfo, total int64) (Payment, error) {
	if !info.Method.Valid() {
		return Payment{}, fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, info.Method)
	}
	if info.Method != PaymentCash {
		return Payment{Method: info.Method, Tendered: total, Reference: info.Reference}, nil
	}
	if info.Tendered < total {
		return Payment{}, fmt.Errorf("%w: tendered %d is less than total %d", ErrInvalidPayment, info.Tendered, total)
	}
	return Payment{Method: info.Method, Tendered: info.Tendered, Change: info.Tendered - total, Reference: info.Reference}, nil
}

func lockLines(lines []cart.Line) []cart.Line {
	out := make([]cart.Line, len(lines))
	for i, line := range lines {
		line.Locked = true
		line.LockedQuantity = line.Quantity
		out[i] = line
	}
	return out
}

func stockItems(lines []cart.Line) []stock.Item {
	items := make([]stock.Item, 0, len(lines))
	for _, line := range lines {
		items = append(items, stock.Item{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return items
}
