package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced product, order or component is absent.
	ErrNotFound = errors.New("not found")
	// ErrOutOfStock indicates the product has no sellable stock at all.
	ErrOutOfStock = errors.New("out of stock")
	// ErrInsufficientStock indicates the requested quantity exceeds effective stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrLineLocked indicates a mutation forbidden on a locked cart line.
	ErrLineLocked = errors.New("cart line locked")
	// ErrEmptyCart occurs when save or checkout is attempted on zero lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidOperation covers requests the domain refuses outright.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrPersistence wraps durable storage failures.
	ErrPersistence = errors.New("persistence failure")
)

// StockError reports a stock ceiling violation for a single product.
type StockError struct {
	Err       error
	ProductID string
	Requested int64
	Available int64
}

// NewStockError builds a StockError wrapping one of the stock sentinels.
func NewStockError(err error, productID string, requested, available int64) *StockError {
	return &StockError{Err: err, ProductID: productID, Requested: requested, Available: available}
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: product %s requested %d available %d", e.Err, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Err
}

// Persistence escalates a storage failure, keeping the cause inspectable.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
