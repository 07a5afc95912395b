// Package product defines the catalog entity and the stock ledger
// contract.
package product

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the requested SKU does not exist.
var ErrNotFound = errors.New("product not found")

// InactiveError indicates the product exists but is not sellable.
type InactiveError struct {
	SKU string
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("product %s is not available", e.SKU)
}

// InsufficientStockError indicates a decrement request exceeded the
// available quantity. Stock is left untouched.
type InsufficientStockError struct {
	SKU       string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.SKU, e.Available, e.Requested)
}

// Product is a catalog entry. SKU is the immutable identity.
type Product struct {
	SKU           string
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	Active        bool
	CreatedAt     time.Time
}

// Repository is the stock ledger. DecrementStock and IncrementStock
// must be atomic with respect to concurrent callers: two orders racing
// for the last unit must not both succeed.
type Repository interface {
	GetBySKU(ctx context.Context, sku string) (*Product, error)
	List(ctx context.Context) ([]Product, error)

	// DecrementStock atomically subtracts qty from the available stock.
	// It returns ErrNotFound, *InactiveError, or *InsufficientStockError
	// without mutating anything when the precondition fails.
	DecrementStock(ctx context.Context, sku string, qty int) error

	// IncrementStock adds qty back to the available stock. Used by
	// cancellation compensation.
	IncrementStock(ctx context.Context, sku string, qty int) error

	// Upsert creates or replaces a catalog entry. Administrative.
	Upsert(ctx context.Context, p *Product) error
}
