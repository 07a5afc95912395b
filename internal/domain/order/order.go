// Package order implements the order entity, its status state machine,
// and the create/authorize/cancel transaction pipeline.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/legacyshop/internal/audit"
	"github.com/xenking/legacyshop/internal/domain/customer"
	"github.com/xenking/legacyshop/internal/domain/payment"
	"github.com/xenking/legacyshop/internal/domain/product"
	"github.com/xenking/legacyshop/internal/idempotency"
)

// Status is the order state machine. Transitions only move forward:
// PENDING -> PAID -> CANCELLED, or PENDING -> CANCELLED directly.
// SHIPPED is set by external fulfilment and is terminal here, as is
// CANCELLED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusCancelled Status = "CANCELLED"
)

// Cancellable reports whether an order in this status may be cancelled.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusPaid
}

// Order is the aggregate root. Items are owned exclusively and created
// atomically with the order; they are immutable afterwards.
type Order struct {
	ID             int64
	CustomerID     int64
	CustomerEmail  string
	Status         Status
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	IdempotencyKey string // empty when the client supplied none
	CreatedAt      time.Time
	Items          []Item
}

// Item snapshots a product at order time. Later product mutations must
// not change historical order data, hence the captured name and price.
type Item struct {
	ID         int64
	OrderID    int64
	ProductSKU string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	Subtotal   decimal.Decimal
}

// DailySummary is one row of the orders report.
type DailySummary struct {
	Day      time.Time
	Orders   int64
	Gross    decimal.Decimal
	Discount decimal.Decimal
	Net      decimal.Decimal
}

// Repository persists orders and items.
type Repository interface {
	// Create inserts the order and its items, filling ID and CreatedAt.
	Create(ctx context.Context, o *Order) error

	// GetByID loads an order with its items.
	GetByID(ctx context.Context, id int64) (*Order, error)

	// GetByIDForUpdate is GetByID with a row lock; only meaningful
	// inside a transaction.
	GetByIDForUpdate(ctx context.Context, id int64) (*Order, error)

	// UpdateStatus moves the order to st.
	UpdateStatus(ctx context.Context, id int64, st Status) error

	// ListByCustomer returns the customer's orders newest first, plus
	// the total count for pagination.
	ListByCustomer(ctx context.Context, customerID int64, offset, limit int) ([]Order, int64, error)

	// DailySummary aggregates orders per day over [from, to].
	DailySummary(ctx context.Context, from, to time.Time) ([]DailySummary, error)
}

// Repos bundles every repository participating in the pipeline's unit
// of work. Inside Store.InTx they all run on the same transaction.
type Repos struct {
	Products    product.Repository
	Customers   customer.Repository
	Orders      Repository
	Payments    payment.Repository
	Idempotency idempotency.Store
	Audit       audit.Recorder
}

// Store provides transactional and plain access to the repositories.
type Store interface {
	// Repos returns repositories bound to the connection pool, for
	// single-statement reads.
	Repos() Repos

	// InTx runs fn inside one transaction; every mutation made through
	// the passed Repos commits or rolls back together.
	InTx(ctx context.Context, fn func(r Repos) error) error
}
