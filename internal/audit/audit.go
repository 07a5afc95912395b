// Package audit defines the append-only operation log written as a
// side effect of every pipeline mutation.
package audit

import (
	"context"
	"time"
)

// Operation enumerates auditable events.
type Operation string

const (
	OrderCreated      Operation = "ORDER_CREATED"
	OrderCancelled    Operation = "ORDER_CANCELLED"
	PaymentAuthorized Operation = "PAYMENT_AUTHORIZED"
	PaymentFailed     Operation = "PAYMENT_FAILED"
	PaymentVoided     Operation = "PAYMENT_VOIDED"
	StockDecremented  Operation = "STOCK_DECREMENTED"
	StockIncremented  Operation = "STOCK_INCREMENTED"
)

// Entry is a single immutable audit record.
type Entry struct {
	ID         int64
	Operation  Operation
	EntityType string
	EntityID   string
	Details    string
	CreatedAt  time.Time
}

// Recorder appends entries. Entries are never mutated or deleted.
type Recorder interface {
	Record(ctx context.Context, op Operation, entityType, entityID, details string) error
}
