// Package payment holds the payment entity, its status machine, and
// the external gateway client with bounded retry.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the payment state machine:
// PENDING -> AUTHORIZED (terminal success),
// PENDING -> FAILED (terminal failure, re-authorization allowed),
// AUTHORIZED -> VOIDED (cancellation compensation).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusFailed     Status = "FAILED"
	StatusVoided     Status = "VOIDED"
)

// ErrNotFound indicates no payment exists for the given order.
var ErrNotFound = errors.New("payment not found")

// Error is a gateway failure. Retryable failures (5xx, network,
// timeout) map to 502/503 at the HTTP boundary; terminal failures
// (4xx) map to 402 and must never be retried.
type Error struct {
	Message    string
	Retryable  bool
	StatusCode int // gateway HTTP status, 0 for network errors
	Attempts   int
}

func (e *Error) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("payment %s failure after %d attempt(s): %s", kind, e.Attempts, e.Message)
}

// Payment records one authorization lifecycle, one-to-one with an
// order. Amount always equals the order total.
type Payment struct {
	ID              int64
	OrderID         int64
	Amount          decimal.Decimal
	Status          Status
	AuthorizationID string
	RetryAttempts   int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Voidable reports whether the payment can be voided.
func (p *Payment) Voidable() bool {
	return p.Status == StatusAuthorized
}

// Repository persists payments.
type Repository interface {
	FindByOrderID(ctx context.Context, orderID int64) (*Payment, error)

	// CreateOrReset inserts a PENDING payment for the order, or resets
	// an existing FAILED payment back to PENDING. The amount must
	// equal the order total. Returns the current row.
	CreateOrReset(ctx context.Context, orderID int64, amount decimal.Decimal) (*Payment, error)

	// RecordOutcome updates status, authorization id, attempt counter
	// and last error after a gateway round-trip.
	RecordOutcome(ctx context.Context, p *Payment) error
}
