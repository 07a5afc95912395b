package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/legacyshop/internal/domain/payment"
)

const (
	findPaymentByOrderSQL = `SELECT id, order_id, amount, status,
			COALESCE(authorization_id, ''), retry_attempts, COALESCE(last_error, ''),
			created_at, updated_at
		FROM payments WHERE order_id = $1`

	// One payment row per order; a FAILED row is reset back to PENDING
	// on re-authorization so the attempt history accumulates in place.
	createOrResetPaymentSQL = `INSERT INTO payments (order_id, amount, status)
		VALUES ($1, $2, 'PENDING')
		ON CONFLICT (order_id) DO UPDATE
		SET status = 'PENDING', amount = EXCLUDED.amount, updated_at = now()
		WHERE payments.status = 'FAILED'
		RETURNING id, order_id, amount, status,
			COALESCE(authorization_id, ''), retry_attempts, COALESCE(last_error, ''),
			created_at, updated_at`

	recordPaymentOutcomeSQL = `UPDATE payments
		SET status = $2, authorization_id = NULLIF($3, ''),
			retry_attempts = $4, last_error = NULLIF($5, ''), updated_at = now()
		WHERE id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	db DB
}

// NewPaymentRepository returns a PaymentRepository that uses the given
// connection.
func NewPaymentRepository(db DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByOrderID returns the payment for the given order.
func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID int64) (*payment.Payment, error) {
	rows, err := r.db.Query(ctx, findPaymentByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding payment for order %d: %w", orderID, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("finding payment for order %d: %w", orderID, err)
	}
	return &p, nil
}

// CreateOrReset inserts a PENDING payment for the order or resets an
// existing FAILED one back to PENDING, returning the current row either
// way. A row in any other state comes back untouched.
func (r *PaymentRepository) CreateOrReset(ctx context.Context, orderID int64, amount decimal.Decimal) (*payment.Payment, error) {
	rows, err := r.db.Query(ctx, createOrResetPaymentSQL, orderID, amount)
	if err != nil {
		return nil, fmt.Errorf("preparing payment for order %d: %w", orderID, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict with a non-FAILED row: the DO UPDATE WHERE clause
			// filtered it out, so fetch the row as-is.
			return r.FindByOrderID(ctx, orderID)
		}
		return nil, fmt.Errorf("preparing payment for order %d: %w", orderID, err)
	}
	return &p, nil
}

// RecordOutcome updates status, authorization id, attempt counter and
// last error after a gateway round-trip.
func (r *PaymentRepository) RecordOutcome(ctx context.Context, p *payment.Payment) error {
	tag, err := r.db.Exec(ctx, recordPaymentOutcomeSQL,
		p.ID, p.Status, p.AuthorizationID, p.RetryAttempts, p.LastError,
	)
	if err != nil {
		return fmt.Errorf("recording payment outcome for order %d: %w", p.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Status,
		&p.AuthorizationID, &p.RetryAttempts, &p.LastError,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
