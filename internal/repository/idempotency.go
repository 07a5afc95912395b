package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/legacyshop/internal/idempotency"
)

const (
	findIdempotencyRecordSQL = `SELECT idempotency_key, request_hash, response_body,
			status_code, operation_type, created_at
		FROM idempotency_records WHERE idempotency_key = $1`

	saveIdempotencyRecordSQL = `INSERT INTO idempotency_records
		(idempotency_key, request_hash, response_body, status_code, operation_type)
		VALUES ($1, $2, $3, $4, $5)`
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

var _ idempotency.Store = (*IdempotencyRepository)(nil)

// IdempotencyRepository implements idempotency.Store backed by
// PostgreSQL. The response body is stored as text so replays are
// byte-identical to the original response.
type IdempotencyRepository struct {
	db DB
}

// NewIdempotencyRepository returns an IdempotencyRepository that uses
// the given connection.
func NewIdempotencyRepository(db DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Find returns the record for key.
func (r *IdempotencyRepository) Find(ctx context.Context, key string) (*idempotency.Record, error) {
	var (
		rec  idempotency.Record
		body string
	)
	err := r.db.QueryRow(ctx, findIdempotencyRecordSQL, key).Scan(
		&rec.Key, &rec.RequestHash, &body,
		&rec.StatusCode, &rec.OperationType, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotency.ErrNotFound
		}
		return nil, fmt.Errorf("finding idempotency record %q: %w", key, err)
	}
	rec.ResponseBody = []byte(body)
	return &rec, nil
}

// Save inserts a new record, mapping a unique violation on the key to
// ErrDuplicateKey for the caller's re-read fallback.
func (r *IdempotencyRepository) Save(ctx context.Context, rec *idempotency.Record) error {
	_, err := r.db.Exec(ctx, saveIdempotencyRecordSQL,
		rec.Key, rec.RequestHash, string(rec.ResponseBody),
		rec.StatusCode, rec.OperationType,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return idempotency.ErrDuplicateKey
		}
		return fmt.Errorf("saving idempotency record %q: %w", rec.Key, err)
	}
	return nil
}
