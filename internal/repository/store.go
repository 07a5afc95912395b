package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/legacyshop/internal/domain/order"
)

var _ order.Store = (*Store)(nil)

// Store implements order.Store on top of a pgx connection pool. Repos()
// hands out repositories bound to the pool; InTx binds them to a single
// transaction so the whole unit of work commits or rolls back together.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Repos returns repositories bound to the connection pool.
func (s *Store) Repos() order.Repos {
	return reposOn(s.pool)
}

// InTx runs fn inside one transaction. fn's error rolls the transaction
// back and is returned unchanged so callers can inspect domain errors.
func (s *Store) InTx(ctx context.Context, fn func(r order.Repos) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(reposOn(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func reposOn(db DB) order.Repos {
	return order.Repos{
		Products:    NewProductRepository(db),
		Customers:   NewCustomerRepository(db),
		Orders:      NewOrderRepository(db),
		Payments:    NewPaymentRepository(db),
		Idempotency: NewIdempotencyRepository(db),
		Audit:       NewAuditRepository(db),
	}
}
