package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/legacyshop/internal/domain/customer"
)

const (
	findCustomerByEmailSQL = `SELECT id, email, first_name, last_name, created_at
		FROM customers WHERE email = $1`

	// DO UPDATE instead of DO NOTHING so the row always comes back,
	// even when a concurrent insert wins the unique(email) race.
	findOrCreateCustomerSQL = `INSERT INTO customers (email, first_name, last_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, first_name, last_name, created_at`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	db DB
}

// NewCustomerRepository returns a CustomerRepository that uses the given
// connection.
func NewCustomerRepository(db DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// FindByEmail returns the customer with the given email.
func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*customer.Customer, error) {
	rows, err := r.db.Query(ctx, findCustomerByEmailSQL, email)
	if err != nil {
		return nil, fmt.Errorf("finding customer %q: %w", email, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("finding customer %q: %w", email, err)
	}
	return &c, nil
}

// FindOrCreate returns the customer with the given email, inserting a
// new row with the placeholder name when none exists.
func (r *CustomerRepository) FindOrCreate(ctx context.Context, email, first, last string) (*customer.Customer, error) {
	rows, err := r.db.Query(ctx, findOrCreateCustomerSQL, email, first, last)
	if err != nil {
		return nil, fmt.Errorf("resolving customer %q: %w", email, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		return nil, fmt.Errorf("resolving customer %q: %w", email, err)
	}
	return &c, nil
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var c customer.Customer
	err := row.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.CreatedAt)
	return c, err
}
