// Package customer defines the customer entity. Customers are created
// lazily on their first order.
package customer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound indicates no customer exists for the given email.
var ErrNotFound = errors.New("customer not found")

// Customer is identified by its unique email address.
type Customer struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// Repository provides customer lookup and lazy creation.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Customer, error)

	// FindOrCreate returns the customer for email, creating it when
	// absent. The upsert must be race-safe: two concurrent calls for
	// the same email yield the same row.
	FindOrCreate(ctx context.Context, email, firstName, lastName string) (*Customer, error)
}
