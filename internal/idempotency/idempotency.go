// Package idempotency implements idempotency-key deduplication: a
// canonical request hash, a store contract, and a bloom-filter negative
// cache in front of it.
package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound indicates no record exists for the key.
	ErrNotFound = errors.New("idempotency record not found")

	// ErrKeyConflict indicates the key was reused with a different
	// request body. Maps to 409 at the HTTP boundary.
	ErrKeyConflict = errors.New("idempotency key reused with different request body")

	// ErrDuplicateKey indicates a concurrent writer already saved a
	// record for the key. The caller should re-read and replay.
	ErrDuplicateKey = errors.New("idempotency record already exists")
)

// Record is a completed operation keyed by a client-supplied
// idempotency key. Records are written once and never updated.
type Record struct {
	Key           string
	RequestHash   string
	ResponseBody  []byte
	StatusCode    int
	OperationType string
	CreatedAt     time.Time
}

// Matches reports whether hash equals the stored canonical request
// hash, i.e. whether a replay is legitimate.
func (r *Record) Matches(hash string) bool {
	return r.RequestHash == hash
}

// Observer is implemented by stores that keep a local seen-key cache
// and want to learn about keys discovered through other paths (e.g.
// records saved inside a transaction, or found via the
// unique-violation fallback).
type Observer interface {
	Observe(key string)
}

// Store persists idempotency records.
type Store interface {
	// Find returns the record for key, or ErrNotFound.
	Find(ctx context.Context, key string) (*Record, error)

	// Save inserts a new record. It returns ErrDuplicateKey when a
	// record for the key already exists (unique-constraint race).
	Save(ctx context.Context, rec *Record) error
}
