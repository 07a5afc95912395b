package idempotency

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	cacheCapacity = 1_000_000
	cacheFPR      = 0.001
)

// Cache fronts a Store with a bloom filter so lookups for keys this
// process has never seen skip the storage round-trip entirely.
//
// The filter only knows about keys observed locally, so a miss is NOT
// proof the key is absent from storage. Correctness relies on the
// pipeline's unique-constraint fallback: a concurrent or remote writer
// surfaces as ErrDuplicateKey on Save, and the caller re-reads.
type Cache struct {
	store Store

	mu     sync.Mutex
	filter *bloom.BloomFilter
}

var _ Store = (*Cache)(nil)

// NewCache wraps store with a bloom negative cache.
func NewCache(store Store) *Cache {
	return &Cache{
		store:  store,
		filter: bloom.NewWithEstimates(cacheCapacity, cacheFPR),
	}
}

// Find implements Store. Keys definitely unseen by this process return
// ErrNotFound without touching storage; possible hits fall through.
func (c *Cache) Find(ctx context.Context, key string) (*Record, error) {
	c.mu.Lock()
	seen := c.filter.TestString(key)
	c.mu.Unlock()

	if !seen {
		return nil, ErrNotFound
	}

	rec, err := c.store.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Save implements Store, recording the key in the filter on success
// and on duplicate (someone else saved it, so it exists).
func (c *Cache) Save(ctx context.Context, rec *Record) error {
	err := c.store.Save(ctx, rec)
	if err == nil || errors.Is(err, ErrDuplicateKey) {
		c.mu.Lock()
		c.filter.AddString(rec.Key)
		c.mu.Unlock()
	}
	return err
}

// Observe marks a key as seen, used when a record is discovered through
// a path other than Save (e.g. the unique-violation replay fallback).
func (c *Cache) Observe(key string) {
	c.mu.Lock()
	c.filter.AddString(key)
	c.mu.Unlock()
}
