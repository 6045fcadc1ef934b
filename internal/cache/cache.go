package cache

import (
	"context"
	"time"
)

// Cache keys used by the service's read-through list queries. Mutating
// operations invalidate the keys they affect immediately after a successful
// commit, so correctness never depends on TTL expiry.
const (
	KeyInventory = "pos:inventory"
	KeyCustomers = "pos:customers"
	KeySales     = "pos:sales"
	KeyExpenses  = "pos:expenses"
)

// ReadCache is a UI convenience over list queries. It is never consulted
// inside a transaction and never used for stock decisions.
type ReadCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopReadCache struct{}

func (NoopReadCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReadCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopReadCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
