package port

import (
	"context"

	"github.com/rl1809/storefront-settlement/internal/core/domain"
)

// OrderStore is the append-only record of settled purchases. No update or
// delete operations exist.
type OrderStore interface {
	// RecordIfAbsent inserts the order, keyed by its idempotency key under a
	// store-enforced uniqueness constraint. Returns created=false with no
	// write when an order with that key already exists.
	RecordIfAbsent(ctx context.Context, order domain.Order) (created bool, err error)

	// FindByIdempotencyKey returns the previously recorded order for the key,
	// or nil when none exists.
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}
