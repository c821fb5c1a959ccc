package port

import (
	"context"
	"errors"

	"github.com/rl1809/storefront-settlement/internal/core/domain"
)

var (
	// ErrProductNotFound means the product key does not resolve in the ledger.
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock means the conditional decrement predicate failed.
	// This is an expected business outcome, not a fault.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InventoryLedger owns the authoritative per-product stock counters. The
// quantity field is mutated through these two operations and nowhere else.
type InventoryLedger interface {
	// Reserve atomically decrements stock for the product, but only if the
	// current stored quantity is at least qty. The check and the decrement are
	// one indivisible store operation; the store serializes conflicting
	// reserves against the same product. Returns ErrProductNotFound or
	// ErrInsufficientStock as terminal outcomes.
	Reserve(ctx context.Context, key domain.ProductKey, qty int) error

	// Release atomically increments stock back. Used only by the
	// coordinator's compensation path.
	Release(ctx context.Context, key domain.ProductKey, qty int) error
}
