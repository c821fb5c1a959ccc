package port

import (
	"context"
	"time"

	"github.com/rl1809/storefront-settlement/internal/core/domain"
)

// ReconciliationEntry records a reservation whose compensating release failed.
// The stock it names is decremented in the ledger but backed by no order.
type ReconciliationEntry struct {
	ProductKey     domain.ProductKey `json:"product_key"`
	Quantity       int               `json:"quantity"`
	IdempotencyKey string            `json:"idempotency_key"`
	FailedAt       time.Time         `json:"failed_at"`
}

// ReconciliationQueue is the externally visible record of lost compensations.
// Entries live outside process memory so a crash cannot erase them.
type ReconciliationQueue interface {
	// Push appends an entry for later reconciliation.
	Push(ctx context.Context, entry ReconciliationEntry) error

	// Pop removes and returns the oldest entry, or nil when the queue is
	// empty.
	Pop(ctx context.Context) (*ReconciliationEntry, error)
}
