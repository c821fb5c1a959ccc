package port

import (
	"context"

	"github.com/rl1809/storefront-settlement/internal/core/domain"
)

// IdentityResolver resolves an opaque buyer identifier to a confirmed buyer.
// Returns nil when the buyer does not exist.
type IdentityResolver interface {
	ResolveBuyer(ctx context.Context, buyerID string) (*domain.Buyer, error)
}

// CatalogResolver resolves a company-scoped product key to a confirmed
// product. Returns nil when the product does not exist. The Quantity field of
// the returned product is a point-in-time read and must never be used to make
// a reservation decision; only the ledger decides that.
type CatalogResolver interface {
	ResolveProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error)
}
