package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/storefront-settlement/internal/core/domain"
	"github.com/rl1809/storefront-settlement/internal/port"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrBuyerNotFound  = errors.New("buyer not found")

	// Re-exported so callers classify every outcome against one package.
	ErrProductNotFound   = port.ErrProductNotFound
	ErrInsufficientStock = port.ErrInsufficientStock

	// ErrCompensationFailed means stock was reserved but neither recorded nor
	// released. The missing quantity is flagged on the reconciliation queue.
	ErrCompensationFailed = errors.New("compensation failed")
)

type SettleRequest struct {
	IdempotencyKey string
	BuyerID        string
	ProductKey     domain.ProductKey
	Quantity       int
}

type SettleResult struct {
	Order domain.Order

	// AlreadySettled reports that this idempotency key was settled by an
	// earlier request and no new inventory effect occurred.
	AlreadySettled bool
}

// Coordinator sequences a purchase settlement: validate, resolve, reserve,
// record. It owns the failure and rollback policy; the ledger's conditional
// write is the only synchronization point, so Coordinator is safe for
// arbitrary concurrent use.
type Coordinator struct {
	ledger    port.InventoryLedger
	orders    port.OrderStore
	identity  port.IdentityResolver
	catalog   port.CatalogResolver
	reconcile port.ReconciliationQueue
	logger    *zap.Logger
	opTimeout time.Duration
}

func NewCoordinator(
	ledger port.InventoryLedger,
	orders port.OrderStore,
	identity port.IdentityResolver,
	catalog port.CatalogResolver,
	reconcile port.ReconciliationQueue,
	logger *zap.Logger,
	opTimeout time.Duration,
) *Coordinator {
	return &Coordinator{
		ledger:    ledger,
		orders:    orders,
		identity:  identity,
		catalog:   catalog,
		reconcile: reconcile,
		logger:    logger,
		opTimeout: opTimeout,
	}
}

// SettlePurchase is the sole public operation of the subsystem.
//
// Cancellation is honored up to the reservation. Once stock is reserved the
// call runs to completion, to either a recorded order, a released
// reservation, or a flagged reconciliation entry; there is no state where
// stock is decremented silently.
func (c *Coordinator) SettlePurchase(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidRequest, req.Quantity)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: missing idempotency key", ErrInvalidRequest)
	}
	if req.BuyerID == "" {
		return nil, fmt.Errorf("%w: missing buyer id", ErrInvalidRequest)
	}
	if err := req.ProductKey.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Fast path: a settled key returns the prior result untouched. Best
	// effort only; RecordIfAbsent's uniqueness constraint is the real guard.
	if prior, err := c.findPrior(ctx, req.IdempotencyKey); err == nil && prior != nil {
		return &SettleResult{Order: *prior, AlreadySettled: true}, nil
	}

	buyer, err := c.resolveBuyer(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}
	product, err := c.resolveProduct(ctx, req.ProductKey)
	if err != nil {
		return nil, err
	}

	// Last point where abandoning the request is free of side effects.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.reserve(ctx, req.ProductKey, req.Quantity); err != nil {
		return nil, err
	}

	// Reservation taken: detach from caller cancellation until settled.
	settleCtx := context.WithoutCancel(ctx)

	order := domain.Order{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		ProductName:    product.Name,
		CompanyName:    product.Company,
		Quantity:       req.Quantity,
		BuyerName:      buyer.Name,
		CreatedAt:      time.Now().UTC(),
	}

	created, err := c.record(settleCtx, order)
	if err != nil {
		return nil, c.compensate(settleCtx, req, fmt.Errorf("record order: %w", err))
	}
	if !created {
		// A concurrent retry with the same key recorded first. Its order is
		// the settlement; give back the reservation this path took.
		if relErr := c.release(settleCtx, req.ProductKey, req.Quantity); relErr != nil {
			c.flagLostCompensation(settleCtx, req, relErr)
		}
		prior, perr := c.findPrior(settleCtx, req.IdempotencyKey)
		if perr != nil || prior == nil {
			prior, perr = c.findPrior(settleCtx, req.IdempotencyKey)
		}
		if perr != nil {
			// The reservation is already given back, so the caller can retry
			// and be served the recorded order from the fast path.
			return nil, fmt.Errorf("lookup prior settlement: %w", perr)
		}
		if prior == nil {
			return nil, fmt.Errorf("lookup prior settlement: no order for key %q", req.IdempotencyKey)
		}
		return &SettleResult{Order: *prior, AlreadySettled: true}, nil
	}

	c.logger.Info("purchase settled",
		zap.String("order_id", order.ID),
		zap.String("company", order.CompanyName),
		zap.String("product", order.ProductName),
		zap.Int("quantity", order.Quantity),
		zap.String("buyer", order.BuyerName),
	)
	return &SettleResult{Order: order}, nil
}

func (c *Coordinator) resolveBuyer(ctx context.Context, buyerID string) (*domain.Buyer, error) {
	opCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	buyer, err := c.identity.ResolveBuyer(opCtx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("resolve buyer: %w", err)
	}
	if buyer == nil {
		return nil, ErrBuyerNotFound
	}
	return buyer, nil
}

func (c *Coordinator) resolveProduct(ctx context.Context, key domain.ProductKey) (*domain.Product, error) {
	opCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	product, err := c.catalog.ResolveProduct(opCtx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

func (c *Coordinator) reserve(ctx context.Context, key domain.ProductKey, qty int) error {
	opCtx, cancel := c.storeCtx(ctx)
	defer cancel()

	err := c.ledger.Reserve(opCtx, key, qty)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, port.ErrInsufficientStock), errors.Is(err, port.ErrProductNotFound):
		// Expected business outcomes, pass through unwrapped.
		return err
	default:
		return fmt.Errorf("reserve stock: %w", err)
	}
}

func (c *Coordinator) release(ctx context.Context, key domain.ProductKey, qty int) error {
	opCtx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.ledger.Release(opCtx, key, qty)
}

func (c *Coordinator) record(ctx context.Context, order domain.Order) (bool, error) {
	opCtx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.orders.RecordIfAbsent(opCtx, order)
}

func (c *Coordinator) findPrior(ctx context.Context, key string) (*domain.Order, error) {
	opCtx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.orders.FindByIdempotencyKey(opCtx, key)
}

// compensate runs after a failed record while holding a reservation. Release
// restores the stock; if release also fails the quantity is flagged for
// reconciliation so it cannot be lost silently.
func (c *Coordinator) compensate(ctx context.Context, req SettleRequest, cause error) error {
	if relErr := c.release(ctx, req.ProductKey, req.Quantity); relErr != nil {
		c.flagLostCompensation(ctx, req, relErr)
		return fmt.Errorf("%w: %v (release: %v)", ErrCompensationFailed, cause, relErr)
	}
	c.logger.Warn("reservation rolled back after record failure",
		zap.String("company", req.ProductKey.Company),
		zap.String("product", req.ProductKey.Name),
		zap.Int("quantity", req.Quantity),
		zap.Error(cause),
	)
	return cause
}

func (c *Coordinator) flagLostCompensation(ctx context.Context, req SettleRequest, relErr error) {
	entry := port.ReconciliationEntry{
		ProductKey:     req.ProductKey,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
		FailedAt:       time.Now().UTC(),
	}

	fields := []zap.Field{
		zap.String("company", req.ProductKey.Company),
		zap.String("product", req.ProductKey.Name),
		zap.Int("quantity", req.Quantity),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.NamedError("release_error", relErr),
	}

	if pushErr := c.reconcile.Push(ctx, entry); pushErr != nil {
		// The error log is now the only external record of the lost stock.
		c.logger.Error("reconciliation required: release failed and entry could not be queued",
			append(fields, zap.NamedError("queue_error", pushErr))...)
		return
	}
	c.logger.Error("reconciliation required: release failed, entry queued", fields...)
}

func (c *Coordinator) storeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.opTimeout)
}
