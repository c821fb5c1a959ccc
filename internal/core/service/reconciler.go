package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront-settlement/internal/port"
)

// Reconciler drains the reconciliation queue and retries the releases that
// failed during settlement, so flagged stock eventually returns to the
// ledger without operator intervention.
type Reconciler struct {
	queue    port.ReconciliationQueue
	ledger   port.InventoryLedger
	logger   *zap.Logger
	interval time.Duration
}

func NewReconciler(queue port.ReconciliationQueue, ledger port.InventoryLedger, logger *zap.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reconciler{
		queue:    queue,
		ledger:   ledger,
		logger:   logger,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled, draining the queue once per tick.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain processes queued entries until the queue is empty or an entry fails
// again. A failed entry is re-queued and retried on a later pass.
func (r *Reconciler) Drain(ctx context.Context) {
	for {
		entry, err := r.queue.Pop(ctx)
		if err != nil {
			r.logger.Warn("reconciler: queue pop failed", zap.Error(err))
			return
		}
		if entry == nil {
			return
		}

		if err := r.ledger.Release(ctx, entry.ProductKey, entry.Quantity); err != nil {
			r.logger.Warn("reconciler: release failed, re-queueing",
				zap.String("company", entry.ProductKey.Company),
				zap.String("product", entry.ProductKey.Name),
				zap.Int("quantity", entry.Quantity),
				zap.Error(err),
			)
			if pushErr := r.queue.Push(ctx, *entry); pushErr != nil {
				r.logger.Error("reconciler: lost entry, manual reconciliation needed",
					zap.String("company", entry.ProductKey.Company),
					zap.String("product", entry.ProductKey.Name),
					zap.Int("quantity", entry.Quantity),
					zap.String("idempotency_key", entry.IdempotencyKey),
					zap.Error(pushErr),
				)
			}
			return
		}

		r.logger.Info("reconciler: restored stock",
			zap.String("company", entry.ProductKey.Company),
			zap.String("product", entry.ProductKey.Name),
			zap.Int("quantity", entry.Quantity),
			zap.Duration("outstanding", time.Since(entry.FailedAt)),
		)
	}
}
