package worker

import (
	"card-key-shop/internal/service"
	"context"
	"log/slog"
	"time"
)

// SessionPurger drops expired login sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// FulfillmentSweeper periodically delivers paid orders that were waiting for stock
// and drops expired sessions.
type FulfillmentSweeper struct {
	fulfillment service.FulfillmentService
	sessions    SessionPurger
	interval    time.Duration
	logger      *slog.Logger
}

func NewFulfillmentSweeper(
	fulfillment service.FulfillmentService,
	sessions SessionPurger,
	interval time.Duration,
	logger *slog.Logger,
) *FulfillmentSweeper {
	return &FulfillmentSweeper{
		fulfillment: fulfillment,
		sessions:    sessions,
		interval:    interval,
		logger:      logger.With("module", "sweeper"),
	}
}

// Run blocks until ctx is done. A non-positive interval disables the ticker.
func (w *FulfillmentSweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("fulfillment sweeper started", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("fulfillment sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				w.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs one pass over every product.
func (w *FulfillmentSweeper) SweepOnce(ctx context.Context) (service.SweepResult, error) {
	if w.sessions != nil {
		if n, err := w.sessions.PurgeExpired(ctx); err != nil {
			w.logger.Warn("purge expired sessions failed", "error", err)
		} else if n > 0 {
			w.logger.Info("expired sessions purged", "count", n)
		}
	}
	return w.sweep(ctx, "")
}

// FulfillProduct runs one pass for a single product, typically right after a restock.
func (w *FulfillmentSweeper) FulfillProduct(ctx context.Context, productID string) (service.SweepResult, error) {
	return w.sweep(ctx, productID)
}

func (w *FulfillmentSweeper) sweep(ctx context.Context, productID string) (service.SweepResult, error) {
	result, err := w.fulfillment.Sweep(ctx, productID)
	if err != nil {
		return result, err
	}
	if result.Checked > 0 {
		w.logger.Info("sweep finished",
			"product_id", productID,
			"checked", result.Checked,
			"delivered", result.Delivered,
			"waiting", result.Waiting,
		)
	}
	return result, nil
}
