package service

import (
	"card-key-shop/internal/database"
	"card-key-shop/internal/domain"
	"card-key-shop/internal/repo"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// errNotApplied rolls back a delivery whose order moved on before the lock was taken.
var errNotApplied = errors.New("order no longer in expected status")

// fulfiller binds a card to an order and marks it delivered in one transaction,
// so a claimed card is released again whenever the order transition does not happen.
type fulfiller struct {
	tx     database.Transactor
	orders repo.OrderRepo
	cards  repo.CardRepo
}

// deliver moves orderID from `from` to delivered with a freshly allocated card.
// It returns domain.ErrNoStock when the product has no unused card left, and
// applied=false when the order was not in `from` anymore.
func (f *fulfiller) deliver(
	ctx context.Context,
	orderID string,
	from domain.OrderStatus,
	fields domain.TransitionFields,
) (*domain.Order, bool, error) {
	var updated *domain.Order
	err := f.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		current, err := f.orders.LockById(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrOrderNotFound
		}
		if current.Status != from {
			updated = current
			return errNotApplied
		}

		card, err := f.cards.Allocate(ctx, tx, current.ProductID, current.ID)
		if err != nil {
			return err
		}

		now := time.Now()
		fields.CardKey = &card.CardKey
		fields.DeliveredAt = &now

		var applied bool
		updated, applied, err = f.orders.Transition(ctx, tx, current.ID,
			[]domain.OrderStatus{from}, domain.OrderDelivered, fields)
		if err != nil {
			return err
		}
		if !applied {
			return errNotApplied
		}
		return nil
	})
	if errors.Is(err, errNotApplied) {
		return updated, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// FulfillmentService re-checks paid orders that could not get a card at
// settlement time and delivers them once stock is available again.
type FulfillmentService interface {
	// Sweep handles paid orders oldest first; productID restricts it to one product when non-empty.
	Sweep(ctx context.Context, productID string) (SweepResult, error)
}

type SweepResult struct {
	Checked   int
	Delivered int
	// Waiting counts paid orders still without stock when the sweep stopped.
	Waiting int
}

const sweepBatch = 100

type fulfillmentService struct {
	fulfiller
	logger *slog.Logger
}

func NewFulfillmentService(
	tx database.Transactor,
	orderRepo repo.OrderRepo,
	cardRepo repo.CardRepo,
	logger *slog.Logger,
) FulfillmentService {
	return &fulfillmentService{
		fulfiller: fulfiller{tx: tx, orders: orderRepo, cards: cardRepo},
		logger:    logger.With("module", "fulfillment"),
	}
}

func (s *fulfillmentService) Sweep(ctx context.Context, productID string) (SweepResult, error) {
	var result SweepResult

	paid, err := s.orders.FindByStatus(ctx, domain.OrderPaid, productID, sweepBatch)
	if err != nil {
		return result, fmt.Errorf("find paid orders: %w", err)
	}

	// products that ran dry during this sweep; later orders for them are skipped
	empty := make(map[string]bool)
	for _, order := range paid {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		if empty[order.ProductID] {
			result.Waiting++
			continue
		}

		_, applied, err := s.deliver(ctx, order.ID, domain.OrderPaid, domain.TransitionFields{})
		switch {
		case errors.Is(err, domain.ErrNoStock):
			empty[order.ProductID] = true
			result.Waiting++
		case err != nil:
			s.logger.Error("deliver paid order failed", "operation", "sweep", "order_id", order.ID, "error", err)
			return result, err
		case applied:
			result.Delivered++
			s.logger.Info("paid order delivered", "operation", "sweep", "outcome", "delivered", "order_id", order.ID)
		}
	}
	return result, nil
}
