package service

import (
	"card-key-shop/internal/database"
	"card-key-shop/internal/domain"
	"card-key-shop/internal/infrastructure/payment"
	"card-key-shop/internal/repo"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

type RefundService interface {
	// Refund calls the gateway and marks the order refunded on success.
	// Refunding an already refunded order returns it unchanged without contacting the gateway.
	Refund(ctx context.Context, orderID string) (*domain.Order, error)
}

type refundService struct {
	tx         database.Transactor
	orderRepo  repo.OrderRepo
	paymentGtw payment.PaymentGateway
	logger     *slog.Logger
}

func NewRefundService(tx database.Transactor, orderRepo repo.OrderRepo, paymentGtw payment.PaymentGateway, logger *slog.Logger) RefundService {
	return &refundService{
		tx:         tx,
		orderRepo:  orderRepo,
		paymentGtw: paymentGtw,
		logger:     logger.With("module", "refund"),
	}
}

var refundableFrom = []domain.OrderStatus{domain.OrderPaid, domain.OrderDelivered}

// Refund holds the order row lock across the gateway call, so concurrent
// refunds of one order reach the gateway at most once.
func (s *refundService) Refund(ctx context.Context, orderID string) (*domain.Order, error) {
	var (
		result   *domain.Order
		refunded bool
	)
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		order, err := s.orderRepo.LockById(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}

		if order.Status == domain.OrderRefunded {
			result = order
			return nil
		}
		if !order.Status.CanTransitionTo(domain.OrderRefunded) {
			return domain.ErrNotRefundable
		}
		if order.TradeNo == nil || *order.TradeNo == "" {
			return domain.ErrMissingTradeNo
		}

		if _, err := s.paymentGtw.Refund(ctx, *order.TradeNo, order.Amount); err != nil {
			var rejected *domain.RefundRejectedError
			if errors.As(err, &rejected) {
				s.logger.Warn("gateway rejected refund", "operation", "refund", "outcome", "rejected",
					"order_id", orderID, "code", rejected.Code, "raw", rejected.Raw)
			} else {
				s.logger.Error("refund call failed", "operation", "refund", "order_id", orderID, "error", err)
			}
			return err
		}

		now := time.Now()
		updated, applied, err := s.orderRepo.Transition(ctx, tx, orderID, refundableFrom, domain.OrderRefunded,
			domain.TransitionFields{RefundedAt: &now})
		if err != nil {
			// the gateway already paid out; leave a trace for manual repair
			s.logger.Error("refund accepted but order not updated", "operation", "refund", "order_id", orderID, "error", err)
			return err
		}
		result, refunded = updated, applied
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refunded {
		s.logger.Info("order refunded", "operation", "refund", "outcome", "refunded", "order_id", orderID)
	}
	return result, nil
}
