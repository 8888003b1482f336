package service

import (
	"card-key-shop/internal/database"
	"card-key-shop/internal/domain"
	"card-key-shop/internal/repo"
	"card-key-shop/internal/signature"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const tradeStatusSuccess = "TRADE_SUCCESS"

// Outcome says which branch a notification took. Every outcome is acknowledged to the gateway.
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"       // trade_status was not a success
	OutcomeUnknownOrder Outcome = "unknown_order" // no such out_trade_no
	OutcomeDuplicate    Outcome = "duplicate"     // order already past pending
	OutcomeDelivered    Outcome = "delivered"
	OutcomeDeferred     Outcome = "paid_no_stock"
)

// ReconcileService handles the gateway's asynchronous payment notifications.
type ReconcileService interface {
	// HandleNotification returns domain.ErrAuthenticationFailed or domain.ErrMalformedNotification
	// for payloads that must be answered with a failure token. Any other error is transient.
	HandleNotification(ctx context.Context, params map[string]string) (Outcome, error)
}

type reconcileService struct {
	fulfiller
	merchantKey string
	logger      *slog.Logger
}

func NewReconcileService(
	tx database.Transactor,
	orderRepo repo.OrderRepo,
	cardRepo repo.CardRepo,
	merchantKey string,
	logger *slog.Logger,
) ReconcileService {
	return &reconcileService{
		fulfiller:   fulfiller{tx: tx, orders: orderRepo, cards: cardRepo},
		merchantKey: merchantKey,
		logger:      logger.With("module", "reconcile"),
	}
}

func (s *reconcileService) HandleNotification(ctx context.Context, params map[string]string) (Outcome, error) {
	if !signature.Verify(params, s.merchantKey) {
		s.logger.Warn("notification signature mismatch", "operation", "notify", "outcome", "rejected",
			"order_id", params["out_trade_no"])
		return "", domain.ErrAuthenticationFailed
	}

	if params["trade_status"] != tradeStatusSuccess {
		return OutcomeIgnored, nil
	}

	orderID := params["out_trade_no"]
	if orderID == "" {
		return "", fmt.Errorf("%w: out_trade_no is empty", domain.ErrMalformedNotification)
	}

	order, err := s.orders.FindById(ctx, nil, orderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		s.logger.Warn("notification for unknown order", "operation", "notify", "outcome", OutcomeUnknownOrder, "order_id", orderID)
		return OutcomeUnknownOrder, nil
	}
	if order.Status != domain.OrderPending {
		return OutcomeDuplicate, nil
	}

	now := time.Now()
	fields := domain.TransitionFields{PaidAt: &now}
	if tradeNo := params["trade_no"]; tradeNo != "" {
		fields.TradeNo = &tradeNo
	}

	_, applied, err := s.deliver(ctx, orderID, domain.OrderPending, fields)
	switch {
	case errors.Is(err, domain.ErrNoStock):
		return s.deferDelivery(ctx, orderID, fields)
	case err != nil:
		s.logger.Error("deliver order failed", "operation", "notify", "order_id", orderID, "error", err)
		return "", err
	case !applied:
		return OutcomeDuplicate, nil
	}

	s.logger.Info("order delivered", "operation", "notify", "outcome", OutcomeDelivered, "order_id", orderID)
	return OutcomeDelivered, nil
}

// deferDelivery records the payment without a card; the fulfillment sweep delivers it after a restock.
func (s *reconcileService) deferDelivery(ctx context.Context, orderID string, fields domain.TransitionFields) (Outcome, error) {
	_, applied, err := s.orders.Transition(ctx, nil, orderID,
		[]domain.OrderStatus{domain.OrderPending}, domain.OrderPaid, fields)
	if err != nil {
		return "", err
	}
	if !applied {
		return OutcomeDuplicate, nil
	}
	s.logger.Warn("order paid but out of stock", "operation", "notify", "outcome", OutcomeDeferred, "order_id", orderID)
	return OutcomeDeferred, nil
}
