package service

import (
	"card-key-shop/internal/database"
	"card-key-shop/internal/domain"
	"card-key-shop/internal/infrastructure/payment"
	"card-key-shop/internal/repo"
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	userOrderLimit  = 20
	adminOrderLimit = 50
)

type OrderService interface {
	// CreateOrder records a pending order and returns the signed form that sends the browser to the gateway.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Checkout, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListRecent(ctx context.Context) ([]domain.Order, error)
	// Restock adds card keys to a product. Paid orders waiting for it are left to the fulfillment sweep.
	Restock(ctx context.Context, productID string, keys []string) (int, error)
}

type CreateOrderRequest struct {
	ProductID string
	Email     string
	CSRFToken string
	// Session is nil for guests.
	Session *domain.Session
}

type Checkout struct {
	Order *domain.Order
	Form  payment.CheckoutForm
}

type orderService struct {
	tx           database.Transactor
	orderRepo    repo.OrderRepo
	productRepo  repo.ProductRepo
	cardRepo     repo.CardRepo
	paymentGtw   payment.PaymentGateway
	requireLogin bool
	logger       *slog.Logger
}

func NewOrderService(
	tx database.Transactor,
	orderRepo repo.OrderRepo,
	productRepo repo.ProductRepo,
	cardRepo repo.CardRepo,
	paymentGtw payment.PaymentGateway,
	requireLogin bool,
	logger *slog.Logger,
) OrderService {
	return &orderService{
		tx:           tx,
		orderRepo:    orderRepo,
		productRepo:  productRepo,
		cardRepo:     cardRepo,
		paymentGtw:   paymentGtw,
		requireLogin: requireLogin,
		logger:       logger.With("module", "order"),
	}
}

func (s *orderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Checkout, error) {
	now := time.Now()
	session := req.Session
	if session != nil && session.Expired(now) {
		session = nil
	}
	if session == nil && s.requireLogin {
		return nil, domain.ErrUnauthenticated
	}
	if session != nil && subtle.ConstantTimeCompare([]byte(req.CSRFToken), []byte(session.CSRFToken)) != 1 {
		return nil, domain.ErrCSRFMismatch
	}

	product, err := s.productRepo.FindById(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrProductNotFound
	}

	// Soft check only: the allocator decides at settlement time.
	stock, err := s.cardRepo.CountUnused(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	if stock == 0 {
		return nil, domain.ErrOutOfStock
	}

	order := &domain.Order{
		ID:          domain.NewOrderID(now),
		ProductID:   product.ID,
		ProductName: product.Name,
		Amount:      product.Price,
		Status:      domain.OrderPending,
		CreatedAt:   now,
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		order.Email = &email
	}
	if session != nil {
		order.UserID = &session.UserID
		order.Username = &session.Username
	}

	if err := s.orderRepo.CreateOrder(ctx, nil, order); err != nil {
		return nil, err
	}
	s.logger.Info("order created", "operation", "create", "outcome", "pending", "order_id", order.ID, "product_id", product.ID)

	return &Checkout{Order: order, Form: s.paymentGtw.CheckoutForm(order)}, nil
}

func (s *orderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.orderRepo.ListByUser(ctx, userID, userOrderLimit)
}

func (s *orderService) ListRecent(ctx context.Context) ([]domain.Order, error) {
	return s.orderRepo.ListRecent(ctx, adminOrderLimit)
}

func (s *orderService) Restock(ctx context.Context, productID string, keys []string) (int, error) {
	product, err := s.productRepo.FindById(ctx, productID)
	if err != nil {
		return 0, err
	}
	if product == nil {
		return 0, domain.ErrProductNotFound
	}

	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return 0, nil
	}

	var added int
	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		var err error
		added, err = s.cardRepo.AddCards(ctx, tx, productID, cleaned)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("restock %s: %w", productID, err)
	}
	s.logger.Info("product restocked", "operation", "restock", "product_id", productID, "added", added)
	return added, nil
}
