package server

import (
	"card-key-shop/internal/domain"
	"card-key-shop/internal/service"
	"context"
	"errors"
	"sync"
	"time"
)

var errMock = errors.New("mock: not configured")

type MockCatalog struct {
	ListFunc func(ctx context.Context) ([]domain.Product, error)
	GetFunc  func(ctx context.Context, id string) (*domain.Product, error)
}

func (m *MockCatalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, domain.ErrProductNotFound
}

type MockOrders struct {
	CreateFunc  func(ctx context.Context, req service.CreateOrderRequest) (*service.Checkout, error)
	GetFunc     func(ctx context.Context, id string) (*domain.Order, error)
	ListFunc    func(ctx context.Context, userID string) ([]domain.Order, error)
	RecentFunc  func(ctx context.Context) ([]domain.Order, error)
	RestockFunc func(ctx context.Context, productID string, keys []string) (int, error)
}

func (m *MockOrders) CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.Checkout, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	return nil, errMock
}

func (m *MockOrders) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, domain.ErrOrderNotFound
}

func (m *MockOrders) ListForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockOrders) ListRecent(ctx context.Context) ([]domain.Order, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx)
	}
	return nil, nil
}

func (m *MockOrders) Restock(ctx context.Context, productID string, keys []string) (int, error) {
	if m.RestockFunc != nil {
		return m.RestockFunc(ctx, productID, keys)
	}
	return 0, errMock
}

type MockReconcile struct {
	HandleFunc func(ctx context.Context, params map[string]string) (service.Outcome, error)
}

func (m *MockReconcile) HandleNotification(ctx context.Context, params map[string]string) (service.Outcome, error) {
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, params)
	}
	return service.OutcomeIgnored, nil
}

type MockRefunds struct {
	RefundFunc func(ctx context.Context, orderID string) (*domain.Order, error)
}

func (m *MockRefunds) Refund(ctx context.Context, orderID string) (*domain.Order, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, orderID)
	}
	return nil, errMock
}

type MockAuth struct {
	Sessions     map[string]*domain.Session
	BeginFunc    func(ctx context.Context, next string) (string, error)
	CompleteFunc func(ctx context.Context, state, code string) (*domain.Session, string, error)
	LoggedOut    []string
}

func (m *MockAuth) BeginLogin(ctx context.Context, next string) (string, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, next)
	}
	return "", errMock
}

func (m *MockAuth) CompleteLogin(ctx context.Context, state, code string) (*domain.Session, string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, state, code)
	}
	return nil, "", domain.ErrInvalidState
}

func (m *MockAuth) Authenticate(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.Sessions[sessionID], nil
}

func (m *MockAuth) Logout(ctx context.Context, sessionID string) error {
	m.LoggedOut = append(m.LoggedOut, sessionID)
	return nil
}

func (m *MockAuth) PurgeExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

type MockRestocker struct {
	Products []string
	Result   service.SweepResult
}

func (m *MockRestocker) FulfillProduct(ctx context.Context, productID string) (service.SweepResult, error) {
	m.Products = append(m.Products, productID)
	return m.Result, nil
}

type MockHealth struct {
	Stats map[string]string
}

func (m *MockHealth) Health(ctx context.Context) map[string]string {
	return m.Stats
}

type MockMarkers struct {
	mu     sync.Mutex
	Tokens map[string]string
	PutErr error
}

func (m *MockMarkers) Put(ctx context.Context, token, orderID string, ttl time.Duration) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Tokens == nil {
		m.Tokens = make(map[string]string)
	}
	m.Tokens[token] = orderID
	return nil
}

func (m *MockMarkers) Resolve(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Tokens[token], nil
}
