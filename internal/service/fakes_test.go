package service

import (
	"card-key-shop/internal/domain"
	"card-key-shop/internal/infrastructure/cache"
	"card-key-shop/internal/infrastructure/payment"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTx runs fn without a transaction; the fake repos ignore tx.
type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// serialTx runs one fn at a time, standing in for the row lock LockById takes.
type serialTx struct {
	mu sync.Mutex
}

func (t *serialTx) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(nil)
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	err    error
}

func newFakeOrderRepo(orders ...domain.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeOrderRepo) get(id string) *domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil
	}
	return &o
}

func (r *fakeOrderRepo) FindById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.get(id), nil
}

func (r *fakeOrderRepo) LockById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error) {
	return r.FindById(ctx, tx, id)
}

func (r *fakeOrderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = *order
	return nil
}

func (r *fakeOrderRepo) Transition(ctx context.Context, tx *sql.Tx, id string, from []domain.OrderStatus, to domain.OrderStatus, f domain.TransitionFields) (*domain.Order, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}
	for _, s := range from {
		if o.Status == s && s.CanTransitionTo(to) {
			o.Status = to
			if f.TradeNo != nil {
				o.TradeNo = f.TradeNo
			}
			if f.CardKey != nil {
				o.CardKey = f.CardKey
			}
			if f.PaidAt != nil {
				o.PaidAt = f.PaidAt
			}
			if f.DeliveredAt != nil {
				o.DeliveredAt = f.DeliveredAt
			}
			if f.RefundedAt != nil {
				o.RefundedAt = f.RefundedAt
			}
			r.orders[id] = o
			return &o, true, nil
		}
	}
	return &o, false, nil
}

func (r *fakeOrderRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.OwnedBy(userID) }, limit), nil
}

func (r *fakeOrderRepo) ListRecent(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.filter(func(domain.Order) bool { return true }, limit), nil
}

func (r *fakeOrderRepo) FindByStatus(ctx context.Context, status domain.OrderStatus, productID string, limit int) ([]domain.Order, error) {
	out := r.filter(func(o domain.Order) bool {
		return o.Status == status && (productID == "" || o.ProductID == productID)
	}, 0)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeOrderRepo) filter(keep func(domain.Order) bool, limit int) []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type fakeCardRepo struct {
	mu        sync.Mutex
	cards     []domain.Card
	allocated int
	err       error
}

func (r *fakeCardRepo) Allocate(ctx context.Context, tx *sql.Tx, productID, orderID string) (*domain.Card, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.cards {
		c := &r.cards[i]
		if c.ProductID == productID && !c.IsUsed {
			now := time.Now()
			c.IsUsed = true
			c.OrderID = &orderID
			c.UsedAt = &now
			r.allocated++
			out := *c
			return &out, nil
		}
	}
	return nil, domain.ErrNoStock
}

func (r *fakeCardRepo) AddCards(ctx context.Context, tx *sql.Tx, productID string, keys []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		r.cards = append(r.cards, domain.Card{ID: int64(len(r.cards) + 1), ProductID: productID, CardKey: k})
	}
	return len(keys), nil
}

func (r *fakeCardRepo) CountUnused(ctx context.Context, productID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.cards {
		if c.ProductID == productID && !c.IsUsed {
			n++
		}
	}
	return n, nil
}

type fakeProductRepo struct {
	products map[string]domain.Product
}

func (r *fakeProductRepo) FindById(ctx context.Context, id string) (*domain.Product, error) {
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *fakeProductRepo) List(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range r.products {
		out = append(out, p)
	}
	return out, nil
}

type fakeGateway struct {
	mu      sync.Mutex
	delay   time.Duration
	calls   int
	tradeNo string
	amount  decimal.Decimal
	err     error
}

func (g *fakeGateway) CheckoutForm(order *domain.Order) payment.CheckoutForm {
	return payment.CheckoutForm{
		Action: "https://pay.example.com/submit.php",
		Fields: map[string]string{"out_trade_no": order.ID, "money": payment.FormatMoney(order.Amount)},
	}
}

func (g *fakeGateway) Refund(ctx context.Context, tradeNo string, amount decimal.Decimal) (*payment.RefundResult, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.tradeNo = tradeNo
	g.amount = amount
	if g.err != nil {
		return nil, g.err
	}
	return &payment.RefundResult{Code: 1, Msg: "ok"}, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]domain.Session)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *fakeSessionRepo) FindActive(ctx context.Context, id string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Expired(now) {
		return nil, nil
	}
	return &s, nil
}

func (r *fakeSessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *fakeSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

type fakeStateStore struct {
	states map[string]cache.OAuthState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]cache.OAuthState)}
}

func (s *fakeStateStore) Put(ctx context.Context, state string, value cache.OAuthState, ttl time.Duration) error {
	s.states[state] = value
	return nil
}

func (s *fakeStateStore) Consume(ctx context.Context, state string) (*cache.OAuthState, error) {
	v, ok := s.states[state]
	if !ok {
		return nil, nil
	}
	delete(s.states, state)
	return &v, nil
}

type fakeProvider struct {
	profile domain.Profile
	err     error
	codes   []string
}

func (p *fakeProvider) AuthorizeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (domain.Profile, error) {
	p.codes = append(p.codes, code)
	return p.profile, p.err
}

func strPtr(s string) *string { return &s }
