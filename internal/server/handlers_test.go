package server

import (
	"card-key-shop/internal/config"
	"card-key-shop/internal/domain"
	"card-key-shop/internal/infrastructure/payment"
	"card-key-shop/internal/service"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	catalog   *MockCatalog
	orders    *MockOrders
	reconcile *MockReconcile
	refunds   *MockRefunds
	auth      *MockAuth
	restocker *MockRestocker
	markers   *MockMarkers
	server    *Server
}

func newTestEnv() *testEnv {
	env := &testEnv{
		catalog:   &MockCatalog{},
		orders:    &MockOrders{},
		reconcile: &MockReconcile{},
		refunds:   &MockRefunds{},
		auth: &MockAuth{Sessions: map[string]*domain.Session{
			"sess-user":  {ID: "sess-user", UserID: "42", Username: "alice", CSRFToken: "csrf-user", ExpiresAt: time.Now().Add(time.Hour)},
			"sess-admin": {ID: "sess-admin", UserID: "1", Username: "Root", CSRFToken: "csrf-admin", ExpiresAt: time.Now().Add(time.Hour)},
		}},
		restocker: &MockRestocker{},
		markers:   &MockMarkers{Tokens: map[string]string{"tok-ord1": "ORD1"}},
	}
	cfg := config.Config{
		SiteURL:    "https://shop.example.com",
		AdminUsers: []string{"root"},
		SessionTTL: 7 * 24 * time.Hour,
	}
	env.server = New(cfg, Deps{
		Catalog:   env.catalog,
		Orders:    env.orders,
		Reconcile: env.reconcile,
		Refunds:   env.refunds,
		Auth:      env.auth,
		Restocker: env.restocker,
		Markers:   env.markers,
		Health:    &MockHealth{Stats: map[string]string{"status": "up"}},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return env
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func sessionCookieFor(id string) *http.Cookie {
	return &http.Cookie{Name: sessionCookie, Value: id}
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func deliveredOrder() *domain.Order {
	uid := "42"
	key := "SECRET-KEY"
	trade := "T1"
	return &domain.Order{
		ID:          "ORD1",
		ProductID:   "p1",
		ProductName: "Gift Card",
		Amount:      decimal.RequireFromString("10"),
		UserID:      &uid,
		Status:      domain.OrderDelivered,
		TradeNo:     &trade,
		CardKey:     &key,
		CreatedAt:   time.Now(),
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv()
	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"up"`)
}

func TestNotify_Query(t *testing.T) {
	env := newTestEnv()
	var got map[string]string
	env.reconcile.HandleFunc = func(ctx context.Context, params map[string]string) (service.Outcome, error) {
		got = params
		return service.OutcomeDelivered, nil
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/notify?out_trade_no=ORD1&trade_status=TRADE_SUCCESS&sign=abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())
	assert.Equal(t, "ORD1", got["out_trade_no"])
	assert.Equal(t, "abc", got["sign"])
}

func TestNotify_FormPost(t *testing.T) {
	env := newTestEnv()
	var got map[string]string
	env.reconcile.HandleFunc = func(ctx context.Context, params map[string]string) (service.Outcome, error) {
		got = params
		return service.OutcomeDuplicate, nil
	}

	w := env.do(postForm("/notify", url.Values{"out_trade_no": {"ORD1"}, "trade_no": {"T1"}}))
	assert.Equal(t, "success", w.Body.String())
	assert.Equal(t, "T1", got["trade_no"])
}

func TestNotify_RawBodyPost(t *testing.T) {
	env := newTestEnv()
	var got map[string]string
	env.reconcile.HandleFunc = func(ctx context.Context, params map[string]string) (service.Outcome, error) {
		got = params
		return service.OutcomeDelivered, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader("out_trade_no=ORD1&money=10.00"))
	req.Header.Set("Content-Type", "text/plain")
	w := env.do(req)
	assert.Equal(t, "success", w.Body.String())
	assert.Equal(t, "10.00", got["money"])
}

func TestNotify_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"bad signature", domain.ErrAuthenticationFailed, http.StatusBadRequest},
		{"malformed", domain.ErrMalformedNotification, http.StatusBadRequest},
		{"store down", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.reconcile.HandleFunc = func(ctx context.Context, params map[string]string) (service.Outcome, error) {
				return "", tt.err
			}
			w := env.do(httptest.NewRequest(http.MethodGet, "/notify?sign=x", nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "fail", w.Body.String())
		})
	}
}

func TestCreateOrder_RendersGatewayForm(t *testing.T) {
	env := newTestEnv()
	var got service.CreateOrderRequest
	env.orders.CreateFunc = func(ctx context.Context, req service.CreateOrderRequest) (*service.Checkout, error) {
		got = req
		return &service.Checkout{
			Order: &domain.Order{ID: "ORD1"},
			Form: payment.CheckoutForm{
				Action: "https://pay.example.com/submit.php",
				Fields: map[string]string{"out_trade_no": "ORD1", "money": "10.00", "sign": "deadbeef"},
			},
		}, nil
	}

	w := env.do(postForm("/order/create", url.Values{
		"product_id": {"p1"}, "email": {"a@example.com"}, "csrf_token": {"csrf-user"},
	}), sessionCookieFor("sess-user"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", got.ProductID)
	assert.Equal(t, "csrf-user", got.CSRFToken)
	require.NotNil(t, got.Session)
	assert.Equal(t, "42", got.Session.UserID)

	body := w.Body.String()
	assert.Contains(t, body, `action="https://pay.example.com/submit.php"`)
	assert.Contains(t, body, `name="out_trade_no" value="ORD1"`)
	assert.Contains(t, body, `name="sign" value="deadbeef"`)

	cookie := findCookie(w, pendingCookie)
	require.NotNil(t, cookie)
	assert.NotEqual(t, "ORD1", cookie.Value)
	assert.Equal(t, "ORD1", env.markers.Tokens[cookie.Value])
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Zero(t, cookie.MaxAge)
	assert.True(t, cookie.Expires.IsZero())
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrOutOfStock, http.StatusBadRequest},
		{domain.ErrProductNotFound, http.StatusNotFound},
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{domain.ErrCSRFMismatch, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv()
			env.orders.CreateFunc = func(ctx context.Context, req service.CreateOrderRequest) (*service.Checkout, error) {
				return nil, tt.err
			}
			w := env.do(postForm("/order/create", url.Values{"product_id": {"p1"}}))
			assert.Equal(t, tt.status, w.Code)
			assert.Nil(t, findCookie(w, pendingCookie))
		})
	}
}

func returnBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestReturn_GuestWithoutMarkerGetsNoKey(t *testing.T) {
	env := newTestEnv()
	env.orders.GetFunc = func(ctx context.Context, id string) (*domain.Order, error) { return deliveredOrder(), nil }

	body := returnBody(t, env.do(httptest.NewRequest(http.MethodGet, "/return?out_trade_no=ORD1", nil)))
	assert.Equal(t, "delivered", body["status"])
	assert.Equal(t, "10.00", body["amount"])
	assert.NotContains(t, body, "card_key")
}

func TestReturn_MarkerRevealsKey(t *testing.T) {
	env := newTestEnv()
	env.orders.GetFunc = func(ctx context.Context, id string) (*domain.Order, error) {
		assert.Equal(t, "ORD1", id)
		return deliveredOrder(), nil
	}

	body := returnBody(t, env.do(httptest.NewRequest(http.MethodGet, "/callback", nil),
		&http.Cookie{Name: pendingCookie, Value: "tok-ord1"}))
	assert.Equal(t, "SECRET-KEY", body["card_key"])
}

func TestReturn_ForgedMarkerGetsNoKey(t *testing.T) {
	env := newTestEnv()
	env.orders.GetFunc = func(ctx context.Context, id string) (*domain.Order, error) { return deliveredOrder(), nil }

	// someone who only knows the order id copies it into the cookie
	body := returnBody(t, env.do(httptest.NewRequest(http.MethodGet, "/return?out_trade_no=ORD1", nil),
		&http.Cookie{Name: pendingCookie, Value: "ORD1"}))
	assert.Equal(t, "delivered", body["status"])
	assert.NotContains(t, body, "card_key")
}

func TestReturn_MarkerForOtherOrderGetsNoKey(t *testing.T) {
	env := newTestEnv()
	env.markers.Tokens["tok-ord2"] = "ORD2"
	env.orders.GetFunc = func(ctx context.Context, id string) (*domain.Order, error) { return deliveredOrder(), nil }

	body := returnBody(t, env.do(httptest.NewRequest(http.MethodGet, "/return?out_trade_no=ORD1", nil),
		&http.Cookie{Name: pendingCookie, Value: "tok-ord2"}))
	assert.NotContains(t, body, "card_key")
}

func TestCreateOrder_MarkerStoreDownSkipsCookie(t *testing.T) {
	env := newTestEnv()
	env.markers.PutErr = errors.New("redis down")
	env.orders.CreateFunc = func(ctx context.Context, req service.CreateOrderRequest) (*service.Checkout, error) {
		return &service.Checkout{Order: &domain.Order{ID: "ORD1"}, Form: payment.CheckoutForm{Action: "https://pay.example.com/submit.php"}}, nil
	}

	w := env.do(postForm("/order/create", url.Values{"product_id": {"p1"}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, findCookie(w, pendingCookie))
}

func TestReturn_OwnerSessionRevealsKey(t *testing.T) {
	env := newTestEnv()
	env.orders.GetFunc = func(ctx context.Context, id string) (*domain.Order, error) { return deliveredOrder(), nil }

	body := returnBody(t, env.do(httptest.NewRequest(http.MethodGet, "/return?order_id=ORD1", nil),
		sessionCookieFor("sess-user")))
	assert.Equal(t, "SECRET-KEY", body["card_key"])

	other := returnBody(t, env.do(httptest.NewRequest(http.MethodGet, "/return?order_id=ORD1", nil),
		sessionCookieFor("sess-admin")))
	assert.NotContains(t, other, "card_key")
}

func TestReturn_MissingOrderID(t *testing.T) {
	env := newTestEnv()
	w := env.do(httptest.NewRequest(http.MethodGet, "/return", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuery_RequiresLogin(t *testing.T) {
	env := newTestEnv()
	w := env.do(httptest.NewRequest(http.MethodGet, "/query", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQuery_ListsOwnOrders(t *testing.T) {
	env := newTestEnv()
	env.orders.ListFunc = func(ctx context.Context, userID string) ([]domain.Order, error) {
		assert.Equal(t, "42", userID)
		return []domain.Order{*deliveredOrder()}, nil
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/query", nil), sessionCookieFor("sess-user"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SECRET-KEY")
}

func TestMe(t *testing.T) {
	env := newTestEnv()
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/me", nil), sessionCookieFor("sess-admin"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"csrf_token":"csrf-admin"`)
	assert.Contains(t, w.Body.String(), `"is_admin":true`)
}

func TestAdmin_Authorization(t *testing.T) {
	env := newTestEnv()

	w := env.do(httptest.NewRequest(http.MethodGet, "/admin/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/admin/orders", nil), sessionCookieFor("sess-user"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/admin/orders", nil), sessionCookieFor("sess-admin"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminOrders_HideKeys(t *testing.T) {
	env := newTestEnv()
	env.orders.RecentFunc = func(ctx context.Context) ([]domain.Order, error) {
		return []domain.Order{*deliveredOrder()}, nil
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/admin/orders", nil), sessionCookieFor("sess-admin"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"trade_no":"T1"`)
	assert.NotContains(t, w.Body.String(), "SECRET-KEY")
}

func TestRefund_RequiresCSRF(t *testing.T) {
	env := newTestEnv()
	called := false
	env.refunds.RefundFunc = func(ctx context.Context, orderID string) (*domain.Order, error) {
		called = true
		return nil, nil
	}

	w := env.do(postForm("/admin/order/refund/ORD1", url.Values{"csrf_token": {"wrong"}}), sessionCookieFor("sess-admin"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
}

func TestRefund_Success(t *testing.T) {
	env := newTestEnv()
	env.refunds.RefundFunc = func(ctx context.Context, orderID string) (*domain.Order, error) {
		o := deliveredOrder()
		o.ID = orderID
		o.Status = domain.OrderRefunded
		return o, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/order/refund/ORD9", nil)
	req.Header.Set(csrfHeader, "csrf-admin")
	w := env.do(req, sessionCookieFor("sess-admin"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"order_id":"ORD9"`)
	assert.Contains(t, w.Body.String(), `"status":"refunded"`)
	assert.NotContains(t, w.Body.String(), "SECRET-KEY")
}

func TestRefund_GatewayRejectionSurfacesRaw(t *testing.T) {
	env := newTestEnv()
	env.refunds.RefundFunc = func(ctx context.Context, orderID string) (*domain.Order, error) {
		return nil, &domain.RefundRejectedError{Code: -1, Msg: "no such trade", Raw: `{"code":-1,"msg":"no such trade"}`}
	}

	w := env.do(postForm("/admin/order/refund/ORD1", url.Values{"csrf_token": {"csrf-admin"}}), sessionCookieFor("sess-admin"))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, `{"code":-1,"msg":"no such trade"}`, body.Raw)
	require.NotNil(t, body.Code)
	assert.Equal(t, -1, *body.Code)
}

func TestRefund_MissingTradeNo(t *testing.T) {
	env := newTestEnv()
	env.refunds.RefundFunc = func(ctx context.Context, orderID string) (*domain.Order, error) {
		return nil, domain.ErrMissingTradeNo
	}

	w := env.do(postForm("/admin/order/refund/ORD1", url.Values{"csrf_token": {"csrf-admin"}}), sessionCookieFor("sess-admin"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrMissingTradeNo.Error())
}

func TestRestock_RunsFulfillment(t *testing.T) {
	env := newTestEnv()
	var keys []string
	env.orders.RestockFunc = func(ctx context.Context, productID string, k []string) (int, error) {
		keys = k
		return 2, nil
	}
	env.restocker.Result = service.SweepResult{Checked: 1, Delivered: 1}

	w := env.do(postForm("/admin/cards/p1", url.Values{
		"cards": {"K1\nK2"}, "csrf_token": {"csrf-admin"},
	}), sessionCookieFor("sess-admin"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"K1", "K2"}, keys)
	assert.Equal(t, []string{"p1"}, env.restocker.Products)
	assert.JSONEq(t, `{"added":2,"delivered":1,"waiting":0}`, w.Body.String())
}

func TestLogin_Redirects(t *testing.T) {
	env := newTestEnv()
	env.auth.BeginFunc = func(ctx context.Context, next string) (string, error) {
		assert.Equal(t, "/query", next)
		return "https://idp.example.com/authorize?state=s1", nil
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/auth/login?next=/query", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://idp.example.com/authorize?state=s1", w.Header().Get("Location"))
}

func TestAuthCallback_SetsSessionCookie(t *testing.T) {
	env := newTestEnv()
	env.auth.CompleteFunc = func(ctx context.Context, state, code string) (*domain.Session, string, error) {
		assert.Equal(t, "s1", state)
		assert.Equal(t, "c1", code)
		return &domain.Session{ID: "new-session"}, "/query", nil
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/authcallback?state=s1&code=c1", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/query", w.Header().Get("Location"))

	cookie := findCookie(w, sessionCookie)
	require.NotNil(t, cookie)
	assert.Equal(t, "new-session", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)
}

func TestAuthCallback_InvalidState(t *testing.T) {
	env := newTestEnv()
	w := env.do(httptest.NewRequest(http.MethodGet, "/authcallback?state=forged&code=c1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, findCookie(w, sessionCookie))
}

func TestLogout(t *testing.T) {
	env := newTestEnv()
	w := env.do(httptest.NewRequest(http.MethodGet, "/auth/logout", nil), sessionCookieFor("sess-user"))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, []string{"sess-user"}, env.auth.LoggedOut)

	cookie := findCookie(w, sessionCookie)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestProducts(t *testing.T) {
	env := newTestEnv()
	env.catalog.ListFunc = func(ctx context.Context) ([]domain.Product, error) {
		return []domain.Product{{ID: "p1", Name: "Gift Card", Price: decimal.RequireFromString("9.5"), Stock: 3, Sold: 1}}, nil
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/products", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":"9.50"`)
	assert.Contains(t, w.Body.String(), `"stock":3`)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/products/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
