package payment

import (
	"bytes"
	"card-key-shop/internal/config"
	"card-key-shop/internal/domain"
	"card-key-shop/internal/infrastructure/breaker"
	"card-key-shop/internal/signature"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

const (
	payTypeEPay     = "epay"
	refundSuccess   = 1
	maxRefundBody   = 64 << 10
	refundUserAgent = "card-key-shop/1.0"
)

// PaymentGateway is the EasyPay-compatible credit gateway.
type PaymentGateway interface {
	// CheckoutForm builds the signed form the browser posts to the gateway.
	CheckoutForm(order *domain.Order) CheckoutForm
	// Refund asks the gateway to refund tradeNo. Any answer other than code 1
	// comes back as *domain.RefundRejectedError.
	Refund(ctx context.Context, tradeNo string, amount decimal.Decimal) (*RefundResult, error)
}

type CheckoutForm struct {
	Action string
	Fields map[string]string
}

type RefundResult struct {
	Code int
	Msg  string
	Raw  string
}

type paymentGateway struct {
	merchant  config.MerchantConfig
	notifyURL string
	returnURL string
	client    *http.Client
	timeout   time.Duration
	cb        *gobreaker.CircuitBreaker[[]byte]
}

func NewPaymentGateway(cfg config.Config, client *http.Client) PaymentGateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.UpstreamTimeout}
	}
	return &paymentGateway{
		merchant:  cfg.Merchant,
		notifyURL: cfg.NotifyURL(),
		returnURL: cfg.ReturnURL(),
		client:    client,
		timeout:   cfg.UpstreamTimeout,
		cb:        breaker.New[[]byte]("payment-gateway"),
	}
}

// FormatMoney renders an amount with exactly two decimals.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func (g *paymentGateway) CheckoutForm(order *domain.Order) CheckoutForm {
	fields := map[string]string{
		"pid":          g.merchant.ID,
		"type":         payTypeEPay,
		"out_trade_no": order.ID,
		"notify_url":   g.notifyURL,
		"return_url":   g.returnURL,
		"name":         order.ProductName,
		"money":        FormatMoney(order.Amount),
		"sign_type":    signature.SignTypeMD5,
	}
	fields["sign"] = signature.Sign(fields, g.merchant.Key)
	return CheckoutForm{Action: g.merchant.PayURL, Fields: fields}
}

func (g *paymentGateway) Refund(ctx context.Context, tradeNo string, amount decimal.Decimal) (*RefundResult, error) {
	form := url.Values{}
	form.Set("pid", g.merchant.ID)
	form.Set("key", g.merchant.Key)
	form.Set("trade_no", tradeNo)
	form.Set("money", FormatMoney(amount))

	body, err := g.cb.Execute(func() ([]byte, error) {
		return g.post(ctx, form)
	})
	if err != nil {
		if breaker.Rejected(err) {
			return nil, fmt.Errorf("%w: refund circuit open", domain.ErrUpstreamUnavailable)
		}
		return nil, err
	}

	result, err := parseRefundBody(body)
	if err != nil {
		return nil, err
	}
	if result.Code != refundSuccess {
		return result, &domain.RefundRejectedError{Code: result.Code, Msg: result.Msg, Raw: result.Raw}
	}
	return result, nil
}

// post only fails on transport problems and 5xx answers, which are what the breaker counts.
func (g *paymentGateway) post(ctx context.Context, form url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.merchant.RefundURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", refundUserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: refund request: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRefundBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read refund response: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: refund endpoint status=%d body=%s",
			domain.ErrUpstreamUnavailable, resp.StatusCode, truncate(body))
	}
	return body, nil
}

type refundResponse struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
}

func parseRefundBody(body []byte) (*RefundResult, error) {
	raw := string(bytes.TrimSpace(body))
	var resp refundResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.RefundRejectedError{Msg: "invalid JSON from refund endpoint", Raw: truncate(body)}
	}
	code, err := strconv.Atoi(strings.Trim(string(resp.Code), `"`))
	if err != nil {
		return nil, &domain.RefundRejectedError{Msg: "missing or invalid code", Raw: truncate(body)}
	}
	return &RefundResult{Code: code, Msg: resp.Msg, Raw: raw}, nil
}

func truncate(body []byte) string {
	const limit = 500
	s := string(bytes.TrimSpace(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
