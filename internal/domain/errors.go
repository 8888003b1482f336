package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound       = errors.New("product not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOutOfStock            = errors.New("out of stock")
	ErrNoStock               = errors.New("no unused card left")
	ErrAuthenticationFailed  = errors.New("signature verification failed")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrNotRefundable         = errors.New("order status not refundable")
	ErrMissingTradeNo        = errors.New("order has no trade_no, cannot refund")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
	ErrSessionNotFound       = errors.New("session not found")
	ErrInvalidState          = errors.New("invalid or expired oauth state")
	ErrUnauthenticated       = errors.New("login required")
	ErrCSRFMismatch          = errors.New("csrf token mismatch")
	ErrForbidden             = errors.New("forbidden")
)

// RefundRejectedError is returned when the gateway answers a refund with anything but success.
// Raw holds the upstream body so an operator can resolve it by hand.
type RefundRejectedError struct {
	Code int
	Msg  string
	Raw  string
}

func (e *RefundRejectedError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("refund rejected by gateway (code=%d): %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("refund rejected by gateway: %s", e.Raw)
}
