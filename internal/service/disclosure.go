package service

import (
	"card-key-shop/internal/domain"
	"time"
)

// Requester is who is asking to see an order. Both fields are optional.
type Requester struct {
	// PendingOrderID is the order a server-issued pending marker resolved to. Never the raw cookie value.
	PendingOrderID string
	Session        *domain.Session
}

// MayReveal decides whether requester may see order's card key. It is evaluated on every read.
func MayReveal(order *domain.Order, requester Requester, now time.Time) bool {
	if order == nil {
		return false
	}
	if requester.PendingOrderID != "" && requester.PendingOrderID == order.ID {
		return true
	}
	s := requester.Session
	if s == nil || s.Expired(now) {
		return false
	}
	return order.OwnedBy(s.UserID)
}

// Disclose returns a copy of order with the card key removed unless MayReveal allows it.
func Disclose(order *domain.Order, requester Requester, now time.Time) *domain.Order {
	if order == nil {
		return nil
	}
	view := *order
	if !MayReveal(order, requester, now) {
		view.CardKey = nil
	}
	return &view
}
