package domain

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderDelivered OrderStatus = "delivered"
	OrderRefunded  OrderStatus = "refunded"
)

// paid -> delivered is only taken by the fulfillment sweep after a restock.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderPaid, OrderDelivered},
	OrderPaid:      {OrderDelivered, OrderRefunded},
	OrderDelivered: {OrderRefunded},
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderPaid, OrderDelivered, OrderRefunded:
		return true
	}
	return false
}

type Order struct {
	ID          string
	ProductID   string
	ProductName string
	Amount      decimal.Decimal
	Email       *string
	UserID      *string
	Username    *string
	Status      OrderStatus
	TradeNo     *string
	CardKey     *string
	CreatedAt   time.Time
	PaidAt      *time.Time
	DeliveredAt *time.Time
	RefundedAt  *time.Time
}

// OwnedBy reports whether the order was placed by the given purchaser.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID != nil && userID != "" && *o.UserID == userID
}

// TransitionFields are stamped onto an order together with a status change.
// Nil fields leave the stored value untouched.
type TransitionFields struct {
	TradeNo     *string
	CardKey     *string
	PaidAt      *time.Time
	DeliveredAt *time.Time
	RefundedAt  *time.Time
}

const orderIDSuffixLen = 6

// NewOrderID returns "ORD" + base36 millisecond timestamp + a random base36 suffix, upper-cased.
func NewOrderID(now time.Time) string {
	var sb strings.Builder
	sb.WriteString("ORD")
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	radix := big.NewInt(36)
	for i := 0; i < orderIDSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			// crypto/rand never fails on supported platforms
			panic(err)
		}
		sb.WriteString(strconv.FormatInt(n.Int64(), 36))
	}
	return strings.ToUpper(sb.String())
}
