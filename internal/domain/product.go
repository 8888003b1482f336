package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable good. Stock and Sold are derived from its cards, never stored.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Image       string
	Stock       int
	Sold        int
}

type Card struct {
	ID        int64
	ProductID string
	CardKey   string
	IsUsed    bool
	OrderID   *string
	CreatedAt time.Time
	UsedAt    *time.Time
}
