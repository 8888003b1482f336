package server

import (
	"card-key-shop/internal/domain"
	"card-key-shop/internal/infrastructure/payment"
	"time"
)

type productView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Category    string `json:"category"`
	Image       string `json:"image"`
	Stock       int    `json:"stock"`
	Sold        int    `json:"sold"`
}

func newProductView(p domain.Product) productView {
	return productView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       payment.FormatMoney(p.Price),
		Category:    p.Category,
		Image:       p.Image,
		Stock:       p.Stock,
		Sold:        p.Sold,
	}
}

// orderView is built from an order that already went through service.Disclose.
type orderView struct {
	OrderID     string     `json:"order_id"`
	ProductID   string     `json:"product_id"`
	ProductName string     `json:"product_name"`
	Amount      string     `json:"amount"`
	Status      string     `json:"status"`
	Username    *string    `json:"username,omitempty"`
	TradeNo     *string    `json:"trade_no,omitempty"`
	CardKey     *string    `json:"card_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
}

func newOrderView(o *domain.Order) orderView {
	return orderView{
		OrderID:     o.ID,
		ProductID:   o.ProductID,
		ProductName: o.ProductName,
		Amount:      payment.FormatMoney(o.Amount),
		Status:      string(o.Status),
		Username:    o.Username,
		TradeNo:     o.TradeNo,
		CardKey:     o.CardKey,
		CreatedAt:   o.CreatedAt,
		PaidAt:      o.PaidAt,
		DeliveredAt: o.DeliveredAt,
		RefundedAt:  o.RefundedAt,
	}
}
