package server

import (
	"card-key-shop/internal/service"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleAdminOrders(c *gin.Context) {
	orders, err := s.deps.Orders.ListRecent(c.Request.Context())
	if err != nil {
		s.writeError(c, "admin_orders", err)
		return
	}
	// Operators see status and trade numbers; card keys stay behind the disclosure guard.
	requester := service.Requester{Session: currentSession(c)}
	now := time.Now()
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, newOrderView(service.Disclose(&orders[i], requester, now)))
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func (s *Server) handleRefund(c *gin.Context) {
	orderID := c.Param("id")
	order, err := s.deps.Refunds.Refund(c.Request.Context(), orderID)
	if err != nil {
		s.writeError(c, "refund", err)
		return
	}
	s.logger.Info("refund requested by operator", "operation", "refund", "order_id", orderID,
		"operator", currentSession(c).Username, "outcome", string(order.Status))
	order.CardKey = nil
	c.JSON(http.StatusOK, newOrderView(order))
}

func (s *Server) handleRestock(c *gin.Context) {
	productID := c.Param("product_id")
	keys := strings.Split(c.PostForm("cards"), "\n")

	added, err := s.deps.Orders.Restock(c.Request.Context(), productID, keys)
	if err != nil {
		s.writeError(c, "restock", err)
		return
	}

	resp := gin.H{"added": added}
	if added > 0 {
		result, err := s.deps.Restocker.FulfillProduct(c.Request.Context(), productID)
		if err != nil {
			// the cards are in; the periodic sweep picks the orders up later
			s.logger.Error("fulfillment after restock failed", "operation", "restock", "product_id", productID, "error", err)
		}
		resp["delivered"] = result.Delivered
		resp["waiting"] = result.Waiting
	}
	c.JSON(http.StatusOK, resp)
}
