package server

import (
	"card-key-shop/internal/service"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const pendingMarkerTTL = 24 * time.Hour

func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.deps.Catalog.ListProducts(c.Request.Context())
	if err != nil {
		s.writeError(c, "list_products", err)
		return
	}
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, newProductView(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": views})
}

func (s *Server) handleGetProduct(c *gin.Context) {
	product, err := s.deps.Catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "get_product", err)
		return
	}
	c.JSON(http.StatusOK, newProductView(*product))
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	checkout, err := s.deps.Orders.CreateOrder(c.Request.Context(), service.CreateOrderRequest{
		ProductID: c.PostForm("product_id"),
		Email:     c.PostForm("email"),
		CSRFToken: csrfToken(c),
		Session:   currentSession(c),
	})
	if err != nil {
		s.writeError(c, "create_order", err)
		return
	}

	// The cookie carries a random token, never the order id. Session cookie only.
	token := uuid.NewString()
	if err := s.deps.Markers.Put(c.Request.Context(), token, checkout.Order.ID, pendingMarkerTTL); err != nil {
		s.logger.Warn("pending marker not stored", "order_id", checkout.Order.ID, "error", err)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(pendingCookie, token, 0, "/", "", s.secure, true)
	}

	c.HTML(http.StatusOK, "checkout.html", gin.H{
		"OrderID": checkout.Order.ID,
		"Action":  checkout.Form.Action,
		"Fields":  checkout.Form.Fields,
	})
}

// pendingOrderID resolves the pending-order cookie. Tokens this server never issued resolve to "".
func (s *Server) pendingOrderID(c *gin.Context) string {
	token, err := c.Cookie(pendingCookie)
	if err != nil || token == "" {
		return ""
	}
	orderID, err := s.deps.Markers.Resolve(c.Request.Context(), token)
	if err != nil {
		s.logger.Warn("pending marker lookup failed", "error", err)
		return ""
	}
	return orderID
}

// handleReturn shows an order to the browser coming back from the gateway.
// The order id in the query is not a credential; only the pending cookie or the owner's session reveal the key.
func (s *Server) handleReturn(c *gin.Context) {
	pending := s.pendingOrderID(c)
	orderID := c.Query("out_trade_no")
	if orderID == "" {
		orderID = c.Query("order_id")
	}
	if orderID == "" {
		orderID = pending
	}
	if orderID == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "order id required"})
		return
	}

	order, err := s.deps.Orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		s.writeError(c, "return", err)
		return
	}
	view := service.Disclose(order, service.Requester{
		PendingOrderID: pending,
		Session:        currentSession(c),
	}, time.Now())
	c.JSON(http.StatusOK, newOrderView(view))
}

func (s *Server) handleQuery(c *gin.Context) {
	session := currentSession(c)
	orders, err := s.deps.Orders.ListForUser(c.Request.Context(), session.UserID)
	if err != nil {
		s.writeError(c, "query", err)
		return
	}
	requester := service.Requester{PendingOrderID: s.pendingOrderID(c), Session: session}
	now := time.Now()

	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, newOrderView(service.Disclose(&orders[i], requester, now)))
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}
