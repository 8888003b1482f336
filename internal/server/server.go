package server

import (
	"card-key-shop/internal/config"
	"card-key-shop/internal/service"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

// HealthChecker reports store health for /health.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

// Restocker delivers waiting paid orders of one product.
type Restocker interface {
	FulfillProduct(ctx context.Context, productID string) (service.SweepResult, error)
}

// PendingMarkers maps pending-order cookie tokens to the order that browser created.
type PendingMarkers interface {
	Put(ctx context.Context, token, orderID string, ttl time.Duration) error
	Resolve(ctx context.Context, token string) (string, error)
}

type Deps struct {
	Catalog   service.CatalogService
	Orders    service.OrderService
	Reconcile service.ReconcileService
	Refunds   service.RefundService
	Auth      service.AuthService
	Restocker Restocker
	Markers   PendingMarkers
	Health    HealthChecker
	Logger    *slog.Logger
}

type Server struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
	router *gin.Engine
	secure bool
}

func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("module", "http"),
		router: gin.New(),
		secure: strings.HasPrefix(cfg.SiteURL, "https://"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(gin.Recovery(), requestLogger(s.logger))
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost},
			AllowHeaders:     []string{"Origin", "Content-Type", csrfHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	r.GET("/health", s.handleHealth)

	// The gateway talks to /notify directly; no session involved.
	r.GET("/notify", s.handleNotify)
	r.POST("/notify", s.handleNotify)

	web := r.Group("/", s.loadSession)
	{
		web.GET("/api/products", s.handleListProducts)
		web.GET("/api/products/:id", s.handleGetProduct)
		web.POST("/order/create", s.handleCreateOrder)
		web.GET("/return", s.handleReturn)
		web.GET("/callback", s.handleReturn)

		web.GET("/auth/login", s.handleLogin)
		web.GET("/authcallback", s.handleAuthCallback)
		web.GET("/auth/logout", s.handleLogout)

		user := web.Group("/", requireLogin)
		user.GET("/api/me", s.handleMe)
		user.GET("/query", s.handleQuery)

		admin := web.Group("/admin", requireLogin, s.requireAdmin)
		admin.GET("/orders", s.handleAdminOrders)
		admin.POST("/order/refund/:id", requireCSRF, s.handleRefund)
		admin.POST("/cards/:product_id", requireCSRF, s.handleRestock)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.deps.Health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
