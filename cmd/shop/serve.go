package main

import (
	"card-key-shop/internal/database"
	"card-key-shop/internal/infrastructure/cache"
	"card-key-shop/internal/infrastructure/identity"
	"card-key-shop/internal/infrastructure/payment"
	"card-key-shop/internal/server"
	"card-key-shop/internal/service"
	"card-key-shop/internal/worker"
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the fulfillment sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := database.Migrate(a.db); err != nil {
			return err
		}
	}

	rdb, err := cache.Connect(ctx, a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	gateway := payment.NewPaymentGateway(a.cfg, nil)
	provider := identity.NewOAuthProvider(a.cfg, nil)

	authSvc := service.NewAuthService(a.sessionRepo, cache.NewStateStore(rdb), provider, a.cfg.SessionTTL, a.logger)
	sweeper := worker.NewFulfillmentSweeper(a.fulfillment(), authSvc, a.cfg.SweepInterval, a.logger)
	go sweeper.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(a.cfg, server.Deps{
		Catalog:   service.NewCatalogService(a.productRepo),
		Orders:    service.NewOrderService(a.tx, a.orderRepo, a.productRepo, a.cardRepo, gateway, a.cfg.RequireLogin, a.logger),
		Reconcile: service.NewReconcileService(a.tx, a.orderRepo, a.cardRepo, a.cfg.Merchant.Key, a.logger),
		Refunds:   service.NewRefundService(a.tx, a.orderRepo, gateway, a.logger),
		Auth:      authSvc,
		Restocker: sweeper,
		Markers:   cache.NewMarkerStore(rdb),
		Health:    database.New(a.db),
		Logger:    a.logger,
	})
	return srv.Run(ctx)
}
