package main

import (
	"card-key-shop/internal/config"
	"card-key-shop/internal/database"
	"card-key-shop/internal/repo"
	"card-key-shop/internal/service"
	"context"
	"database/sql"
	"log/slog"
)

// app holds what every command needs: config, the pool and the repositories.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sql.DB
	tx     database.Transactor

	orderRepo   repo.OrderRepo
	cardRepo    repo.CardRepo
	productRepo repo.ProductRepo
	sessionRepo repo.SessionRepo
}

func newApp(ctx context.Context) (*app, error) {
	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgres(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		tx:          database.NewTransactor(db),
		orderRepo:   repo.NewOrderRepo(db),
		cardRepo:    repo.NewCardRepo(db),
		productRepo: repo.NewProductRepo(db),
		sessionRepo: repo.NewSessionRepo(db),
	}, nil
}

func (a *app) fulfillment() service.FulfillmentService {
	return service.NewFulfillmentService(a.tx, a.orderRepo, a.cardRepo, a.logger)
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", "error", err)
	}
}
