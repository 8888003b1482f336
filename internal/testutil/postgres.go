// Package testutil starts throwaway Postgres instances for integration tests.
package testutil

import (
	"card-key-shop/internal/database"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewPostgres starts a migrated Postgres container and returns a pool for it.
// The container is terminated when the test ends. Skipped with -short.
func NewPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("shop"),
		postgres.WithPassword("shop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// SeedProduct inserts a product and the given unused card keys.
func SeedProduct(t *testing.T, db *sql.DB, id, price string, cardKeys ...string) {
	t.Helper()
	ctx := context.Background()

	_, err := db.ExecContext(ctx,
		`INSERT INTO products (id, name, description, price) VALUES ($1, $2, '', $3)`,
		id, "Product "+id, decimal.RequireFromString(price))
	require.NoError(t, err)

	for _, key := range cardKeys {
		_, err := db.ExecContext(ctx, `INSERT INTO cards (product_id, card_key) VALUES ($1, $2)`, id, key)
		require.NoError(t, err)
	}
}
