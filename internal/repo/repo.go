package repo

import (
	"context"
	"database/sql"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns tx when the caller runs inside a transaction, the pool otherwise.
func conn(db *sql.DB, tx *sql.Tx) queryer {
	if tx == nil {
		return db
	}
	return tx
}

type rowScanner interface {
	Scan(dest ...any) error
}
