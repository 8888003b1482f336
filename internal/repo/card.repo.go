package repo

import (
	"card-key-shop/internal/domain"
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CardRepo is the inventory allocator. It is the only writer of cards.is_used.
type CardRepo interface {
	// Allocate claims one unused card of productID for orderID, or returns domain.ErrNoStock.
	Allocate(ctx context.Context, tx *sql.Tx, productID, orderID string) (*domain.Card, error)
	AddCards(ctx context.Context, tx *sql.Tx, productID string, keys []string) (int, error)
	CountUnused(ctx context.Context, productID string) (int, error)
}

type cardRepo struct {
	db *sql.DB
}

func NewCardRepo(db *sql.DB) CardRepo {
	return &cardRepo{db: db}
}

// candidateBatch is how many unused cards are read per round, so concurrent
// allocators that lose the first row can move on without re-querying.
const candidateBatch = 8

type candidate struct {
	id        int64
	key       string
	createdAt time.Time
}

// Allocate reads unused candidates, then claims one with an update guarded by
// is_used = FALSE. Zero affected rows means another caller won that card, so the
// next candidate is tried. Every lost race consumes a card, so the loop ends.
func (r *cardRepo) Allocate(ctx context.Context, tx *sql.Tx, productID, orderID string) (*domain.Card, error) {
	q := conn(r.db, tx)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates, err := r.unusedCandidates(ctx, q, productID)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, domain.ErrNoStock
		}

		for _, c := range candidates {
			usedAt := time.Now()
			res, err := q.ExecContext(ctx,
				`UPDATE cards SET is_used = TRUE, used_at = $2, order_id = $3
				 WHERE id = $1 AND is_used = FALSE`,
				c.id, usedAt, orderID,
			)
			if err != nil {
				return nil, fmt.Errorf("claim card %d: %w", c.id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return nil, fmt.Errorf("claim card %d: %w", c.id, err)
			}
			if n == 0 {
				continue // lost the race for this card
			}
			return &domain.Card{
				ID:        c.id,
				ProductID: productID,
				CardKey:   c.key,
				IsUsed:    true,
				OrderID:   &orderID,
				CreatedAt: c.createdAt,
				UsedAt:    &usedAt,
			}, nil
		}
	}
}

func (r *cardRepo) unusedCandidates(ctx context.Context, q queryer, productID string) ([]candidate, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, card_key, created_at FROM cards
		 WHERE product_id = $1 AND is_used = FALSE
		 ORDER BY id ASC LIMIT $2`,
		productID, candidateBatch,
	)
	if err != nil {
		return nil, fmt.Errorf("query unused cards: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.key, &c.createdAt); err != nil {
			return nil, fmt.Errorf("scan card row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *cardRepo) AddCards(ctx context.Context, tx *sql.Tx, productID string, keys []string) (int, error) {
	q := conn(r.db, tx)
	added := 0
	for _, key := range keys {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO cards (product_id, card_key) VALUES ($1, $2)`, productID, key,
		); err != nil {
			return added, fmt.Errorf("insert card: %w", err)
		}
		added++
	}
	return added, nil
}

func (r *cardRepo) CountUnused(ctx context.Context, productID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cards WHERE product_id = $1 AND is_used = FALSE`, productID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unused cards: %w", err)
	}
	return n, nil
}
