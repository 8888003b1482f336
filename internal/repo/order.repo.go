package repo

import (
	"card-key-shop/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// OrderRepo is the order ledger. It is the only writer of order rows.
type OrderRepo interface {
	FindById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error)
	// LockById is FindById with a row lock held until tx ends.
	LockById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// Transition moves the order to `to` only if its current status is in `from`.
	// It reports whether the row changed; a false result is a no-op, not an error.
	Transition(ctx context.Context, tx *sql.Tx, id string, from []domain.OrderStatus, to domain.OrderStatus, fields domain.TransitionFields) (*domain.Order, bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Order, error)
	FindByStatus(ctx context.Context, status domain.OrderStatus, productID string, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `order_id, product_id, product_name, amount, email, user_id, username, status,
	trade_no, card_key, created_at, paid_at, delivered_at, refunded_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.ProductID,
		&o.ProductName,
		&o.Amount,
		&o.Email,
		&o.UserID,
		&o.Username,
		&o.Status,
		&o.TradeNo,
		&o.CardKey,
		&o.CreatedAt,
		&o.PaidAt,
		&o.DeliveredAt,
		&o.RefundedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) FindById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error) {
	row := conn(r.db, tx).QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = $1", id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("query order %s: %w", id, err)
	}
	return order, nil
}

func (r *orderRepo) LockById(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = $1 FOR UPDATE", id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", id, err)
	}
	return order, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := conn(r.db, tx).ExecContext(ctx,
		`INSERT INTO orders (order_id, product_id, product_name, amount, email, user_id, username, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.ProductID, order.ProductName, order.Amount, order.Email,
		order.UserID, order.Username, string(order.Status), order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepo) Transition(
	ctx context.Context,
	tx *sql.Tx,
	id string,
	from []domain.OrderStatus,
	to domain.OrderStatus,
	fields domain.TransitionFields,
) (*domain.Order, bool, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		if s.CanTransitionTo(to) {
			allowed = append(allowed, string(s))
		}
	}

	q := conn(r.db, tx)
	if len(allowed) > 0 {
		row := q.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $2,
			     trade_no = COALESCE($3, trade_no),
			     card_key = COALESCE($4, card_key),
			     paid_at = COALESCE($5, paid_at),
			     delivered_at = COALESCE($6, delivered_at),
			     refunded_at = COALESCE($7, refunded_at)
			 WHERE order_id = $1 AND status = ANY($8)
			 RETURNING `+orderColumns,
			id, string(to), fields.TradeNo, fields.CardKey,
			fields.PaidAt, fields.DeliveredAt, fields.RefundedAt, allowed,
		)
		order, err := scanOrder(row)
		if err == nil {
			return order, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("transition order %s to %s: %w", id, to, err)
		}
	}

	// Guard did not match: leave the row alone and hand back what is stored.
	current, err := r.FindById(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, domain.ErrOrderNotFound
	}
	return current, false, nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.list(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, limit)
}

func (r *orderRepo) ListRecent(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.list(ctx,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC LIMIT $1",
		limit)
}

// FindByStatus returns the oldest orders in status, optionally restricted to one product.
func (r *orderRepo) FindByStatus(ctx context.Context, status domain.OrderStatus, productID string, limit int) ([]domain.Order, error) {
	return r.list(ctx,
		"SELECT "+orderColumns+` FROM orders
		 WHERE status = $1 AND ($2::text = '' OR product_id = $2::text)
		 ORDER BY created_at ASC LIMIT $3`,
		string(status), productID, limit)
}

func (r *orderRepo) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}
