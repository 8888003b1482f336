package repo

import (
	"card-key-shop/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type ProductRepo interface {
	FindById(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}

type productRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepo {
	return &productRepo{db: db}
}

const productSelect = `
	SELECT p.id, p.name, p.description, p.price, p.category, p.image,
	       COUNT(c.id) FILTER (WHERE c.is_used = FALSE) AS stock,
	       COUNT(c.id) FILTER (WHERE c.is_used = TRUE) AS sold
	FROM products p
	LEFT JOIN cards c ON c.product_id = p.id`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.Image, &p.Stock, &p.Sold); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) FindById(ctx context.Context, id string) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx, productSelect+" WHERE p.id = $1 GROUP BY p.id", id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("query product %s: %w", id, err)
	}
	return p, nil
}

func (r *productRepo) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, productSelect+" GROUP BY p.id ORDER BY p.category, p.name")
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}
