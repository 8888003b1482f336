package service

import (
	"card-key-shop/internal/domain"
	"card-key-shop/internal/repo"
	"context"
)

type CatalogService interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type catalogService struct {
	productRepo repo.ProductRepo
}

func NewCatalogService(productRepo repo.ProductRepo) CatalogService {
	return &catalogService{productRepo: productRepo}
}

func (s *catalogService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.productRepo.List(ctx)
}

func (s *catalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.productRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrProductNotFound
	}
	return product, nil
}
