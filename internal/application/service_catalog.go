package application

import (
	"context"
	"encoding/json"

	"github.com/martinez099/ordershop/internal/domain"
)

func (s *Service) CreateCustomers(ctx context.Context, payload json.RawMessage) (any, error) {
	return createAll[domain.Customer](ctx, s, domain.TopicCustomer, payload)
}

func (s *Service) UpdateCustomer(ctx context.Context, payload json.RawMessage) (any, error) {
	return replace[domain.Customer](ctx, s, domain.TopicCustomer, payload)
}

func (s *Service) DeleteCustomer(ctx context.Context, payload json.RawMessage) (any, error) {
	if _, err := s.remove(ctx, domain.TopicCustomer, payload); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Service) CreateProducts(ctx context.Context, payload json.RawMessage) (any, error) {
	return createAll[domain.Product](ctx, s, domain.TopicProduct, payload)
}

func (s *Service) UpdateProduct(ctx context.Context, payload json.RawMessage) (any, error) {
	return replace[domain.Product](ctx, s, domain.TopicProduct, payload)
}

func (s *Service) DeleteProduct(ctx context.Context, payload json.RawMessage) (any, error) {
	if _, err := s.remove(ctx, domain.TopicProduct, payload); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Service) CreateCarts(ctx context.Context, payload json.RawMessage) (any, error) {
	return createAll[domain.Cart](ctx, s, domain.TopicCart, payload)
}

func (s *Service) UpdateCart(ctx context.Context, payload json.RawMessage) (any, error) {
	return replace[domain.Cart](ctx, s, domain.TopicCart, payload)
}

func (s *Service) DeleteCart(ctx context.Context, payload json.RawMessage) (any, error) {
	if _, err := s.remove(ctx, domain.TopicCart, payload); err != nil {
		return nil, err
	}
	return true, nil
}
