package application

import (
	"context"
	"encoding/json"

	"github.com/martinez099/ordershop/internal/domain"
)

// CreateBillings bills existing orders. A billing without an amount is
// charged the sum of the order's product prices.
func (s *Service) CreateBillings(ctx context.Context, payload json.RawMessage) (any, error) {
	items, err := decodeBatch(payload)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		billing, decodeErr := decode[domain.Billing](item)
		if decodeErr != nil {
			return nil, decodeErr
		}
		if err := billing.Validate(); err != nil {
			return nil, err
		}
		order, orderErr := s.existingOrder(ctx, billing.OrderID)
		if orderErr != nil {
			return nil, orderErr
		}
		if billing.Amount == 0 {
			if billing.Amount, err = s.orderTotal(ctx, order); err != nil {
				return nil, err
			}
		}
		id, createErr := s.create(ctx, domain.TopicBilling, billing)
		if createErr != nil {
			return nil, createErr
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) existingOrder(ctx context.Context, orderID string) (domain.Order, error) {
	entity, err := s.queries.GetOneEntity(ctx, domain.TopicOrder, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.DecodeEntity[domain.Order](entity)
}

func (s *Service) orderTotal(ctx context.Context, order domain.Order) (float64, error) {
	products, err := s.queries.GetMultEntities(ctx, domain.TopicProduct, order.ProductIDs)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, entity := range products {
		if entity == nil {
			continue
		}
		product, decodeErr := domain.DecodeEntity[domain.Product](entity)
		if decodeErr != nil {
			return 0, decodeErr
		}
		total += product.Price
	}
	return total, nil
}

func (s *Service) UpdateBilling(ctx context.Context, payload json.RawMessage) (any, error) {
	return replace[domain.Billing](ctx, s, domain.TopicBilling, payload)
}

func (s *Service) DeleteBilling(ctx context.Context, payload json.RawMessage) (any, error) {
	if _, err := s.remove(ctx, domain.TopicBilling, payload); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Service) CreateShippings(ctx context.Context, payload json.RawMessage) (any, error) {
	items, err := decodeBatch(payload)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		shipping, decodeErr := decode[domain.Shipping](item)
		if decodeErr != nil {
			return nil, decodeErr
		}
		id, createErr := s.createShipping(ctx, shipping)
		if createErr != nil {
			return nil, createErr
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) createShipping(ctx context.Context, shipping domain.Shipping) (string, error) {
	if err := shipping.Validate(); err != nil {
		return "", err
	}
	if _, err := s.existingOrder(ctx, shipping.OrderID); err != nil {
		return "", err
	}
	return s.create(ctx, domain.TopicShipping, shipping)
}

func (s *Service) UpdateShipping(ctx context.Context, payload json.RawMessage) (any, error) {
	return replace[domain.Shipping](ctx, s, domain.TopicShipping, payload)
}

func (s *Service) DeleteShipping(ctx context.Context, payload json.RawMessage) (any, error) {
	if _, err := s.remove(ctx, domain.TopicShipping, payload); err != nil {
		return nil, err
	}
	return true, nil
}

// onBillingEvent ships every newly billed order.
func (s *Service) onBillingEvent(ctx context.Context, ev domain.Event) error {
	if ev.Action != domain.ActionCreated {
		return nil
	}
	billing, err := domain.DecodeEntity[domain.Billing](ev.Entity)
	if err != nil {
		s.logReaction(ctx, "billing_created", err)
		return err
	}
	if _, err := s.createShipping(ctx, domain.Shipping{OrderID: billing.OrderID}); err != nil {
		s.logReaction(ctx, "billing_created", err)
		return err
	}
	return nil
}
