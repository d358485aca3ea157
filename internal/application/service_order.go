package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/martinez099/ordershop/internal/domain"
)

type orderRequest struct {
	EntityID string `json:"entity_id"`
	CartID   string `json:"cart_id"`
}

// CreateOrders turns carts into orders, taking their products out of stock
// through the inventory service first.
func (s *Service) CreateOrders(ctx context.Context, payload json.RawMessage) (any, error) {
	items, err := decodeBatch(payload)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		req, decodeErr := decode[orderRequest](item)
		if decodeErr != nil {
			return nil, decodeErr
		}
		order, buildErr := s.orderFromCart(ctx, req.CartID)
		if buildErr != nil {
			return nil, buildErr
		}
		if err := s.rpc.Call(ctx, InventoryService, "decr_from_orders", productList{ProductIDs: order.ProductIDs}, nil); err != nil {
			return nil, err
		}
		id, createErr := s.create(ctx, domain.TopicOrder, order)
		if createErr != nil {
			return nil, createErr
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) orderFromCart(ctx context.Context, cartID string) (domain.Order, error) {
	if cartID == "" {
		return domain.Order{}, fmt.Errorf("%w: missing mandatory parameter 'cart_id'", domain.ErrValidation)
	}
	entity, err := s.queries.GetOneEntity(ctx, domain.TopicCart, cartID)
	if err != nil {
		return domain.Order{}, err
	}
	cart, err := domain.DecodeEntity[domain.Cart](entity)
	if err != nil {
		return domain.Order{}, err
	}
	order := domain.Order{CartID: cartID, CustomerID: cart.CustomerID, ProductIDs: cart.ProductIDs}
	return order, order.Validate()
}

// UpdateOrder points an order at another cart, moving stock from the new
// cart's products back to the old ones.
func (s *Service) UpdateOrder(ctx context.Context, payload json.RawMessage) (any, error) {
	req, err := decode[orderRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := domain.RequireEntityID(req.EntityID); err != nil {
		return nil, err
	}
	currentEntity, err := s.queries.GetOneEntity(ctx, domain.TopicOrder, req.EntityID)
	if err != nil {
		return nil, err
	}
	current, err := domain.DecodeEntity[domain.Order](currentEntity)
	if err != nil {
		return nil, err
	}
	next, err := s.orderFromCart(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if err := s.rpc.Call(ctx, InventoryService, "decr_from_orders", productList{ProductIDs: next.ProductIDs}, nil); err != nil {
		return nil, err
	}
	if err := s.restock(ctx, current.ProductIDs); err != nil {
		return nil, err
	}
	next.EntityID = req.EntityID
	entity, err := domain.EntityOf(next)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Publish(ctx, domain.TopicOrder, domain.ActionUpdated, entity); err != nil {
		return nil, err
	}
	return true, nil
}

// DeleteOrder removes an order and puts its products back in stock.
func (s *Service) DeleteOrder(ctx context.Context, payload json.RawMessage) (any, error) {
	removed, err := s.remove(ctx, domain.TopicOrder, payload)
	if err != nil {
		return nil, err
	}
	order, err := domain.DecodeEntity[domain.Order](removed)
	if err != nil {
		return nil, err
	}
	if err := s.restock(ctx, order.ProductIDs); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Service) restock(ctx context.Context, productIDs []string) error {
	for _, id := range productIDs {
		if err := s.rpc.Call(ctx, InventoryService, "incr_amount", amountChange{ProductID: id, Value: 1}, nil); err != nil {
			return err
		}
	}
	return nil
}
