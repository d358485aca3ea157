package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/martinez099/ordershop/internal/domain"
)

type amountChange struct {
	ProductID string `json:"product_id"`
	Value     int    `json:"value"`
}

type productList struct {
	ProductIDs []string `json:"product_ids"`
}

func (s *Service) CreateInventories(ctx context.Context, payload json.RawMessage) (any, error) {
	return createAll[domain.Inventory](ctx, s, domain.TopicInventory, payload)
}

func (s *Service) UpdateInventory(ctx context.Context, payload json.RawMessage) (any, error) {
	return replace[domain.Inventory](ctx, s, domain.TopicInventory, payload)
}

func (s *Service) DeleteInventory(ctx context.Context, payload json.RawMessage) (any, error) {
	if _, err := s.remove(ctx, domain.TopicInventory, payload); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Service) IncrAmount(ctx context.Context, payload json.RawMessage) (any, error) {
	change, err := decodeAmountChange(payload)
	if err != nil {
		return nil, err
	}
	if err := s.changeAmount(ctx, change.ProductID, change.Value); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Service) DecrAmount(ctx context.Context, payload json.RawMessage) (any, error) {
	change, err := decodeAmountChange(payload)
	if err != nil {
		return nil, err
	}
	if err := s.changeAmount(ctx, change.ProductID, -change.Value); err != nil {
		return nil, err
	}
	return true, nil
}

func decodeAmountChange(payload json.RawMessage) (amountChange, error) {
	change, err := decode[amountChange](payload)
	if err != nil {
		return change, err
	}
	if change.ProductID == "" {
		return change, fmt.Errorf("%w: missing mandatory parameter 'product_id'", domain.ErrValidation)
	}
	if change.Value < 0 {
		return change, fmt.Errorf("%w: negative value", domain.ErrValidation)
	}
	if change.Value == 0 {
		change.Value = 1
	}
	return change, nil
}

// DecrFromOrders takes the products of one or more orders out of stock. It
// checks every product first and puts back what it already took when a
// later product runs out.
func (s *Service) DecrFromOrders(ctx context.Context, payload json.RawMessage) (any, error) {
	items, err := decodeBatch(payload)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	var order []string
	for _, item := range items {
		list, decodeErr := decode[productList](item)
		if decodeErr != nil {
			return nil, decodeErr
		}
		if len(list.ProductIDs) == 0 {
			return nil, fmt.Errorf("%w: missing mandatory parameter 'product_ids'", domain.ErrValidation)
		}
		for _, id := range list.ProductIDs {
			if counts[id] == 0 {
				order = append(order, id)
			}
			counts[id]++
		}
	}
	for _, id := range order {
		inv, _, lookupErr := s.inventoryFor(ctx, id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if inv.Amount < counts[id] {
			return nil, fmt.Errorf("%w: product %s", domain.ErrOutOfStock, id)
		}
	}
	for i, id := range order {
		if decrErr := s.changeAmount(ctx, id, -counts[id]); decrErr != nil {
			for _, done := range order[:i] {
				if undoErr := s.changeAmount(ctx, done, counts[done]); undoErr != nil {
					s.logger.ErrorContext(ctx, "inventory compensation failed",
						"module", "application", "layer", "service", "operation", "decr_from_orders",
						"outcome", "failure", "product_id", done, "error", undoErr)
				}
			}
			return nil, decrErr
		}
	}
	return true, nil
}

func (s *Service) inventoryFor(ctx context.Context, productID string) (domain.Inventory, domain.Entity, error) {
	matches, err := s.queries.GetSpecEntities(ctx, domain.TopicInventory, map[string]any{"product_id": productID})
	if err != nil {
		return domain.Inventory{}, nil, err
	}
	if len(matches) == 0 {
		return domain.Inventory{}, nil, fmt.Errorf("%w: inventory for product %s", domain.ErrNotFound, productID)
	}
	inv, err := domain.DecodeEntity[domain.Inventory](matches[0])
	if err != nil {
		return domain.Inventory{}, nil, err
	}
	return inv, matches[0], nil
}

// changeAmount applies delta to a product's inventory with an append that
// only succeeds if no other inventory event landed since the read. It
// retries on conflict.
func (s *Service) changeAmount(ctx context.Context, productID string, delta int) error {
	for attempt := 0; ; attempt++ {
		expected, err := s.store.LastEntryID(ctx, domain.TopicInventory)
		if err != nil {
			return err
		}
		inv, current, err := s.inventoryFor(ctx, productID)
		if err != nil {
			return err
		}
		if inv.Amount+delta < 0 {
			return fmt.Errorf("%w: product %s", domain.ErrOutOfStock, productID)
		}
		next := current.Clone()
		next["amount"] = inv.Amount + delta
		_, err = s.store.PublishIf(ctx, domain.TopicInventory, domain.ActionUpdated, next, expected)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= s.cfg.ConflictRetries {
			return err
		}
	}
}
