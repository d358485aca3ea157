package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/martinez099/ordershop/internal/domain"
)

type validatable interface {
	Validate() error
}

type entityRef struct {
	EntityID string `json:"entity_id"`
}

// decodeBatch accepts a single JSON object or a list of them.
func decodeBatch(payload json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrValidation)
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: decode payload: %v", domain.ErrValidation, err)
		}
		return items, nil
	}
	return []json.RawMessage{trimmed}, nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decode payload: %v", domain.ErrValidation, err)
	}
	return out, nil
}

// createAll validates and publishes one created event per item, stopping
// at the first failing item.
func createAll[T validatable](ctx context.Context, s *Service, topic string, payload json.RawMessage) ([]string, error) {
	items, err := decodeBatch(payload)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		record, decodeErr := decode[T](item)
		if decodeErr != nil {
			return nil, decodeErr
		}
		id, createErr := s.create(ctx, topic, record)
		if createErr != nil {
			return nil, createErr
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Service) create(ctx context.Context, topic string, record validatable) (string, error) {
	if err := record.Validate(); err != nil {
		return "", err
	}
	entity, err := domain.EntityOf(record)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	entity[domain.FieldEntityID] = id
	if _, err := s.store.Publish(ctx, topic, domain.ActionCreated, entity); err != nil {
		return "", err
	}
	return id, nil
}

// replace publishes an updated event for an existing entity.
func replace[T validatable](ctx context.Context, s *Service, topic string, payload json.RawMessage) (bool, error) {
	ref, err := decode[entityRef](payload)
	if err != nil {
		return false, err
	}
	if err := domain.RequireEntityID(ref.EntityID); err != nil {
		return false, err
	}
	if _, err := s.queries.GetOneEntity(ctx, topic, ref.EntityID); err != nil {
		return false, err
	}
	record, err := decode[T](payload)
	if err != nil {
		return false, err
	}
	if err := record.Validate(); err != nil {
		return false, err
	}
	entity, err := domain.EntityOf(record)
	if err != nil {
		return false, err
	}
	entity[domain.FieldEntityID] = ref.EntityID
	if _, err := s.store.Publish(ctx, topic, domain.ActionUpdated, entity); err != nil {
		return false, err
	}
	return true, nil
}

// remove publishes a deleted event carrying the entity's last state.
func (s *Service) remove(ctx context.Context, topic string, payload json.RawMessage) (domain.Entity, error) {
	ref, err := decode[entityRef](payload)
	if err != nil {
		return nil, err
	}
	if err := domain.RequireEntityID(ref.EntityID); err != nil {
		return nil, err
	}
	current, err := s.queries.GetOneEntity(ctx, topic, ref.EntityID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Publish(ctx, topic, domain.ActionDeleted, current); err != nil {
		return nil, err
	}
	return current, nil
}
