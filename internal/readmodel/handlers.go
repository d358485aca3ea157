package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/martinez099/ordershop/internal/broker"
	"github.com/martinez099/ordershop/internal/domain"
)

const ServiceName = "read-model"

type entityQuery struct {
	Name  string         `json:"name"`
	ID    string         `json:"id,omitempty"`
	IDs   []string       `json:"ids,omitempty"`
	Props map[string]any `json:"props,omitempty"`
}

func decodeQuery(payload json.RawMessage) (entityQuery, error) {
	var q entityQuery
	if len(payload) == 0 {
		return q, nil
	}
	if err := json.Unmarshal(payload, &q); err != nil {
		return q, fmt.Errorf("%w: decode query: %v", domain.ErrValidation, err)
	}
	return q, nil
}

// Handlers exposes the read model over the broker under ServiceName.
func (r *ReadModel) Handlers() map[string]broker.Handler {
	return map[string]broker.Handler{
		"get_entity":           r.handleGetEntity,
		"get_one_entity":       r.handleGetEntity,
		"get_entities":         r.handleGetEntities,
		"get_all_entities":     r.handleGetEntities,
		"get_mult_entities":    r.handleGetEntities,
		"get_spec_entities":    r.handleGetEntities,
		"get_mails":            r.handleGetMails,
		"get_unbilled_orders":  r.handleJoin(r.UnbilledOrders),
		"get_unshipped_orders": r.handleJoin(r.UnshippedOrders),
		"get_delivered_orders": r.handleJoin(r.DeliveredOrders),
	}
}

// handleGetEntity answers by id, or by props when they select at most one
// entity. An unknown id yields a null result.
func (r *ReadModel) handleGetEntity(ctx context.Context, payload json.RawMessage) (any, error) {
	q, err := decodeQuery(payload)
	if err != nil {
		return nil, err
	}
	switch {
	case q.ID != "":
		entity, getErr := r.GetOneEntity(ctx, q.Name, q.ID)
		if errors.Is(getErr, domain.ErrNotFound) {
			return nil, nil
		}
		return entity, getErr
	case q.Props != nil:
		matches, specErr := r.GetSpecEntities(ctx, q.Name, q.Props)
		if specErr != nil {
			return nil, specErr
		}
		if len(matches) > 1 {
			return nil, fmt.Errorf("%w: more than 1 result found", domain.ErrValidation)
		}
		if len(matches) == 0 {
			return nil, nil
		}
		return matches[0], nil
	default:
		if _, projErr := r.projection(ctx, q.Name); projErr != nil {
			return nil, projErr
		}
		return nil, fmt.Errorf("%w: missing mandatory parameter 'id' and/or 'props'", domain.ErrValidation)
	}
}

func (r *ReadModel) handleGetEntities(ctx context.Context, payload json.RawMessage) (any, error) {
	q, err := decodeQuery(payload)
	if err != nil {
		return nil, err
	}
	switch {
	case q.IDs != nil:
		return r.GetMultEntities(ctx, q.Name, q.IDs)
	case q.Props != nil:
		return r.GetSpecEntities(ctx, q.Name, q.Props)
	default:
		return r.GetAllEntities(ctx, q.Name)
	}
}

func (r *ReadModel) handleGetMails(ctx context.Context, _ json.RawMessage) (any, error) {
	return r.GetAllEntities(ctx, domain.TopicMail)
}

func (r *ReadModel) handleJoin(query func(ctx context.Context) ([]domain.Entity, error)) broker.Handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return query(ctx)
	}
}
