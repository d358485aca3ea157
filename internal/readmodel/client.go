package readmodel

import (
	"context"
	"fmt"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

// Client queries a read model running in another process through the
// broker. It has the same query methods as ReadModel.
type Client struct {
	rpc ports.RPC
}

func NewClient(rpc ports.RPC) *Client {
	return &Client{rpc: rpc}
}

func (c *Client) GetOneEntity(ctx context.Context, topic, id string) (domain.Entity, error) {
	if err := domain.RequireEntityID(id); err != nil {
		return nil, err
	}
	var out domain.Entity
	if err := c.rpc.Call(ctx, ServiceName, "get_entity", entityQuery{Name: topic, ID: id}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, topic, id)
	}
	return out, nil
}

func (c *Client) GetAllEntities(ctx context.Context, topic string) ([]domain.Entity, error) {
	return c.list(ctx, "get_entities", entityQuery{Name: topic})
}

func (c *Client) GetMultEntities(ctx context.Context, topic string, ids []string) ([]domain.Entity, error) {
	if len(ids) == 0 {
		return []domain.Entity{}, nil
	}
	return c.list(ctx, "get_entities", entityQuery{Name: topic, IDs: ids})
}

func (c *Client) GetSpecEntities(ctx context.Context, topic string, props map[string]any) ([]domain.Entity, error) {
	return c.list(ctx, "get_entities", entityQuery{Name: topic, Props: props})
}

func (c *Client) UnbilledOrders(ctx context.Context) ([]domain.Entity, error) {
	return c.list(ctx, "get_unbilled_orders", nil)
}

func (c *Client) UnshippedOrders(ctx context.Context) ([]domain.Entity, error) {
	return c.list(ctx, "get_unshipped_orders", nil)
}

func (c *Client) DeliveredOrders(ctx context.Context) ([]domain.Entity, error) {
	return c.list(ctx, "get_delivered_orders", nil)
}

func (c *Client) list(ctx context.Context, fn string, query any) ([]domain.Entity, error) {
	var out []domain.Entity
	if err := c.rpc.Call(ctx, ServiceName, fn, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}
