package ports

import (
	"context"

	"github.com/martinez099/ordershop/internal/domain"
)

// EventStore is the write side the domain services publish through.
type EventStore interface {
	EventSubscriber
	Publish(ctx context.Context, topic string, action domain.Action, entity domain.Entity) (string, error)
	PublishIf(ctx context.Context, topic string, action domain.Action, entity domain.Entity, expectedLast string) (string, error)
	LastEntryID(ctx context.Context, topic string) (string, error)
}

// EntityQueries is the read side the domain services query.
type EntityQueries interface {
	GetOneEntity(ctx context.Context, topic, id string) (domain.Entity, error)
	GetAllEntities(ctx context.Context, topic string) ([]domain.Entity, error)
	GetMultEntities(ctx context.Context, topic string, ids []string) ([]domain.Entity, error)
	GetSpecEntities(ctx context.Context, topic string, props map[string]any) ([]domain.Entity, error)
}

type RPC interface {
	Call(ctx context.Context, service, fn string, payload any, out any) error
	CallAsync(ctx context.Context, service, fn string, payload any) (string, error)
}
