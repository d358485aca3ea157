// Package readmodel answers queries over the current state of every topic.
// Each topic is replayed on first use and then tracked live.
package readmodel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
	"github.com/martinez099/ordershop/internal/projection"
)

type ReadModel struct {
	log    ports.EventLog
	sub    ports.EventSubscriber
	logger *slog.Logger
	topics map[string]struct{}

	mu          sync.Mutex
	projections map[string]*projection.Projection
}

func New(log ports.EventLog, sub ports.EventSubscriber, logger *slog.Logger, topics []string) *ReadModel {
	if logger == nil {
		logger = slog.Default()
	}
	if len(topics) == 0 {
		topics = domain.DefaultTopics()
	}
	known := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if topic = strings.TrimSpace(topic); topic != "" {
			known[topic] = struct{}{}
		}
	}
	return &ReadModel{
		log:         log,
		sub:         sub,
		logger:      logger,
		topics:      known,
		projections: map[string]*projection.Projection{},
	}
}

func (r *ReadModel) projection(ctx context.Context, topic string) (*projection.Projection, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: missing mandatory parameter 'name'", domain.ErrValidation)
	}
	if _, ok := r.topics[topic]; !ok {
		return nil, fmt.Errorf("%w: unknown topic %q", domain.ErrValidation, topic)
	}
	r.mu.Lock()
	p, ok := r.projections[topic]
	if !ok {
		p = projection.New(topic, r.log)
		r.projections[topic] = p
	}
	r.mu.Unlock()
	if err := p.Track(ctx, r.sub); err != nil {
		r.logger.ErrorContext(ctx, "projection unavailable",
			"module", "readmodel", "layer", "projection", "operation", "track", "outcome", "failure",
			"topic", topic, "error", err)
		return nil, err
	}
	return p, nil
}

func (r *ReadModel) view(ctx context.Context, topic string, fn func(set *domain.EntitySet) error) error {
	p, err := r.projection(ctx, topic)
	if err != nil {
		return err
	}
	return p.View(ctx, fn)
}

func (r *ReadModel) GetOneEntity(ctx context.Context, topic, id string) (domain.Entity, error) {
	if err := domain.RequireEntityID(id); err != nil {
		return nil, err
	}
	var (
		entity domain.Entity
		found  bool
	)
	err := r.view(ctx, topic, func(set *domain.EntitySet) error {
		entity, found = set.Get(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, topic, id)
	}
	return entity, nil
}

// GetAllEntities returns the live entities of topic in creation order.
func (r *ReadModel) GetAllEntities(ctx context.Context, topic string) ([]domain.Entity, error) {
	var out []domain.Entity
	err := r.view(ctx, topic, func(set *domain.EntitySet) error {
		out = set.All()
		return nil
	})
	return out, err
}

// GetMultEntities returns one slot per requested id in request order; a
// missing id yields a nil entry.
func (r *ReadModel) GetMultEntities(ctx context.Context, topic string, ids []string) ([]domain.Entity, error) {
	out := make([]domain.Entity, len(ids))
	err := r.view(ctx, topic, func(set *domain.EntitySet) error {
		for i, id := range ids {
			if entity, ok := set.Get(id); ok {
				out[i] = entity
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSpecEntities returns the entities whose fields equal every prop.
func (r *ReadModel) GetSpecEntities(ctx context.Context, topic string, props map[string]any) ([]domain.Entity, error) {
	out := []domain.Entity{}
	err := r.view(ctx, topic, func(set *domain.EntitySet) error {
		for _, entity := range set.All() {
			if entity.Matches(props) {
				out = append(out, entity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnbilledOrders returns the orders no billing refers to.
func (r *ReadModel) UnbilledOrders(ctx context.Context) ([]domain.Entity, error) {
	return r.ordersJoined(ctx, domain.TopicBilling, func(_ domain.Entity, refs []domain.Entity) (bool, error) {
		return len(refs) == 0, nil
	})
}

// UnshippedOrders returns the orders no delivered shipping refers to. An
// order with only pending shippings is still unshipped.
func (r *ReadModel) UnshippedOrders(ctx context.Context) ([]domain.Entity, error) {
	return r.ordersJoined(ctx, domain.TopicShipping, func(_ domain.Entity, refs []domain.Entity) (bool, error) {
		delivered, err := anyDelivered(refs)
		return !delivered, err
	})
}

// DeliveredOrders returns the orders with at least one delivered shipping.
func (r *ReadModel) DeliveredOrders(ctx context.Context) ([]domain.Entity, error) {
	return r.ordersJoined(ctx, domain.TopicShipping, func(_ domain.Entity, refs []domain.Entity) (bool, error) {
		return anyDelivered(refs)
	})
}

func anyDelivered(shippings []domain.Entity) (bool, error) {
	for _, ref := range shippings {
		shipping, err := domain.DecodeEntity[domain.Shipping](ref)
		if err != nil {
			return false, err
		}
		if shipping.IsDelivered() {
			return true, nil
		}
	}
	return false, nil
}

// ordersJoined groups the records of refTopic by order_id and keeps the
// orders keep accepts. A record pointing at an unknown order is an
// integrity error. The order lock is always taken before refTopic's.
func (r *ReadModel) ordersJoined(ctx context.Context, refTopic string, keep func(order domain.Entity, refs []domain.Entity) (bool, error)) ([]domain.Entity, error) {
	orders, err := r.projection(ctx, domain.TopicOrder)
	if err != nil {
		return nil, err
	}
	refsProjection, err := r.projection(ctx, refTopic)
	if err != nil {
		return nil, err
	}
	out := []domain.Entity{}
	err = orders.View(ctx, func(orderSet *domain.EntitySet) error {
		return refsProjection.View(ctx, func(refSet *domain.EntitySet) error {
			byOrder := map[string][]domain.Entity{}
			for _, ref := range refSet.All() {
				orderID, _ := ref["order_id"].(string)
				if !orderSet.Has(orderID) {
					return fmt.Errorf("%w: %s %s refers to unknown order %q", domain.ErrIntegrity, refTopic, ref.ID(), orderID)
				}
				byOrder[orderID] = append(byOrder[orderID], ref)
			}
			for _, order := range orderSet.All() {
				ok, keepErr := keep(order, byOrder[order.ID()])
				if keepErr != nil {
					return keepErr
				}
				if ok {
					out = append(out, order)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops tracking every topic.
func (r *ReadModel) Close() error {
	r.mu.Lock()
	projections := r.projections
	r.projections = map[string]*projection.Projection{}
	r.mu.Unlock()
	for _, p := range projections {
		p.Untrack()
	}
	return nil
}
