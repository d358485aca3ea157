package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/martinez099/ordershop/internal/adapters/memory"
	"github.com/martinez099/ordershop/internal/broker"
	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/eventstore"
)

func newTestReadModel(t *testing.T) (*ReadModel, *eventstore.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := memory.NewEventLog()
	store := eventstore.New(log, logger, eventstore.Config{TailBlock: 20 * time.Millisecond})
	rm := New(log, store, logger, nil)
	t.Cleanup(func() {
		_ = rm.Close()
		_ = store.Close()
	})
	return rm, store
}

func publish(t *testing.T, store *eventstore.Store, topic string, action domain.Action, entity domain.Entity) {
	t.Helper()
	if _, err := store.Publish(context.Background(), topic, action, entity); err != nil {
		t.Fatalf("publish %s: %v", topic, err)
	}
}

func ids(entities []domain.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID()
	}
	return out
}

func TestUnbilledOrdersFollowBillings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm, store := newTestReadModel(t)

	publish(t, store, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "o1"})
	publish(t, store, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "o2"})
	unbilled, err := rm.UnbilledOrders(ctx)
	if err != nil || len(unbilled) != 2 {
		t.Fatalf("expected 2 unbilled orders, got %v %v", ids(unbilled), err)
	}

	publish(t, store, domain.TopicBilling, domain.ActionCreated, domain.Entity{"entity_id": "b1", "order_id": "o1"})
	unbilled, err = rm.UnbilledOrders(ctx)
	if err != nil || len(unbilled) != 1 || unbilled[0].ID() != "o2" {
		t.Fatalf("expected only o2 unbilled, got %v %v", ids(unbilled), err)
	}

	publish(t, store, domain.TopicBilling, domain.ActionDeleted, domain.Entity{"entity_id": "b1", "order_id": "o1"})
	unbilled, err = rm.UnbilledOrders(ctx)
	if err != nil || len(unbilled) != 2 {
		t.Fatalf("expected both orders unbilled after delete, got %v %v", ids(unbilled), err)
	}
}

func TestShippingJoins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm, store := newTestReadModel(t)

	publish(t, store, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "o1"})
	publish(t, store, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "o2"})
	publish(t, store, domain.TopicShipping, domain.ActionCreated, domain.Entity{"entity_id": "s1", "order_id": "o1", "done": false})

	unshipped, err := rm.UnshippedOrders(ctx)
	if err != nil || len(unshipped) != 2 {
		t.Fatalf("a pending shipping must not ship o1, got %v %v", ids(unshipped), err)
	}
	delivered, err := rm.DeliveredOrders(ctx)
	if err != nil || len(delivered) != 0 {
		t.Fatalf("expected nothing delivered, got %v %v", ids(delivered), err)
	}
	publish(t, store, domain.TopicShipping, domain.ActionUpdated, domain.Entity{"entity_id": "s1", "order_id": "o1", "delivered": 1700000000.5})
	delivered, err = rm.DeliveredOrders(ctx)
	if err != nil || len(delivered) != 1 || delivered[0].ID() != "o1" {
		t.Fatalf("expected o1 delivered, got %v %v", ids(delivered), err)
	}
	unshipped, err = rm.UnshippedOrders(ctx)
	if err != nil || len(unshipped) != 1 || unshipped[0].ID() != "o2" {
		t.Fatalf("expected only o2 unshipped, got %v %v", ids(unshipped), err)
	}

	publish(t, store, domain.TopicShipping, domain.ActionCreated, domain.Entity{"entity_id": "s2", "order_id": "o2", "done": true})
	unshipped, err = rm.UnshippedOrders(ctx)
	if err != nil || len(unshipped) != 0 {
		t.Fatalf("a done shipping ships o2, got %v %v", ids(unshipped), err)
	}
}

func TestBilledOrderStaysUnshippedUntilDelivered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm, store := newTestReadModel(t)

	publish(t, store, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "O1", "cart_id": "C1"})
	publish(t, store, domain.TopicBilling, domain.ActionCreated, domain.Entity{"entity_id": "B1", "order_id": "O1"})

	unbilled, err := rm.UnbilledOrders(ctx)
	if err != nil || len(unbilled) != 0 {
		t.Fatalf("O1 is billed, got unbilled %v %v", ids(unbilled), err)
	}
	assertUnshipped := func(want bool) {
		t.Helper()
		unshipped, err := rm.UnshippedOrders(ctx)
		if err != nil {
			t.Fatalf("unshipped orders: %v", err)
		}
		if got := len(unshipped) == 1 && unshipped[0].ID() == "O1"; got != want {
			t.Fatalf("O1 unshipped=%v, want %v (%v)", got, want, ids(unshipped))
		}
	}
	assertUnshipped(true)

	publish(t, store, domain.TopicShipping, domain.ActionCreated, domain.Entity{"entity_id": "S1", "order_id": "O1"})
	assertUnshipped(true)

	publish(t, store, domain.TopicShipping, domain.ActionUpdated, domain.Entity{"entity_id": "S1", "order_id": "O1", "delivered": 1700000000.5})
	assertUnshipped(false)
}

func TestDanglingOrderReferenceIsIntegrityError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm, store := newTestReadModel(t)

	publish(t, store, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "o1"})
	publish(t, store, domain.TopicBilling, domain.ActionCreated, domain.Entity{"entity_id": "b1", "order_id": "gone"})
	if _, err := rm.UnbilledOrders(ctx); !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestQueriesReflectLiveWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm, store := newTestReadModel(t)

	publish(t, store, domain.TopicCustomer, domain.ActionCreated, domain.Entity{"entity_id": "c1", "name": "Ann"})
	all, err := rm.GetAllEntities(ctx, domain.TopicCustomer)
	if err != nil || len(all) != 1 {
		t.Fatalf("unexpected customers %v %v", ids(all), err)
	}
	publish(t, store, domain.TopicCustomer, domain.ActionCreated, domain.Entity{"entity_id": "c2", "name": "Bob"})
	publish(t, store, domain.TopicCustomer, domain.ActionUpdated, domain.Entity{"entity_id": "c1", "name": "Anne"})

	one, err := rm.GetOneEntity(ctx, domain.TopicCustomer, "c1")
	if err != nil || one["name"] != "Anne" {
		t.Fatalf("expected updated customer, got %v %v", one, err)
	}
	mult, err := rm.GetMultEntities(ctx, domain.TopicCustomer, []string{"c2", "nope", "c1"})
	if err != nil || len(mult) != 3 || mult[0].ID() != "c2" || mult[1] != nil || mult[2].ID() != "c1" {
		t.Fatalf("unexpected mult result %v %v", mult, err)
	}
	spec, err := rm.GetSpecEntities(ctx, domain.TopicCustomer, map[string]any{"name": "Bob"})
	if err != nil || len(spec) != 1 || spec[0].ID() != "c2" {
		t.Fatalf("unexpected spec result %v %v", ids(spec), err)
	}
	if _, err := rm.GetOneEntity(ctx, domain.TopicCustomer, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := rm.GetAllEntities(ctx, "unknown"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown topic, got %v", err)
	}
}

func TestGetEntityHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm, store := newTestReadModel(t)
	publish(t, store, domain.TopicProduct, domain.ActionCreated, domain.Entity{"entity_id": "p1", "name": "pen"})
	publish(t, store, domain.TopicProduct, domain.ActionCreated, domain.Entity{"entity_id": "p2", "name": "pen"})

	handlers := rm.Handlers()
	got, err := handlers["get_entity"](ctx, json.RawMessage(`{"name":"product","id":"missing"}`))
	if err != nil || got != nil {
		t.Fatalf("expected null result for unknown id, got %v %v", got, err)
	}
	if _, err := handlers["get_entity"](ctx, json.RawMessage(`{"name":"product","props":{"name":"pen"}}`)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ambiguous props to fail, got %v", err)
	}
	list, err := handlers["get_entities"](ctx, json.RawMessage(`{"name":"product","ids":["p2"]}`))
	if err != nil {
		t.Fatalf("get_entities: %v", err)
	}
	if entities := list.([]domain.Entity); len(entities) != 1 || entities[0].ID() != "p2" {
		t.Fatalf("unexpected entities %v", entities)
	}
}

func TestClientOverBroker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm, store := newTestReadModel(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := broker.New(memory.NewQueue(), logger, broker.Config{Block: 20 * time.Millisecond})
	t.Cleanup(func() { _ = b.Close() })
	if err := b.RegisterAll(ServiceName, rm.Handlers()); err != nil {
		t.Fatalf("register: %v", err)
	}
	client := NewClient(b)

	publish(t, store, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "o1"})
	publish(t, store, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "o2"})

	one, err := client.GetOneEntity(ctx, domain.TopicOrder, "o2")
	if err != nil || one.ID() != "o2" {
		t.Fatalf("get one: %v %v", one, err)
	}
	if _, err := client.GetOneEntity(ctx, domain.TopicOrder, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	mult, err := client.GetMultEntities(ctx, domain.TopicOrder, []string{"o2", "x"})
	if err != nil || len(mult) != 2 || mult[0].ID() != "o2" || mult[1] != nil {
		t.Fatalf("get mult: %v %v", mult, err)
	}
	unbilled, err := client.UnbilledOrders(ctx)
	if err != nil || len(unbilled) != 2 {
		t.Fatalf("unbilled: %v %v", ids(unbilled), err)
	}
	if _, err := client.GetAllEntities(ctx, "unknown"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
