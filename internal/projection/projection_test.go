package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/martinez099/ordershop/internal/adapters/memory"
	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

type recordingSubscriber struct {
	handlers map[string]ports.EventHandler
}

func (r *recordingSubscriber) Subscribe(_ context.Context, topic string, handler ports.EventHandler) (string, error) {
	if r.handlers == nil {
		r.handlers = map[string]ports.EventHandler{}
	}
	r.handlers[topic] = handler
	return topic + "-sub", nil
}

func (r *recordingSubscriber) Unsubscribe(topic, _ string) bool {
	delete(r.handlers, topic)
	return true
}

func appendEvent(t *testing.T, log *memory.EventLog, ms uint64, action domain.Action, entity domain.Entity) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent("order", action, entity, time.UnixMilli(int64(ms)))
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	fields, err := ev.Fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	id := domain.EntryID{Millis: ms}
	if _, err := log.Append(context.Background(), "order", id, fields); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev.EntryID = id.String()
	return ev
}

func TestTrackAppliesEachRecordOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := memory.NewEventLog()
	first := appendEvent(t, log, 1, domain.ActionCreated, domain.Entity{"entity_id": "o1"})

	sub := &recordingSubscriber{}
	p := New("order", log)
	if err := p.Track(ctx, sub); err != nil {
		t.Fatalf("track: %v", err)
	}
	second := appendEvent(t, log, 2, domain.ActionCreated, domain.Entity{"entity_id": "o2"})

	handler := sub.handlers["order"]
	if err := handler(ctx, first); err != nil {
		t.Fatalf("replayed record should be skipped, got %v", err)
	}
	if err := handler(ctx, second); err != nil {
		t.Fatalf("apply live record: %v", err)
	}
	// A query catch-up after live delivery must not re-apply record 2.
	var ids []string
	err := p.View(ctx, func(set *domain.EntitySet) error {
		for _, e := range set.All() {
			ids = append(ids, e.ID())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(ids) != 2 || ids[0] != "o1" || ids[1] != "o2" {
		t.Fatalf("unexpected entities %v", ids)
	}
	if p.Cursor() != (domain.EntryID{Millis: 2}) {
		t.Fatalf("unexpected cursor %s", p.Cursor())
	}

	p.Untrack()
	if p.Tracking() || len(sub.handlers) != 0 {
		t.Fatalf("expected subscription to be removed")
	}
}

func TestViewCatchesUpWithoutSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := memory.NewEventLog()
	appendEvent(t, log, 1, domain.ActionCreated, domain.Entity{"entity_id": "o1"})

	p := New("order", log)
	if err := p.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	appendEvent(t, log, 2, domain.ActionDeleted, domain.Entity{"entity_id": "o1"})

	var n int
	_ = p.View(ctx, func(set *domain.EntitySet) error {
		n = set.Len()
		return nil
	})
	if n != 0 {
		t.Fatalf("expected delete to be visible, got %d entities", n)
	}
}

func TestIntegrityErrorIsSticky(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := memory.NewEventLog()
	appendEvent(t, log, 1, domain.ActionUpdated, domain.Entity{"entity_id": "ghost"})

	p := New("order", log)
	if err := p.Load(ctx); !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	err := p.View(ctx, func(*domain.EntitySet) error { return nil })
	if !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected stored integrity error, got %v", err)
	}
	if err := New("order", log).Load(ctx); !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected a fresh replay to fail too, got %v", err)
	}
}
