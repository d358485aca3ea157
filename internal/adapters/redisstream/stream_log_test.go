package redisstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/eventstore"
	"github.com/martinez099/ordershop/internal/ports"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func fields(n string) map[string]string {
	return map[string]string{"event_action": "created", "n": n}
}

func TestConnectAcceptsHostPort(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = client.Close()

	if _, err := Connect(context.Background(), "redis://%zz"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStreamLogAppendRangeAndStaleID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := NewStreamLog(newTestClient(t), "")

	for i := uint64(1); i <= 3; i++ {
		if _, err := log.Append(ctx, "order", domain.EntryID{Millis: i}, fields("x")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := log.Append(ctx, "order", domain.EntryID{Millis: 2}, fields("late")); !errors.Is(err, ports.ErrStaleID) {
		t.Fatalf("expected stale id, got %v", err)
	}

	recs, err := log.Range(ctx, "order", domain.EntryID{Millis: 1}, 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(recs) != 2 || recs[0].ID.Millis != 2 || recs[1].ID.Millis != 3 {
		t.Fatalf("unexpected range %+v", recs)
	}
	if recs[0].Values["n"] != "x" {
		t.Fatalf("unexpected values %v", recs[0].Values)
	}
	limited, err := log.Range(ctx, "order", domain.EntryID{}, 1)
	if err != nil || len(limited) != 1 || limited[0].ID.Millis != 1 {
		t.Fatalf("unexpected limited range %+v %v", limited, err)
	}
	last, err := log.LastID(ctx, "order")
	if err != nil || last.Millis != 3 {
		t.Fatalf("unexpected last id %s %v", last, err)
	}
	empty, err := log.LastID(ctx, "billing")
	if err != nil || !empty.IsZero() {
		t.Fatalf("expected zero id for empty stream, got %s %v", empty, err)
	}
}

func TestStreamLogAppendIf(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := NewStreamLog(newTestClient(t), "test:")

	if _, err := log.AppendIf(ctx, "inventory", domain.EntryID{}, domain.EntryID{Millis: 1}, fields("a")); err != nil {
		t.Fatalf("append on empty stream: %v", err)
	}
	if _, err := log.AppendIf(ctx, "inventory", domain.EntryID{}, domain.EntryID{Millis: 2}, fields("b")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	added, err := log.AppendIf(ctx, "inventory", domain.EntryID{Millis: 1}, domain.EntryID{Millis: 2}, fields("c"))
	if err != nil || added.Millis != 2 {
		t.Fatalf("append at expected tail: %s %v", added, err)
	}
	recs, _ := log.Range(ctx, "inventory", domain.EntryID{}, 0)
	if len(recs) != 2 || recs[1].Values["n"] != "c" {
		t.Fatalf("conflicting append must not land, got %+v", recs)
	}
}

func TestStreamLogTail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := NewStreamLog(newTestClient(t), "")

	if _, err := log.Append(ctx, "order", domain.EntryID{Millis: 1}, fields("first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	recs, err := log.Tail(ctx, "order", domain.EntryID{Millis: 1}, 20*time.Millisecond, 10)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected empty tail, got %+v %v", recs, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = log.Append(context.Background(), "order", domain.EntryID{Millis: 2}, fields("second"))
	}()
	recs, err = log.Tail(ctx, "order", domain.EntryID{Millis: 1}, 2*time.Second, 10)
	if err != nil || len(recs) != 1 || recs[0].Values["n"] != "second" {
		t.Fatalf("expected the new record, got %+v %v", recs, err)
	}
}

func TestStoreOverStreamLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := eventstore.New(NewStreamLog(newTestClient(t), ""), logger, eventstore.Config{TailBlock: 20 * time.Millisecond})
	t.Cleanup(func() { _ = store.Close() })

	got := make(chan domain.Event, 4)
	if _, err := store.Subscribe(ctx, domain.TopicOrder, func(_ context.Context, ev domain.Event) error {
		got <- ev
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := store.Publish(ctx, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": "o1", "status": "new"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-got:
		if ev.Entity.ID() != "o1" || ev.Action != domain.ActionCreated {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	order, err := store.FindOne(ctx, domain.TopicOrder, "o1")
	if err != nil || order["status"] != "new" {
		t.Fatalf("unexpected entity %v %v", order, err)
	}
}
