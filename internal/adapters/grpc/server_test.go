package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/martinez099/ordershop/internal/adapters/memory"
	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/eventstore"
)

func startServer(t *testing.T) (*eventstore.Store, *EventStoreClient, *grpc.ClientConn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := eventstore.New(memory.NewEventLog(), logger, eventstore.Config{TailBlock: 20 * time.Millisecond})

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	Register(server, NewEventStoreServer(store, logger))
	go func() { _ = server.Serve(lis) }()

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	client, err := NewEventStoreClient("passthrough:///bufconn", dialer)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	conn, err := grpc.NewClient("passthrough:///bufconn", dialer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("health conn: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = client.Close()
		server.Stop()
		_ = store.Close()
	})
	return store, client, conn
}

func TestPublishAndFindOverGRPC(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, _ := startServer(t)

	entryID, err := client.Publish(ctx, "customer", domain.ActionCreated, domain.Entity{"entity_id": "c1", "name": "Ann"})
	if err != nil || entryID == "" {
		t.Fatalf("publish: %q %v", entryID, err)
	}
	if _, err := client.PublishIf(ctx, "customer", domain.ActionUpdated, domain.Entity{"entity_id": "c1"}, "0-0"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := client.ActivateEntityCache(ctx, "customer"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, err := client.FindOne(ctx, "customer", "c1")
	if err != nil || got["name"] != "Ann" {
		t.Fatalf("find one: %v %v", got, err)
	}
	all, err := client.FindAll(ctx, "customer")
	if err != nil || len(all) != 1 {
		t.Fatalf("find all: %v %v", all, err)
	}
	if _, err := client.FindOne(ctx, "customer", "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.Publish(ctx, "customer", "renamed", domain.Entity{"entity_id": "c1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubscribeStreamsNewEvents(t *testing.T) {
	t.Parallel()
	store, client, _ := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan domain.Event, 1)
	go func() {
		_ = client.Subscribe(ctx, "order", func(ev domain.Event) error {
			received <- ev
			return nil
		})
	}()
	deadline := time.Now().Add(2 * time.Second)
	for store.Subscriptions("order") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := store.Publish(context.Background(), "order", domain.ActionCreated, domain.Entity{"entity_id": "o1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-received:
		if ev.Entity.ID() != "o1" || ev.Action != domain.ActionCreated || ev.EntryID == "" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event streamed")
	}
}

func TestHealthService(t *testing.T) {
	t.Parallel()
	_, _, conn := startServer(t)
	rsp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil || rsp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health %v %v", rsp, err)
	}
}
