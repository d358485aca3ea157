package http_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/martinez099/ordershop/internal/adapters/http"
	"github.com/martinez099/ordershop/internal/adapters/memory"
	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/eventstore"
	"github.com/martinez099/ordershop/internal/readmodel"
)

type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
}

func newRouter(t *testing.T) (http.Handler, *eventstore.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := memory.NewEventLog()
	store := eventstore.New(log, logger, eventstore.Config{TailBlock: 20 * time.Millisecond})
	rm := readmodel.New(log, store, logger, nil)
	t.Cleanup(func() {
		_ = rm.Close()
		_ = store.Close()
	})
	return httpadapter.NewRouter(httpadapter.NewHandler(rm, nil), logger), store
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var out envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v body=%s", path, err, rr.Body.String())
	}
	return rr, out
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()
	router, _ := newRouter(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr, out := get(t, router, path)
		if rr.Code != http.StatusOK || out.Status != "success" {
			t.Fatalf("%s: status=%d body=%s", path, rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: missing request id header", path)
		}
	}
}

func TestEntityRoutes(t *testing.T) {
	t.Parallel()
	router, store := newRouter(t)
	ctx := context.Background()
	for _, c := range []domain.Entity{
		{"entity_id": "c1", "name": "Alice", "email": "alice@example.com"},
		{"entity_id": "c2", "name": "Bob", "email": "bob@example.com"},
	} {
		if _, err := store.Publish(ctx, domain.TopicCustomer, domain.ActionCreated, c); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	rr, out := get(t, router, "/v1/entities/customer/c1")
	if rr.Code != http.StatusOK {
		t.Fatalf("get one: status=%d body=%s", rr.Code, rr.Body.String())
	}
	var one domain.Entity
	if err := json.Unmarshal(out.Data, &one); err != nil || one["name"] != "Alice" {
		t.Fatalf("unexpected entity: %s %v", out.Data, err)
	}

	rr, out = get(t, router, "/v1/entities/customer/missing")
	if rr.Code != http.StatusNotFound || out.Code != "NOT_FOUND" {
		t.Fatalf("expected 404, got status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr, out = get(t, router, "/v1/entities/unicorn")
	if rr.Code != http.StatusBadRequest || out.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 for unknown topic, got status=%d body=%s", rr.Code, rr.Body.String())
	}

	var list []domain.Entity
	_, out = get(t, router, "/v1/entities/customer")
	if err := json.Unmarshal(out.Data, &list); err != nil || len(list) != 2 {
		t.Fatalf("expected 2 customers, got %s %v", out.Data, err)
	}
	if out.Count == nil || *out.Count != 2 {
		t.Fatalf("expected count 2, got %v", out.Count)
	}

	_, out = get(t, router, "/v1/entities/customer?name=Bob")
	if err := json.Unmarshal(out.Data, &list); err != nil || len(list) != 1 || list[0].ID() != "c2" {
		t.Fatalf("expected only Bob, got %s %v", out.Data, err)
	}

	_, out = get(t, router, "/v1/entities/customer?ids=c2,nope")
	if err := json.Unmarshal(out.Data, &list); err != nil || len(list) != 2 || list[0].ID() != "c2" || list[1] != nil {
		t.Fatalf("expected [c2, null], got %s %v", out.Data, err)
	}
}

func TestReportRoutes(t *testing.T) {
	t.Parallel()
	router, store := newRouter(t)
	ctx := context.Background()
	for _, o := range []string{"o1", "o2"} {
		if _, err := store.Publish(ctx, domain.TopicOrder, domain.ActionCreated, domain.Entity{"entity_id": o}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if _, err := store.Publish(ctx, domain.TopicBilling, domain.ActionCreated, domain.Entity{"entity_id": "b1", "order_id": "o1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	rr, out := get(t, router, "/v1/reports/unbilled-orders")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var orders []domain.Entity
	if err := json.Unmarshal(out.Data, &orders); err != nil || len(orders) != 1 || orders[0].ID() != "o2" {
		t.Fatalf("expected only o2 unbilled, got %s %v", out.Data, err)
	}

	_, out = get(t, router, "/v1/reports/delivered-orders")
	if err := json.Unmarshal(out.Data, &orders); err != nil || len(orders) != 0 {
		t.Fatalf("expected no delivered orders, got %s %v", out.Data, err)
	}
	if out.Count == nil || *out.Count != 0 {
		t.Fatalf("expected count 0, got %v", out.Count)
	}
}
