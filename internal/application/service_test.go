package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/martinez099/ordershop/internal/adapters/memory"
	"github.com/martinez099/ordershop/internal/broker"
	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/eventstore"
	"github.com/martinez099/ordershop/internal/readmodel"
)

type harness struct {
	svc    *Service
	store  *eventstore.Store
	rm     *readmodel.ReadModel
	broker *broker.Broker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := memory.NewEventLog()
	store := eventstore.New(log, logger, eventstore.Config{TailBlock: 20 * time.Millisecond})
	rm := readmodel.New(log, store, logger, nil)
	b := broker.New(memory.NewQueue(), logger, broker.Config{Block: 20 * time.Millisecond, Workers: 2, RPCTimeout: 3 * time.Second})
	svc := NewService(Dependencies{Store: store, Queries: rm, RPC: b, Logger: logger})
	for _, name := range AllServices() {
		if handlers := svc.Handlers(name); handlers != nil {
			if err := b.RegisterAll(name, handlers); err != nil {
				t.Fatalf("register %s: %v", name, err)
			}
		}
	}
	if err := b.RegisterAll(readmodel.ServiceName, rm.Handlers()); err != nil {
		t.Fatalf("register read model: %v", err)
	}
	t.Cleanup(func() {
		svc.Stop()
		_ = b.Close()
		_ = rm.Close()
		_ = store.Close()
	})
	return &harness{svc: svc, store: store, rm: rm, broker: b}
}

func (h *harness) call(t *testing.T, service, fn string, payload any, out any) {
	t.Helper()
	if err := h.broker.Call(context.Background(), service, fn, payload, out); err != nil {
		t.Fatalf("%s.%s: %v", service, fn, err)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestUpdateUnknownProductIsNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.broker.Call(context.Background(), ProductService, "update_product",
		map[string]any{"entity_id": "does-not-exist", "name": "x", "price": 1}, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	all, err := h.rm.GetAllEntities(context.Background(), domain.TopicProduct)
	if err != nil || len(all) != 0 {
		t.Fatalf("expected no product events, got %v %v", all, err)
	}
}

func TestBatchCreateStopsAtFirstInvalidItem(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.broker.Call(context.Background(), CustomerService, "create_customers", []map[string]any{
		{"name": "Ann", "email": "ann@example.com"},
		{"name": "NoMail"},
		{"name": "Cid", "email": "cid@example.com"},
	}, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	all, _ := h.rm.GetAllEntities(context.Background(), domain.TopicCustomer)
	if len(all) != 1 || all[0]["name"] != "Ann" {
		t.Fatalf("expected only the first customer, got %v", all)
	}
}

func TestOrderFlowDecrementsStockAndShipsBilledOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	if err := h.svc.Start(ctx, AllServices()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var customerIDs, productIDs, inventoryIDs, cartIDs, orderIDs, billingIDs []string
	h.call(t, CustomerService, "create_customers", map[string]any{"name": "Ann", "email": "ann@example.com"}, &customerIDs)
	h.call(t, ProductService, "create_products", []map[string]any{{"name": "pen", "price": 2.5}, {"name": "ink", "price": 1}}, &productIDs)
	h.call(t, InventoryService, "create_inventories", []map[string]any{
		{"product_id": productIDs[0], "amount": 3},
		{"product_id": productIDs[1], "amount": 1},
	}, &inventoryIDs)
	h.call(t, CartService, "create_carts", map[string]any{
		"customer_id": customerIDs[0],
		"product_ids": []string{productIDs[0], productIDs[0], productIDs[1]},
	}, &cartIDs)
	h.call(t, OrderService, "create_orders", map[string]any{"cart_id": cartIDs[0]}, &orderIDs)

	inv, err := h.rm.GetOneEntity(ctx, domain.TopicInventory, inventoryIDs[0])
	if err != nil || inv["amount"] != float64(1) {
		t.Fatalf("expected pen stock 1, got %v %v", inv, err)
	}

	err = h.broker.Call(ctx, OrderService, "create_orders", map[string]any{"cart_id": cartIDs[0]}, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected out of stock, got %v", err)
	}
	inv, _ = h.rm.GetOneEntity(ctx, domain.TopicInventory, inventoryIDs[0])
	if inv["amount"] != float64(1) {
		t.Fatalf("failed order must not change stock, got %v", inv)
	}

	unbilled, _ := h.rm.UnbilledOrders(ctx)
	if len(unbilled) != 1 {
		t.Fatalf("expected one unbilled order, got %d", len(unbilled))
	}
	h.call(t, BillingService, "create_billings", map[string]any{"order_id": orderIDs[0]}, &billingIDs)
	billing, _ := h.rm.GetOneEntity(ctx, domain.TopicBilling, billingIDs[0])
	if billing["amount"] != float64(6) {
		t.Fatalf("expected billed amount 6, got %v", billing)
	}
	unbilled, _ = h.rm.UnbilledOrders(ctx)
	if len(unbilled) != 0 {
		t.Fatalf("expected no unbilled orders, got %d", len(unbilled))
	}

	var shipping domain.Entity
	waitUntil(t, "shipping for billed order", func() bool {
		shippings, err := h.rm.GetSpecEntities(ctx, domain.TopicShipping, map[string]any{"order_id": orderIDs[0]})
		if err != nil || len(shippings) != 1 {
			return false
		}
		shipping = shippings[0]
		return true
	})
	unshipped, err := h.rm.UnshippedOrders(ctx)
	if err != nil || len(unshipped) != 1 || unshipped[0].ID() != orderIDs[0] {
		t.Fatalf("pending shipping must leave the order unshipped, got %v %v", unshipped, err)
	}
	var updated bool
	h.call(t, ShippingService, "update_shipping", map[string]any{
		"entity_id": shipping.ID(),
		"order_id":  orderIDs[0],
		"done":      true,
	}, &updated)
	unshipped, err = h.rm.UnshippedOrders(ctx)
	if err != nil || len(unshipped) != 0 {
		t.Fatalf("expected no unshipped orders after delivery, got %v %v", unshipped, err)
	}
	waitUntil(t, "welcome and order mails", func() bool {
		mails, err := h.rm.GetAllEntities(ctx, domain.TopicMail)
		return err == nil && len(mails) == 2
	})

	err = h.broker.Call(ctx, BillingService, "create_billings", map[string]any{"order_id": "ghost"}, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected billing of unknown order to fail, got %v", err)
	}
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	var productIDs, inventoryIDs []string
	h.call(t, ProductService, "create_products", map[string]any{"name": "pen", "price": 1}, &productIDs)
	h.call(t, InventoryService, "create_inventories", map[string]any{"product_id": productIDs[0], "amount": 5}, &inventoryIDs)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, _ := json.Marshal(amountChange{ProductID: productIDs[0], Value: 1})
			if _, err := h.svc.DecrAmount(ctx, raw); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	inv, err := h.rm.GetOneEntity(ctx, domain.TopicInventory, inventoryIDs[0])
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if succeeded > 5 || inv["amount"] != float64(5-succeeded) {
		t.Fatalf("stock %v does not match %d successful decrements", inv["amount"], succeeded)
	}
}
