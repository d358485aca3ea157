package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/martinez099/ordershop/internal/broker"
	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

const (
	CustomerService  = "customer-service"
	ProductService   = "product-service"
	InventoryService = "inventory-service"
	CartService      = "cart-service"
	OrderService     = "order-service"
	BillingService   = "billing-service"
	ShippingService  = "shipping-service"
	MailService      = "mail-service"
	CRMService       = "crm-service"
)

func AllServices() []string {
	return []string{
		CustomerService, ProductService, InventoryService, CartService,
		OrderService, BillingService, ShippingService, MailService, CRMService,
	}
}

type Config struct {
	ConflictRetries int
}

type Service struct {
	cfg     Config
	store   ports.EventStore
	queries ports.EntityQueries
	rpc     ports.RPC
	logger  *slog.Logger
	nowFn   func() time.Time

	mu   sync.Mutex
	subs map[reactionKey]string
}

type reactionKey struct {
	service string
	topic   string
}

type Dependencies struct {
	Config  Config
	Store   ports.EventStore
	Queries ports.EntityQueries
	RPC     ports.RPC
	Logger  *slog.Logger
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 5
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		queries: deps.Queries,
		rpc:     deps.RPC,
		logger:  logger,
		nowFn:   time.Now,
		subs:    map[reactionKey]string{},
	}
}

// Handlers returns the broker functions of one domain service, or nil for
// a service without RPC functions.
func (s *Service) Handlers(service string) map[string]broker.Handler {
	switch service {
	case CustomerService:
		return map[string]broker.Handler{
			"create_customers": s.CreateCustomers,
			"update_customer":  s.UpdateCustomer,
			"delete_customer":  s.DeleteCustomer,
		}
	case ProductService:
		return map[string]broker.Handler{
			"create_products": s.CreateProducts,
			"update_product":  s.UpdateProduct,
			"delete_product":  s.DeleteProduct,
		}
	case InventoryService:
		return map[string]broker.Handler{
			"create_inventories": s.CreateInventories,
			"update_inventory":   s.UpdateInventory,
			"delete_inventory":   s.DeleteInventory,
			"incr_amount":        s.IncrAmount,
			"decr_amount":        s.DecrAmount,
			"decr_from_orders":   s.DecrFromOrders,
		}
	case CartService:
		return map[string]broker.Handler{
			"create_carts": s.CreateCarts,
			"update_cart":  s.UpdateCart,
			"delete_cart":  s.DeleteCart,
		}
	case OrderService:
		return map[string]broker.Handler{
			"create_orders": s.CreateOrders,
			"update_order":  s.UpdateOrder,
			"delete_order":  s.DeleteOrder,
		}
	case BillingService:
		return map[string]broker.Handler{
			"create_billings": s.CreateBillings,
			"update_billing":  s.UpdateBilling,
			"delete_billing":  s.DeleteBilling,
		}
	case ShippingService:
		return map[string]broker.Handler{
			"create_shippings": s.CreateShippings,
			"update_shipping":  s.UpdateShipping,
			"delete_shipping":  s.DeleteShipping,
		}
	case MailService:
		return map[string]broker.Handler{
			"send_email": s.SendEmail,
		}
	default:
		return nil
	}
}

type reaction struct {
	service string
	topic   string
	handler ports.EventHandler
}

func (s *Service) reactions() []reaction {
	return []reaction{
		{service: ShippingService, topic: domain.TopicBilling, handler: s.onBillingEvent},
		{service: CRMService, topic: domain.TopicCustomer, handler: s.onCustomerEvent},
		{service: CRMService, topic: domain.TopicOrder, handler: s.onOrderEvent},
	}
}

// Start subscribes the event reactions of the enabled services.
func (s *Service) Start(ctx context.Context, services []string) error {
	enabled := map[string]bool{}
	for _, name := range services {
		enabled[name] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reactions() {
		key := reactionKey{service: r.service, topic: r.topic}
		if !enabled[r.service] || s.subs[key] != "" {
			continue
		}
		id, err := s.store.Subscribe(ctx, r.topic, r.handler)
		if err != nil {
			return err
		}
		s.subs[key] = id
	}
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, id := range s.subs {
		s.store.Unsubscribe(key.topic, id)
		delete(s.subs, key)
	}
}

func (s *Service) logReaction(ctx context.Context, operation string, err error) {
	s.logger.ErrorContext(ctx, "event reaction failed",
		"module", "application", "layer", "reaction", "operation", operation, "outcome", "failure", "error", err)
}
