package domain

const (
	TopicCustomer  = "customer"
	TopicProduct   = "product"
	TopicInventory = "inventory"
	TopicCart      = "cart"
	TopicOrder     = "order"
	TopicBilling   = "billing"
	TopicShipping  = "shipping"
	TopicMail      = "mail"
)

func DefaultTopics() []string {
	return []string{
		TopicCustomer, TopicProduct, TopicInventory, TopicCart,
		TopicOrder, TopicBilling, TopicShipping, TopicMail,
	}
}

type Customer struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

type Product struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
}

type Inventory struct {
	EntityID  string `json:"entity_id"`
	ProductID string `json:"product_id"`
	Amount    int    `json:"amount"`
}

type Cart struct {
	EntityID   string   `json:"entity_id"`
	CustomerID string   `json:"customer_id"`
	ProductIDs []string `json:"product_ids"`
}

type Order struct {
	EntityID   string   `json:"entity_id"`
	CartID     string   `json:"cart_id"`
	CustomerID string   `json:"customer_id"`
	ProductIDs []string `json:"product_ids"`
}

type Billing struct {
	EntityID string  `json:"entity_id"`
	OrderID  string  `json:"order_id"`
	Amount   float64 `json:"amount"`
	Done     float64 `json:"done,omitempty"`
}

// Shipping is delivered once Delivered holds a timestamp or Done is set.
type Shipping struct {
	EntityID  string  `json:"entity_id"`
	OrderID   string  `json:"order_id"`
	Delivered float64 `json:"delivered,omitempty"`
	Done      bool    `json:"done"`
}

func (s Shipping) IsDelivered() bool { return s.Done || s.Delivered > 0 }

type Mail struct {
	EntityID string  `json:"entity_id"`
	To       string  `json:"to"`
	Msg      string  `json:"msg"`
	SentAt   float64 `json:"sent_at"`
}
