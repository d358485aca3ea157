package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

func missing(fields ...string) error {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = "'" + f + "'"
	}
	return fmt.Errorf("%w: missing mandatory parameter %s", ErrValidation, strings.Join(quoted, " and/or "))
}

func (c Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Email) == "" {
		return missing("name", "email")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, c.Email)
	}
	return nil
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return missing("name", "price")
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: negative price", ErrValidation)
	}
	return nil
}

func (i Inventory) Validate() error {
	if strings.TrimSpace(i.ProductID) == "" {
		return missing("product_id", "amount")
	}
	if i.Amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrValidation)
	}
	return nil
}

func (c Cart) Validate() error {
	if strings.TrimSpace(c.CustomerID) == "" || len(c.ProductIDs) == 0 {
		return missing("customer_id", "product_ids")
	}
	return nil
}

func (o Order) Validate() error {
	if strings.TrimSpace(o.CartID) == "" {
		return missing("cart_id")
	}
	return nil
}

func (b Billing) Validate() error {
	if strings.TrimSpace(b.OrderID) == "" {
		return missing("order_id")
	}
	return nil
}

func (s Shipping) Validate() error {
	if strings.TrimSpace(s.OrderID) == "" {
		return missing("order_id")
	}
	return nil
}

func (m Mail) Validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Msg) == "" {
		return missing("to", "msg")
	}
	return nil
}

func RequireEntityID(id string) error {
	if strings.TrimSpace(id) == "" {
		return missing(FieldEntityID)
	}
	return nil
}
