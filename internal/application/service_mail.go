package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/martinez099/ordershop/internal/domain"
)

// SendEmail records a sent mail. Delivery itself is a log line.
func (s *Service) SendEmail(ctx context.Context, payload json.RawMessage) (any, error) {
	m, err := decode[domain.Mail](payload)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.SentAt = float64(s.nowFn().UnixMicro()) / 1e6
	if _, err := s.create(ctx, domain.TopicMail, m); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "email sent",
		"module", "application", "layer", "service", "operation", "send_email", "outcome", "success", "to", m.To)
	return true, nil
}

func (s *Service) sendMail(ctx context.Context, operation, to, msg string) error {
	if _, err := s.rpc.CallAsync(ctx, MailService, "send_email", domain.Mail{To: to, Msg: msg}); err != nil {
		s.logReaction(ctx, operation, err)
		return err
	}
	return nil
}

func (s *Service) onCustomerEvent(ctx context.Context, ev domain.Event) error {
	customer, err := domain.DecodeEntity[domain.Customer](ev.Entity)
	if err != nil {
		s.logReaction(ctx, "customer_"+string(ev.Action), err)
		return err
	}
	switch ev.Action {
	case domain.ActionCreated:
		return s.sendMail(ctx, "customer_created", customer.Email,
			fmt.Sprintf("Dear %s!\n\nWelcome to Ordershop.\n\nCheers", customer.Name))
	case domain.ActionDeleted:
		return s.sendMail(ctx, "customer_deleted", customer.Email,
			fmt.Sprintf("Dear %s!\n\nGood bye, hope to see you soon again at Ordershop.\n\nCheers", customer.Name))
	default:
		return nil
	}
}

func (s *Service) onOrderEvent(ctx context.Context, ev domain.Event) error {
	if ev.Action != domain.ActionCreated {
		return nil
	}
	msg, to, err := s.orderConfirmation(ctx, ev.Entity)
	if err != nil {
		s.logReaction(ctx, "order_created", err)
		return err
	}
	return s.sendMail(ctx, "order_created", to, msg)
}

func (s *Service) orderConfirmation(ctx context.Context, entity domain.Entity) (string, string, error) {
	order, err := domain.DecodeEntity[domain.Order](entity)
	if err != nil {
		return "", "", err
	}
	customerEntity, err := s.queries.GetOneEntity(ctx, domain.TopicCustomer, order.CustomerID)
	if err != nil {
		return "", "", err
	}
	customer, err := domain.DecodeEntity[domain.Customer](customerEntity)
	if err != nil {
		return "", "", err
	}
	products, err := s.queries.GetMultEntities(ctx, domain.TopicProduct, order.ProductIDs)
	if err != nil {
		return "", "", err
	}
	names := make([]string, 0, len(products))
	for _, p := range products {
		if p == nil {
			continue
		}
		name, _ := p["name"].(string)
		names = append(names, name)
	}
	msg := fmt.Sprintf("Dear %s!\n\nThank you for buying following %d products from Ordershop:\n%s\n\nCheers",
		customer.Name, len(names), strings.Join(names, ", "))
	return msg, customer.Email, nil
}
