package ports

import (
	"context"

	"github.com/martinez099/ordershop/internal/domain"
)

// EventHandler receives events of one topic in log order. A returned error
// is logged by the tailing task and does not stop delivery.
type EventHandler func(ctx context.Context, ev domain.Event) error

type EventSubscriber interface {
	// Subscribe registers handler for events appended to topic after the
	// call and returns an id for Unsubscribe.
	Subscribe(ctx context.Context, topic string, handler EventHandler) (string, error)
	Unsubscribe(topic, subscriptionID string) bool
}
