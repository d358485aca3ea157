package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

// RelayWorker forwards every event of its topics to an external publisher,
// so gateways can push changes to their clients.
type RelayWorker struct {
	logger     *slog.Logger
	subscriber ports.EventSubscriber
	publisher  ports.EventPublisher
	topics     []string
}

func NewRelayWorker(logger *slog.Logger, subscriber ports.EventSubscriber, publisher ports.EventPublisher, topics []string) *RelayWorker {
	return &RelayWorker{logger: logger, subscriber: subscriber, publisher: publisher, topics: topics}
}

// Run relays until ctx is done.
func (w *RelayWorker) Run(ctx context.Context) error {
	subs := make(map[string]string, len(w.topics))
	defer func() {
		for topic, id := range subs {
			w.subscriber.Unsubscribe(topic, id)
		}
	}()
	for _, topic := range w.topics {
		id, err := w.subscriber.Subscribe(ctx, topic, w.relay)
		if err != nil {
			return fmt.Errorf("relay subscribe %s: %w", topic, err)
		}
		subs[topic] = id
	}
	w.logger.InfoContext(ctx, "relay started",
		"module", "events.relay_worker", "layer", "adapter", "operation", "run", "outcome", "started", "topics", w.topics)
	<-ctx.Done()
	return ctx.Err()
}

func (w *RelayWorker) relay(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	eventType := ev.Topic + "." + string(ev.Action)
	if err := w.publisher.Publish(ctx, eventType, payload, ev.Entity.ID()); err != nil {
		w.logger.ErrorContext(ctx, "relay publish failed",
			"module", "events.relay_worker",
			"layer", "adapter",
			"operation", "publish",
			"outcome", "failure",
			"event_type", eventType,
			"entry_id", ev.EntryID,
			"error", err,
		)
		return err
	}
	return nil
}
