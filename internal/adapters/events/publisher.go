package events

import (
	"context"
	"log/slog"
	"strings"
)

// LoggingPublisher is the relay sink when no Kafka brokers are configured:
// one debug line per event.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger.With("module", "events.relay", "layer", "adapter")}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, entityID string) error {
	topic, action, _ := strings.Cut(eventType, ".")
	p.logger.DebugContext(ctx, "event relayed",
		"operation", "publish",
		"outcome", "logged",
		"topic", topic,
		"action", action,
		"entity_id", entityID,
		"payload_bytes", len(payload),
	)
	return nil
}
