package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/martinez099/ordershop/internal/domain"
)

// EventStoreClient talks to a remote EventStoreServer.
type EventStoreClient struct {
	conn *grpc.ClientConn
}

func NewEventStoreClient(endpoint string, opts ...grpc.DialOption) (*EventStoreClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial event store grpc: %w", err)
	}
	return &EventStoreClient{conn: conn}, nil
}

func (c *EventStoreClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *EventStoreClient) invoke(ctx context.Context, method string, req, rsp any) error {
	err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, rsp, grpc.CallContentSubtype(codecName))
	return fromStatus(err)
}

func (c *EventStoreClient) Publish(ctx context.Context, topic string, action domain.Action, entity domain.Entity) (string, error) {
	var rsp PublishResponse
	if err := c.invoke(ctx, "Publish", &PublishRequest{Topic: topic, Action: action, Entity: entity}, &rsp); err != nil {
		return "", err
	}
	return rsp.EntryID, nil
}

func (c *EventStoreClient) PublishIf(ctx context.Context, topic string, action domain.Action, entity domain.Entity, expectedLast string) (string, error) {
	var rsp PublishResponse
	req := &PublishRequest{Topic: topic, Action: action, Entity: entity, Conditional: true, ExpectedLastID: expectedLast}
	if err := c.invoke(ctx, "Publish", req, &rsp); err != nil {
		return "", err
	}
	return rsp.EntryID, nil
}

func (c *EventStoreClient) FindOne(ctx context.Context, topic, entityID string) (domain.Entity, error) {
	var rsp FindOneResponse
	if err := c.invoke(ctx, "FindOne", &FindOneRequest{Topic: topic, EntityID: entityID}, &rsp); err != nil {
		return nil, err
	}
	return rsp.Entity, nil
}

func (c *EventStoreClient) FindAll(ctx context.Context, topic string) ([]domain.Entity, error) {
	var rsp FindAllResponse
	if err := c.invoke(ctx, "FindAll", &FindAllRequest{Topic: topic}, &rsp); err != nil {
		return nil, err
	}
	return rsp.Entities, nil
}

func (c *EventStoreClient) ActivateEntityCache(ctx context.Context, topic string) error {
	return c.invoke(ctx, "ActivateEntityCache", &EntityCacheRequest{Topic: topic}, &EntityCacheResponse{})
}

func (c *EventStoreClient) DeactivateEntityCache(ctx context.Context, topic string) error {
	return c.invoke(ctx, "DeactivateEntityCache", &EntityCacheRequest{Topic: topic}, &EntityCacheResponse{})
}

// Subscribe streams the topic's new events to handler until ctx ends, the
// server closes the stream or handler fails.
func (c *EventStoreClient) Subscribe(ctx context.Context, topic string, handler func(domain.Event) error) error {
	stream, err := c.conn.NewStream(ctx, &eventStoreServiceDesc.Streams[0], "/"+serviceName+"/Subscribe", grpc.CallContentSubtype(codecName))
	if err != nil {
		return fromStatus(err)
	}
	if err := stream.SendMsg(&SubscribeRequest{Topic: topic}); err != nil {
		return fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return fromStatus(err)
	}
	for {
		var ev domain.Event
		if err := stream.RecvMsg(&ev); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fromStatus(err)
		}
		if err := handler(ev); err != nil {
			return err
		}
	}
}
