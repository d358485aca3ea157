package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/eventstore"
)

const subscribeBuffer = 256

// EventStoreServer exposes an eventstore.Store to remote services.
type EventStoreServer struct {
	store  *eventstore.Store
	logger *slog.Logger
}

func NewEventStoreServer(store *eventstore.Store, logger *slog.Logger) *EventStoreServer {
	return &EventStoreServer{store: store, logger: logger}
}

func Register(server grpc.ServiceRegistrar, svc *EventStoreServer) {
	server.RegisterService(&eventStoreServiceDesc, svc)
}

func (s *EventStoreServer) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	var (
		entryID string
		err     error
	)
	if req.Conditional {
		entryID, err = s.store.PublishIf(ctx, req.Topic, req.Action, req.Entity, req.ExpectedLastID)
	} else {
		entryID, err = s.store.Publish(ctx, req.Topic, req.Action, req.Entity)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &PublishResponse{EntryID: entryID}, nil
}

// Subscribe streams every event appended to the topic after the call until
// the client goes away.
func (s *EventStoreServer) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	events := make(chan domain.Event, subscribeBuffer)
	id, err := s.store.Subscribe(ctx, req.Topic, func(_ context.Context, ev domain.Event) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return toStatus(err)
	}
	defer s.store.Unsubscribe(req.Topic, id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := stream.SendMsg(&ev); err != nil {
				s.logger.WarnContext(ctx, "subscription stream closed",
					"module", "grpc", "layer", "adapter", "operation", "subscribe", "outcome", "failure",
					"topic", req.Topic, "error", err)
				return err
			}
		}
	}
}

func (s *EventStoreServer) FindOne(ctx context.Context, req *FindOneRequest) (*FindOneResponse, error) {
	entity, err := s.store.FindOne(ctx, req.Topic, req.EntityID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FindOneResponse{Entity: entity}, nil
}

func (s *EventStoreServer) FindAll(ctx context.Context, req *FindAllRequest) (*FindAllResponse, error) {
	entities, err := s.store.FindAll(ctx, req.Topic)
	if err != nil {
		return nil, toStatus(err)
	}
	return &FindAllResponse{Entities: entities}, nil
}

func (s *EventStoreServer) ActivateEntityCache(ctx context.Context, req *EntityCacheRequest) (*EntityCacheResponse, error) {
	if err := s.store.ActivateEntityCache(ctx, req.Topic); err != nil {
		return nil, toStatus(err)
	}
	return &EntityCacheResponse{Active: true}, nil
}

func (s *EventStoreServer) DeactivateEntityCache(_ context.Context, req *EntityCacheRequest) (*EntityCacheResponse, error) {
	s.store.DeactivateEntityCache(req.Topic)
	return &EntityCacheResponse{Active: false}, nil
}

func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrConflict):
		code = codes.Aborted
	case errors.Is(err, domain.ErrIntegrity):
		code = codes.DataLoss
	case errors.Is(err, domain.ErrTimeout):
		code = codes.DeadlineExceeded
	case errors.Is(err, domain.ErrTransport), errors.Is(err, domain.ErrClosed):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

// fromStatus maps a status back onto the domain sentinels.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = domain.ErrValidation
	case codes.NotFound:
		sentinel = domain.ErrNotFound
	case codes.Aborted:
		sentinel = domain.ErrConflict
	case codes.DataLoss:
		sentinel = domain.ErrIntegrity
	case codes.DeadlineExceeded:
		sentinel = domain.ErrTimeout
	case codes.Unavailable, codes.Canceled:
		sentinel = domain.ErrTransport
	default:
		return err
	}
	return &remoteStatusError{sentinel: sentinel, msg: st.Message()}
}

type remoteStatusError struct {
	sentinel error
	msg      string
}

func (e *remoteStatusError) Error() string { return e.msg }
func (e *remoteStatusError) Unwrap() error { return e.sentinel }
