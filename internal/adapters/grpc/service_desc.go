package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "ordershop.eventstore.v1.EventStore"

type eventStoreService interface {
	Publish(context.Context, *PublishRequest) (*PublishResponse, error)
	Subscribe(*SubscribeRequest, grpc.ServerStream) error
	FindOne(context.Context, *FindOneRequest) (*FindOneResponse, error)
	FindAll(context.Context, *FindAllRequest) (*FindAllResponse, error)
	ActivateEntityCache(context.Context, *EntityCacheRequest) (*EntityCacheResponse, error)
	DeactivateEntityCache(context.Context, *EntityCacheRequest) (*EntityCacheResponse, error)
}

func unaryHandler[Req any, Rsp any](method string, call func(eventStoreService, context.Context, *Req) (*Rsp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(eventStoreService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*Req))
			})
		},
	}
}

var eventStoreServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*eventStoreService)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Publish", eventStoreService.Publish),
		unaryHandler("FindOne", eventStoreService.FindOne),
		unaryHandler("FindAll", eventStoreService.FindAll),
		unaryHandler("ActivateEntityCache", eventStoreService.ActivateEntityCache),
		unaryHandler("DeactivateEntityCache", eventStoreService.DeactivateEntityCache),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(SubscribeRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(eventStoreService).Subscribe(in, stream)
			},
		},
	},
	Metadata: "ordershop/eventstore/v1",
}
