package ports

import (
	"context"
	"encoding/json"
	"time"
)

type Request struct {
	ReqID   string          `json:"req_id"`
	Service string          `json:"service_name"`
	Func    string          `json:"func_name"`
	Payload json.RawMessage `json:"payload"`
}

type Response struct {
	ReqID     string          `json:"req_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
}

type Delivery struct {
	DeliveryID string
	Request    Request
}

// Queue is the request/response transport behind the broker. Requests for a
// (service, func) pair are shared by competing consumers; responses are
// looked up by req_id.
type Queue interface {
	Enqueue(ctx context.Context, req Request) error
	// Dequeue claims one request for consumer, waiting up to block. It
	// returns nil when nothing arrived in time.
	Dequeue(ctx context.Context, service, fn, consumer string, block time.Duration) (*Delivery, error)
	// Reclaim hands consumer a request claimed by another consumer that has
	// stayed unacknowledged for at least minIdle.
	Reclaim(ctx context.Context, service, fn, consumer string, minIdle time.Duration) (*Delivery, error)
	Ack(ctx context.Context, service, fn, deliveryID string) error
	Respond(ctx context.Context, service, fn string, rsp Response) error
	// TakeResponse removes and returns the response for reqID, or nil if it
	// has not arrived yet.
	TakeResponse(ctx context.Context, service, fn, reqID string) (*Response, error)
}
