// Package broker implements request/response RPC over shared queues. Each
// (service, func) pair has one queue drained by competing workers, and
// responses are matched to callers by req_id.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

// Handler serves one function. The returned value is encoded as the JSON
// result; a returned error becomes an error response.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

type Config struct {
	ConsumerID     string
	Block          time.Duration
	Workers        int
	RPCTimeout     time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	RedeliveryIdle time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ConsumerID) == "" {
		c.ConsumerID = "consumer-" + uuid.NewString()[:8]
	}
	if c.Block <= 0 {
		c.Block = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 10 * time.Second
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 5 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = 200 * time.Millisecond
		if c.BackoffMax < c.BackoffMin {
			c.BackoffMax = c.BackoffMin
		}
	}
	if c.RedeliveryIdle <= 0 {
		c.RedeliveryIdle = 30 * time.Second
	}
	return c
}

// RemoteError is a handler failure reported by another process. It unwraps
// to the domain sentinel named by its kind.
type RemoteError struct {
	Service string
	Func    string
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Service, e.Func, e.Message)
}

func (e *RemoteError) Unwrap() error { return domain.SentinelForKind(e.Kind) }

type Broker struct {
	queue  ports.Queue
	logger *slog.Logger
	cfg    Config

	rootCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	registered map[string]struct{}
}

func New(queue ports.Queue, logger *slog.Logger, cfg Config) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		queue:      queue,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		rootCtx:    ctx,
		stop:       cancel,
		registered: map[string]struct{}{},
	}
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// SendReq enqueues a request and returns its req_id without waiting.
func (b *Broker) SendReq(ctx context.Context, service, fn string, payload any) (string, error) {
	if b.isClosed() {
		return "", domain.ErrClosed
	}
	if strings.TrimSpace(service) == "" || strings.TrimSpace(fn) == "" {
		return "", fmt.Errorf("%w: missing service or func name", domain.ErrValidation)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	req := ports.Request{ReqID: uuid.NewString(), Service: service, Func: fn, Payload: raw}
	if err := b.queue.Enqueue(ctx, req); err != nil {
		return "", err
	}
	return req.ReqID, nil
}

// CallAsync is SendReq under the name callers use for fire-and-forget RPC.
func (b *Broker) CallAsync(ctx context.Context, service, fn string, payload any) (string, error) {
	return b.SendReq(ctx, service, fn, payload)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch typed := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return typed, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", domain.ErrValidation, err)
	}
	return raw, nil
}

// RecvRsp polls for the response to reqID with exponential backoff until it
// arrives, ctx ends or the RPC timeout elapses.
func (b *Broker) RecvRsp(ctx context.Context, service, fn, reqID string) (json.RawMessage, error) {
	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.RPCTimeout)
	defer cancel()
	delay := b.cfg.BackoffMin
	for {
		rsp, err := b.queue.TakeResponse(waitCtx, service, fn, reqID)
		if err != nil && waitCtx.Err() == nil {
			return nil, err
		}
		if rsp != nil {
			if rsp.Error != "" || rsp.ErrorKind != "" {
				return nil, &RemoteError{Service: service, Func: fn, Kind: rsp.ErrorKind, Message: rsp.Error}
			}
			return rsp.Result, nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: no response from %s.%s for %s", domain.ErrTimeout, service, fn, reqID)
		case <-timer.C:
		}
		delay *= 2
		if delay > b.cfg.BackoffMax {
			delay = b.cfg.BackoffMax
		}
	}
}

// Call sends a request and waits for its response, decoding the result into
// out when out is not nil.
func (b *Broker) Call(ctx context.Context, service, fn string, payload any, out any) error {
	reqID, err := b.SendReq(ctx, service, fn, payload)
	if err != nil {
		return err
	}
	result, err := b.RecvRsp(ctx, service, fn, reqID)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("%w: decode %s.%s result: %v", domain.ErrTransport, service, fn, err)
	}
	return nil
}

// Register starts the configured number of competing workers for one
// (service, func) pair.
func (b *Broker) Register(service, fn string, handler Handler) error {
	if handler == nil || strings.TrimSpace(service) == "" || strings.TrimSpace(fn) == "" {
		return fmt.Errorf("%w: register needs service, func and handler", domain.ErrValidation)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrClosed
	}
	key := service + "." + fn
	if _, dup := b.registered[key]; dup {
		return fmt.Errorf("%w: %s already registered", domain.ErrValidation, key)
	}
	b.registered[key] = struct{}{}
	for i := 0; i < b.cfg.Workers; i++ {
		consumer := b.cfg.ConsumerID + "-" + fn + "-" + strconv.Itoa(i)
		b.wg.Add(1)
		go b.work(b.rootCtx, service, fn, consumer, handler)
	}
	return nil
}

// RegisterAll registers every handler of a service.
func (b *Broker) RegisterAll(service string, handlers map[string]Handler) error {
	for fn, handler := range handlers {
		if err := b.Register(service, fn, handler); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) work(ctx context.Context, service, fn, consumer string, handler Handler) {
	defer b.wg.Done()
	logger := b.logger.With("module", "broker", "layer", "worker", "service_name", service, "func_name", fn, "consumer", consumer)
	for ctx.Err() == nil {
		delivery, err := b.queue.Dequeue(ctx, service, fn, consumer, b.cfg.Block)
		if err == nil && delivery == nil {
			delivery, err = b.queue.Reclaim(ctx, service, fn, consumer, b.cfg.RedeliveryIdle)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnContext(ctx, "dequeue failed", "operation", "dequeue", "outcome", "retry", "error", err)
			b.pause(ctx)
			continue
		}
		if delivery == nil {
			continue
		}
		b.process(ctx, logger, service, fn, handler, delivery)
	}
}

func (b *Broker) process(ctx context.Context, logger *slog.Logger, service, fn string, handler Handler, d *ports.Delivery) {
	rsp := b.execute(ctx, handler, d.Request)
	if rsp.Error != "" {
		logger.InfoContext(ctx, "handler returned error", "operation", fn, "outcome", rsp.ErrorKind, "req_id", rsp.ReqID, "error", rsp.Error)
	}
	if err := b.queue.Respond(ctx, service, fn, rsp); err != nil {
		logger.ErrorContext(ctx, "respond failed, request left for redelivery", "operation", "respond", "outcome", "failure", "req_id", rsp.ReqID, "error", err)
		return
	}
	if err := b.queue.Ack(ctx, service, fn, d.DeliveryID); err != nil {
		logger.ErrorContext(ctx, "ack failed", "operation", "ack", "outcome", "failure", "req_id", rsp.ReqID, "error", err)
	}
}

func (b *Broker) execute(ctx context.Context, handler Handler, req ports.Request) (rsp ports.Response) {
	rsp.ReqID = req.ReqID
	defer func() {
		if r := recover(); r != nil {
			rsp.Result = nil
			rsp.Error = fmt.Sprintf("handler panic: %v", r)
			rsp.ErrorKind = domain.KindInternal
		}
	}()
	result, err := handler(ctx, req.Payload)
	if err != nil {
		rsp.Error = err.Error()
		rsp.ErrorKind = domain.ErrorKind(err)
		return rsp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		rsp.Error = "encode result: " + err.Error()
		rsp.ErrorKind = domain.KindInternal
		return rsp
	}
	rsp.Result = raw
	return rsp
}

func (b *Broker) pause(ctx context.Context) {
	timer := time.NewTimer(b.cfg.BackoffMax)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Close stops all workers and waits for in-flight handlers to return.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	b.stop()
	b.wg.Wait()
	return nil
}

// IsRemote reports whether err came back from another worker's handler.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}
