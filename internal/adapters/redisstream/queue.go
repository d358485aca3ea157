package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

const (
	consumerGroup      = "workers"
	responseStreamCap  = 10000
	responseScanWindow = 1000
)

// Queue implements ports.Queue with one request stream per (service, func)
// drained by a consumer group, and one response stream per pair.
type Queue struct {
	client redis.UniversalClient
	groups sync.Map
}

func NewQueue(client redis.UniversalClient) *Queue {
	return &Queue{client: client}
}

func pairTag(service, fn string) string { return "{" + service + "." + fn + "}" }

func requestKey(service, fn string) string  { return "rpc:" + pairTag(service, fn) + ":req" }
func responseKey(service, fn string) string { return "rpc:" + pairTag(service, fn) + ":rsp" }

func (q *Queue) ensureGroup(ctx context.Context, key string) error {
	if _, ok := q.groups.Load(key); ok {
		return nil
	}
	err := q.client.XGroupCreateMkStream(ctx, key, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group %s: %v", domain.ErrTransport, key, err)
	}
	q.groups.Store(key, struct{}{})
	return nil
}

// missingGroup reports a NOGROUP reply, seen after the stream key was lost.
// The cached group is dropped so the next ensureGroup recreates it.
func (q *Queue) missingGroup(key string, err error) bool {
	if err == nil || !strings.Contains(err.Error(), "NOGROUP") {
		return false
	}
	q.groups.Delete(key)
	return true
}

func (q *Queue) Enqueue(ctx context.Context, req ports.Request) error {
	key := requestKey(req.Service, req.Func)
	if err := q.ensureGroup(ctx, key); err != nil {
		return err
	}
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: []interface{}{
			"req_id", req.ReqID,
			"service_name", req.Service,
			"func_name", req.Func,
			"payload", string(req.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: enqueue %s.%s: %v", domain.ErrTransport, req.Service, req.Func, err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, service, fn, consumer string, block time.Duration) (*ports.Delivery, error) {
	key := requestKey(service, fn)
	if block < time.Millisecond {
		block = time.Millisecond
	}
	var (
		res []redis.XStream
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		if err = q.ensureGroup(ctx, key); err != nil {
			return nil, err
		}
		res, err = q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{key, ">"},
			Count:    1,
			Block:    block,
		}).Result()
		if !q.missingGroup(key, err) {
			break
		}
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: dequeue %s.%s: %v", domain.ErrTransport, service, fn, err)
	}
	for _, s := range res {
		for _, msg := range s.Messages {
			return toDelivery(msg), nil
		}
	}
	return nil, nil
}

func (q *Queue) Reclaim(ctx context.Context, service, fn, consumer string, minIdle time.Duration) (*ports.Delivery, error) {
	key := requestKey(service, fn)
	if err := q.ensureGroup(ctx, key); err != nil {
		return nil, err
	}
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   key,
		Group:    consumerGroup,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if q.missingGroup(key, err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reclaim %s.%s: %v", domain.ErrTransport, service, fn, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return toDelivery(msgs[0]), nil
}

func (q *Queue) Ack(ctx context.Context, service, fn, deliveryID string) error {
	key := requestKey(service, fn)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, key, consumerGroup, deliveryID)
		pipe.XDel(ctx, key, deliveryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: ack %s.%s: %v", domain.ErrTransport, service, fn, err)
	}
	return nil
}

func (q *Queue) Respond(ctx context.Context, service, fn string, rsp ports.Response) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: responseKey(service, fn),
		MaxLen: responseStreamCap,
		Approx: true,
		Values: []interface{}{
			"req_id", rsp.ReqID,
			"result", string(rsp.Result),
			"error", rsp.Error,
			"error_kind", rsp.ErrorKind,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: respond %s.%s: %v", domain.ErrTransport, service, fn, err)
	}
	return nil
}

func (q *Queue) TakeResponse(ctx context.Context, service, fn, reqID string) (*ports.Response, error) {
	key := responseKey(service, fn)
	start := "-"
	for {
		msgs, err := q.client.XRangeN(ctx, key, start, "+", responseScanWindow).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: scan responses %s.%s: %v", domain.ErrTransport, service, fn, err)
		}
		for _, msg := range msgs {
			values := stringValues(msg.Values)
			if values["req_id"] != reqID {
				continue
			}
			if delErr := q.client.XDel(ctx, key, msg.ID).Err(); delErr != nil {
				return nil, fmt.Errorf("%w: take response %s.%s: %v", domain.ErrTransport, service, fn, delErr)
			}
			rsp := &ports.Response{
				ReqID:     reqID,
				Error:     values["error"],
				ErrorKind: values["error_kind"],
			}
			if raw := values["result"]; raw != "" {
				rsp.Result = json.RawMessage(raw)
			}
			return rsp, nil
		}
		if int64(len(msgs)) < responseScanWindow {
			return nil, nil
		}
		last, err := domain.ParseEntryID(msgs[len(msgs)-1].ID)
		if err != nil {
			return nil, nil
		}
		start = domain.EntryID{Millis: last.Millis, Seq: last.Seq + 1}.String()
	}
}

func toDelivery(msg redis.XMessage) *ports.Delivery {
	values := stringValues(msg.Values)
	return &ports.Delivery{
		DeliveryID: msg.ID,
		Request: ports.Request{
			ReqID:   values["req_id"],
			Service: values["service_name"],
			Func:    values["func_name"],
			Payload: json.RawMessage(values["payload"]),
		},
	}
}
