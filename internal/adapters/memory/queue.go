package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/martinez099/ordershop/internal/ports"
)

// defaultResponseCap bounds the untaken responses kept per pair, like the
// MaxLen of the Redis response stream.
const defaultResponseCap = 10000

// Queue is an in-process ports.Queue with the same claim/ack/reclaim
// semantics as the Redis consumer-group queue.
type Queue struct {
	mu          sync.Mutex
	queues      map[string]*requestQueue
	responses   map[string]*responseBox
	responseCap int
	nowFn       func() time.Time
}

// responseBox holds the untaken responses of a pair. order is the arrival
// order used to drop the oldest once the box is over capacity; it may
// still list ids that were taken.
type responseBox struct {
	byID  map[string]ports.Response
	order []string
}

func (b *responseBox) put(rsp ports.Response, limit int) {
	if _, dup := b.byID[rsp.ReqID]; dup {
		return
	}
	b.byID[rsp.ReqID] = rsp
	b.order = append(b.order, rsp.ReqID)
	for len(b.order) > 0 {
		oldest := b.order[0]
		_, present := b.byID[oldest]
		if present && len(b.byID) <= limit {
			break
		}
		delete(b.byID, oldest)
		b.order = b.order[1:]
	}
	if len(b.order) > 2*limit {
		kept := make([]string, 0, len(b.byID))
		for _, id := range b.order {
			if _, ok := b.byID[id]; ok {
				kept = append(kept, id)
			}
		}
		b.order = kept
	}
}

type requestQueue struct {
	seq      int64
	ready    []ports.Delivery
	inflight map[string]*claim
	notify   chan struct{}
}

type claim struct {
	delivery  ports.Delivery
	consumer  string
	claimedAt time.Time
	order     int64
}

func NewQueue() *Queue {
	return &Queue{
		queues:      map[string]*requestQueue{},
		responses:   map[string]*responseBox{},
		responseCap: defaultResponseCap,
		nowFn:       time.Now,
	}
}

func queueKey(service, fn string) string { return service + "." + fn }

func (q *Queue) queue(service, fn string) *requestQueue {
	key := queueKey(service, fn)
	rq, ok := q.queues[key]
	if !ok {
		rq = &requestQueue{inflight: map[string]*claim{}, notify: make(chan struct{})}
		q.queues[key] = rq
	}
	return rq
}

func (q *Queue) Enqueue(_ context.Context, req ports.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rq := q.queue(req.Service, req.Func)
	rq.seq++
	rq.ready = append(rq.ready, ports.Delivery{DeliveryID: strconv.FormatInt(rq.seq, 10), Request: req})
	close(rq.notify)
	rq.notify = make(chan struct{})
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, service, fn, consumer string, block time.Duration) (*ports.Delivery, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()
	for {
		q.mu.Lock()
		rq := q.queue(service, fn)
		if len(rq.ready) > 0 {
			d := rq.ready[0]
			rq.ready = rq.ready[1:]
			order, _ := strconv.ParseInt(d.DeliveryID, 10, 64)
			rq.inflight[d.DeliveryID] = &claim{delivery: d, consumer: consumer, claimedAt: q.nowFn(), order: order}
			q.mu.Unlock()
			return &d, nil
		}
		notify := rq.notify
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (q *Queue) Reclaim(_ context.Context, service, fn, consumer string, minIdle time.Duration) (*ports.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rq := q.queue(service, fn)
	now := q.nowFn()
	var oldest *claim
	for _, c := range rq.inflight {
		if now.Sub(c.claimedAt) < minIdle {
			continue
		}
		if oldest == nil || c.order < oldest.order {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.consumer = consumer
	oldest.claimedAt = now
	d := oldest.delivery
	return &d, nil
}

func (q *Queue) Ack(_ context.Context, service, fn, deliveryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queue(service, fn).inflight, deliveryID)
	return nil
}

// Pending reports how many requests of the pair are claimed but unacknowledged.
func (q *Queue) Pending(service, fn string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue(service, fn).inflight)
}

func (q *Queue) Respond(_ context.Context, service, fn string, rsp ports.Response) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := queueKey(service, fn)
	box, ok := q.responses[key]
	if !ok {
		box = &responseBox{byID: map[string]ports.Response{}}
		q.responses[key] = box
	}
	box.put(rsp, q.responseCap)
	return nil
}

func (q *Queue) TakeResponse(_ context.Context, service, fn, reqID string) (*ports.Response, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	box, ok := q.responses[queueKey(service, fn)]
	if !ok {
		return nil, nil
	}
	rsp, ok := box.byID[reqID]
	if !ok {
		return nil, nil
	}
	delete(box.byID, reqID)
	return &rsp, nil
}
