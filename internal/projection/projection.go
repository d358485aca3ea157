// Package projection keeps a topic's entity set folded from the event log,
// first by replay and then incrementally from a live subscription.
package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

// Projection is safe for concurrent use. Every record is applied at most
// once: records at or below the cursor are skipped, which makes the replay,
// the subscription and catch-up reads free to overlap.
type Projection struct {
	topic string
	log   ports.EventLog

	mu     sync.Mutex
	set    *domain.EntitySet
	cursor domain.EntryID
	err    error
	loaded bool
	subID  string
	sub    ports.EventSubscriber
}

func New(topic string, log ports.EventLog) *Projection {
	return &Projection{topic: topic, log: log, set: domain.NewEntitySet()}
}

func (p *Projection) Topic() string { return p.topic }

// Load replays history once. Later calls only return a stored fold error.
func (p *Projection) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(ctx)
}

func (p *Projection) loadLocked(ctx context.Context) error {
	if p.err != nil {
		return p.err
	}
	if p.loaded {
		return nil
	}
	if err := p.catchUpLocked(ctx); err != nil {
		return err
	}
	p.loaded = true
	return nil
}

// Track loads the projection and keeps it current through sub. The replay,
// the subscription and the catch-up read all happen under the projection
// lock, so no record appended in between is missed.
func (p *Projection) Track(ctx context.Context, sub ports.EventSubscriber) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subID != "" {
		return p.err
	}
	if err := p.loadLocked(ctx); err != nil {
		return err
	}
	id, err := sub.Subscribe(ctx, p.topic, p.handle)
	if err != nil {
		return err
	}
	p.subID = id
	p.sub = sub
	return p.catchUpLocked(ctx)
}

// Untrack stops the live subscription. The folded state is kept.
func (p *Projection) Untrack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subID == "" {
		return
	}
	p.sub.Unsubscribe(p.topic, p.subID)
	p.subID = ""
	p.sub = nil
}

func (p *Projection) Tracking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subID != ""
}

func (p *Projection) handle(_ context.Context, ev domain.Event) error {
	id, err := domain.ParseEntryID(ev.EntryID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applyLocked(id, ev)
}

func (p *Projection) applyLocked(id domain.EntryID, ev domain.Event) error {
	if p.err != nil {
		return p.err
	}
	if !p.cursor.Less(id) {
		return nil
	}
	if err := p.set.Apply(ev); err != nil {
		p.err = fmt.Errorf("topic %s at %s: %w", p.topic, id, err)
		return p.err
	}
	p.cursor = id
	return nil
}

func (p *Projection) catchUpLocked(ctx context.Context) error {
	records, err := p.log.Range(ctx, p.topic, p.cursor, 0)
	if err != nil {
		return err
	}
	for _, rec := range records {
		ev, decodeErr := domain.EventFromFields(rec.ID.String(), rec.Values)
		if decodeErr != nil {
			p.err = fmt.Errorf("topic %s: %w", p.topic, decodeErr)
			return p.err
		}
		if applyErr := p.applyLocked(rec.ID, ev); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// View loads the projection, applies any records appended since the last
// applied one, and calls fn with the current set under the lock. fn must
// not retain the set.
func (p *Projection) View(ctx context.Context, fn func(set *domain.EntitySet) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadLocked(ctx); err != nil {
		return err
	}
	if err := p.catchUpLocked(ctx); err != nil {
		return err
	}
	return fn(p.set)
}

func (p *Projection) Cursor() domain.EntryID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
