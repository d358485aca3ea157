// Package eventstore publishes domain events onto the ordered log, tails
// topics for subscribers and answers entity queries by folding history.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
	"github.com/martinez099/ordershop/internal/projection"
)

type Config struct {
	TailBlock     time.Duration
	TailBatch     int64
	RetryDelay    time.Duration
	AppendRetries int
}

func (c Config) withDefaults() Config {
	if c.TailBlock <= 0 {
		c.TailBlock = time.Second
	}
	if c.TailBatch <= 0 {
		c.TailBatch = 100
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.AppendRetries <= 0 {
		c.AppendRetries = 5
	}
	return c
}

type Store struct {
	log    ports.EventLog
	logger *slog.Logger
	cfg    Config
	nowFn  func() time.Time

	rootCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	tails  map[string]*tail
	closed bool

	cacheMu sync.Mutex
	caches  map[string]*projection.Projection
}

type tail struct {
	cancel context.CancelFunc
	subs   map[string]*subscription
}

type subscription struct {
	handler ports.EventHandler
	from    domain.EntryID
}

func New(log ports.EventLog, logger *slog.Logger, cfg Config) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		log:     log,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		nowFn:   time.Now,
		rootCtx: ctx,
		stop:    cancel,
		tails:   map[string]*tail{},
		caches:  map[string]*projection.Projection{},
	}
}

// Log exposes the underlying ordered log.
func (s *Store) Log() ports.EventLog { return s.log }

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Publish appends an event for entity to topic and returns its entry id.
// The event is durable in the log when Publish returns.
func (s *Store) Publish(ctx context.Context, topic string, action domain.Action, entity domain.Entity) (string, error) {
	return s.publish(ctx, topic, action, entity, nil)
}

// PublishIf appends like Publish but only while the topic's newest entry id
// equals expectedLast. It fails with domain.ErrConflict otherwise.
func (s *Store) PublishIf(ctx context.Context, topic string, action domain.Action, entity domain.Entity, expectedLast string) (string, error) {
	expected, err := domain.ParseEntryID(expectedLast)
	if err != nil {
		return "", err
	}
	return s.publish(ctx, topic, action, entity, &expected)
}

func (s *Store) publish(ctx context.Context, topic string, action domain.Action, entity domain.Entity, expected *domain.EntryID) (string, error) {
	if s.isClosed() {
		return "", domain.ErrClosed
	}
	ev, err := domain.NewEvent(topic, action, entity, s.nowFn())
	if err != nil {
		return "", err
	}
	fields, err := ev.Fields()
	if err != nil {
		return "", err
	}
	var last domain.EntryID
	if expected != nil {
		last = *expected
	} else if last, err = s.log.LastID(ctx, ev.Topic); err != nil {
		return "", err
	}
	for attempt := 0; ; attempt++ {
		id := domain.NextEntryID(last, s.nowFn())
		var added domain.EntryID
		if expected != nil {
			added, err = s.log.AppendIf(ctx, ev.Topic, *expected, id, fields)
		} else {
			added, err = s.log.Append(ctx, ev.Topic, id, fields)
		}
		if err == nil {
			return added.String(), nil
		}
		if !errors.Is(err, ports.ErrStaleID) || attempt >= s.cfg.AppendRetries {
			return "", err
		}
		if last, err = s.log.LastID(ctx, ev.Topic); err != nil {
			return "", err
		}
	}
}

// LastEntryID returns the newest entry id of topic, "0-0" for an empty one.
func (s *Store) LastEntryID(ctx context.Context, topic string) (string, error) {
	id, err := s.log.LastID(ctx, topic)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Subscribe registers handler for events appended to topic from now on.
// One tailing task per topic serves all of its handlers.
func (s *Store) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || handler == nil {
		return "", fmt.Errorf("%w: subscribe needs a topic and a handler", domain.ErrValidation)
	}
	from, err := s.log.LastID(ctx, topic)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", domain.ErrClosed
	}
	t, ok := s.tails[topic]
	if !ok {
		tailCtx, cancel := context.WithCancel(s.rootCtx)
		t = &tail{cancel: cancel, subs: map[string]*subscription{}}
		s.tails[topic] = t
		s.wg.Add(1)
		go s.run(tailCtx, topic, t, from)
	}
	id := uuid.NewString()
	t.subs[id] = &subscription{handler: handler, from: from}
	return id, nil
}

// Unsubscribe removes a handler. The topic's tailing task stops once no
// handler is left.
func (s *Store) Unsubscribe(topic, subscriptionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tails[topic]
	if !ok {
		return false
	}
	if _, ok := t.subs[subscriptionID]; !ok {
		return false
	}
	delete(t.subs, subscriptionID)
	if len(t.subs) == 0 {
		t.cancel()
		delete(s.tails, topic)
	}
	return true
}

// Subscriptions reports the number of handlers registered for topic.
func (s *Store) Subscriptions(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tails[topic]; ok {
		return len(t.subs)
	}
	return 0
}

func (s *Store) run(ctx context.Context, topic string, t *tail, cursor domain.EntryID) {
	defer s.wg.Done()
	logger := s.logger.With("module", "eventstore", "layer", "tail", "topic", topic)
	for ctx.Err() == nil {
		records, err := s.log.Tail(ctx, topic, cursor, s.cfg.TailBlock, s.cfg.TailBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnContext(ctx, "tail read failed", "operation", "tail", "outcome", "retry", "error", err)
			s.sleep(ctx)
			continue
		}
		for _, rec := range records {
			ev, decodeErr := domain.EventFromFields(rec.ID.String(), rec.Values)
			if decodeErr != nil {
				logger.ErrorContext(ctx, "undecodable record on topic", "operation", "decode", "outcome", "halted", "entry_id", rec.ID.String(), "error", decodeErr)
				s.sleep(ctx)
				break
			}
			for _, sub := range s.snapshot(t) {
				if !sub.from.Less(rec.ID) {
					continue
				}
				if handleErr := sub.handler(ctx, ev); handleErr != nil {
					logger.ErrorContext(ctx, "event handler failed", "operation", "deliver", "outcome", "failure", "entry_id", rec.ID.String(), "error", handleErr)
				}
			}
			cursor = rec.ID
		}
	}
}

func (s *Store) snapshot(t *tail) []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		out = append(out, sub)
	}
	return out
}

func (s *Store) sleep(ctx context.Context) {
	timer := time.NewTimer(s.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// FindOne returns the current state of one entity. The first query of a
// topic replays its history into a cache that later queries catch up.
func (s *Store) FindOne(ctx context.Context, topic, entityID string) (domain.Entity, error) {
	if err := domain.RequireEntityID(entityID); err != nil {
		return nil, err
	}
	var (
		entity domain.Entity
		found  bool
	)
	err := s.view(ctx, topic, func(set *domain.EntitySet) error {
		entity, found = set.Get(entityID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, topic, entityID)
	}
	return entity, nil
}

// FindAll returns every live entity of topic in creation order.
func (s *Store) FindAll(ctx context.Context, topic string) ([]domain.Entity, error) {
	var out []domain.Entity
	err := s.view(ctx, topic, func(set *domain.EntitySet) error {
		out = set.All()
		return nil
	})
	return out, err
}

func (s *Store) view(ctx context.Context, topic string, fn func(set *domain.EntitySet) error) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: missing topic", domain.ErrValidation)
	}
	s.cacheMu.Lock()
	cache, ok := s.caches[topic]
	if !ok {
		cache = projection.New(topic, s.log)
		s.caches[topic] = cache
	}
	s.cacheMu.Unlock()
	return cache.View(ctx, fn)
}

// ActivateEntityCache keeps a standing fold of topic current through an
// internal subscription. A cache left by an earlier query is reused.
func (s *Store) ActivateEntityCache(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: missing topic", domain.ErrValidation)
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	cache, ok := s.caches[topic]
	if !ok {
		cache = projection.New(topic, s.log)
	}
	if cache.Tracking() {
		return nil
	}
	if err := cache.Track(ctx, s); err != nil {
		cache.Untrack()
		return err
	}
	s.caches[topic] = cache
	return nil
}

func (s *Store) DeactivateEntityCache(topic string) {
	s.cacheMu.Lock()
	cache, ok := s.caches[topic]
	delete(s.caches, topic)
	s.cacheMu.Unlock()
	if ok {
		cache.Untrack()
	}
}

func (s *Store) EntityCacheActive(topic string) bool {
	s.cacheMu.Lock()
	cache, ok := s.caches[topic]
	s.cacheMu.Unlock()
	return ok && cache.Tracking()
}

// Close stops every tailing task and waits for them to exit.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.tails = map[string]*tail{}
	s.mu.Unlock()

	s.cacheMu.Lock()
	s.caches = map[string]*projection.Projection{}
	s.cacheMu.Unlock()

	s.stop()
	s.wg.Wait()
	return nil
}
