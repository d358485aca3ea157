package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

// EventLog is an in-process ports.EventLog. Appends wake blocked tails by
// closing the stream's notify channel.
type EventLog struct {
	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	records []ports.Record
	notify  chan struct{}
}

func NewEventLog() *EventLog {
	return &EventLog{streams: map[string]*stream{}}
}

func (l *EventLog) stream(name string) *stream {
	s, ok := l.streams[name]
	if !ok {
		s = &stream{notify: make(chan struct{})}
		l.streams[name] = s
	}
	return s
}

func (s *stream) last() domain.EntryID {
	if len(s.records) == 0 {
		return domain.EntryID{}
	}
	return s.records[len(s.records)-1].ID
}

func (s *stream) append(id domain.EntryID, values map[string]string) {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s.records = append(s.records, ports.Record{ID: id, Values: copied})
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *stream) after(id domain.EntryID, count int64) []ports.Record {
	start := sort.Search(len(s.records), func(i int) bool { return id.Less(s.records[i].ID) })
	end := len(s.records)
	if count > 0 && int64(end-start) > count {
		end = start + int(count)
	}
	out := make([]ports.Record, 0, end-start)
	for _, rec := range s.records[start:end] {
		values := make(map[string]string, len(rec.Values))
		for k, v := range rec.Values {
			values[k] = v
		}
		out = append(out, ports.Record{ID: rec.ID, Values: values})
	}
	return out
}

func (l *EventLog) Append(_ context.Context, name string, id domain.EntryID, values map[string]string) (domain.EntryID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stream(name)
	if !s.last().Less(id) {
		return domain.EntryID{}, ports.ErrStaleID
	}
	s.append(id, values)
	return id, nil
}

func (l *EventLog) AppendIf(_ context.Context, name string, expectedLast, id domain.EntryID, values map[string]string) (domain.EntryID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stream(name)
	if last := s.last(); last != expectedLast {
		return domain.EntryID{}, fmt.Errorf("%w: stream %s is at %s, expected %s", domain.ErrConflict, name, last, expectedLast)
	}
	if !s.last().Less(id) {
		return domain.EntryID{}, ports.ErrStaleID
	}
	s.append(id, values)
	return id, nil
}

func (l *EventLog) Range(_ context.Context, name string, after domain.EntryID, count int64) ([]ports.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream(name).after(after, count), nil
}

func (l *EventLog) Tail(ctx context.Context, name string, after domain.EntryID, block time.Duration, count int64) ([]ports.Record, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()
	for {
		l.mu.Lock()
		s := l.stream(name)
		recs := s.after(after, count)
		notify := s.notify
		l.mu.Unlock()
		if len(recs) > 0 {
			return recs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (l *EventLog) LastID(_ context.Context, name string) (domain.EntryID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream(name).last(), nil
}
