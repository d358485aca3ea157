package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

const defaultPollInterval = 100 * time.Millisecond

// EventLog implements ports.EventLog on a single table. Appends to one
// stream are serialized by a transaction-scoped advisory lock; Tail polls.
type EventLog struct {
	db           *gorm.DB
	pollInterval time.Duration
}

func NewEventLog(db *gorm.DB, pollInterval time.Duration) *EventLog {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &EventLog{db: db, pollInterval: pollInterval}
}

func (l *EventLog) Append(ctx context.Context, stream string, id domain.EntryID, values map[string]string) (domain.EntryID, error) {
	return l.append(ctx, stream, nil, id, values)
}

func (l *EventLog) AppendIf(ctx context.Context, stream string, expectedLast, id domain.EntryID, values map[string]string) (domain.EntryID, error) {
	return l.append(ctx, stream, &expectedLast, id, values)
}

func (l *EventLog) append(ctx context.Context, stream string, expectedLast *domain.EntryID, id domain.EntryID, values map[string]string) (domain.EntryID, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return domain.EntryID{}, fmt.Errorf("%w: encode record: %v", domain.ErrValidation, err)
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if lockErr := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", stream).Error; lockErr != nil {
			return lockErr
		}
		last, lastErr := lastID(tx, stream)
		if lastErr != nil {
			return lastErr
		}
		if expectedLast != nil && last != *expectedLast {
			return fmt.Errorf("%w: stream %s is at %s, expected %s", domain.ErrConflict, stream, last, *expectedLast)
		}
		if !last.Less(id) {
			return ports.ErrStaleID
		}
		return tx.Create(&eventRecordModel{
			Stream:    stream,
			EntryMS:   int64(id.Millis),
			EntrySeq:  int64(id.Seq),
			Fields:    string(raw),
			CreatedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		if errors.Is(err, ports.ErrStaleID) || errors.Is(err, domain.ErrConflict) {
			return domain.EntryID{}, err
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.EntryID{}, ports.ErrStaleID
		}
		return domain.EntryID{}, fmt.Errorf("%w: append %s: %v", domain.ErrTransport, stream, err)
	}
	return id, nil
}

func lastID(tx *gorm.DB, stream string) (domain.EntryID, error) {
	var row eventRecordModel
	err := tx.Select("entry_ms", "entry_seq").
		Where("stream = ?", stream).
		Order("entry_ms DESC").Order("entry_seq DESC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.EntryID{}, nil
	}
	if err != nil {
		return domain.EntryID{}, err
	}
	return domain.EntryID{Millis: uint64(row.EntryMS), Seq: uint64(row.EntrySeq)}, nil
}

func (l *EventLog) Range(ctx context.Context, stream string, after domain.EntryID, count int64) ([]ports.Record, error) {
	var rows []eventRecordModel
	query := l.db.WithContext(ctx).
		Where("stream = ?", stream).
		Where("(entry_ms > ? OR (entry_ms = ? AND entry_seq > ?))", int64(after.Millis), int64(after.Millis), int64(after.Seq)).
		Order("entry_ms ASC").Order("entry_seq ASC")
	if count > 0 {
		query = query.Limit(int(count))
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: range %s: %v", domain.ErrTransport, stream, err)
	}
	out := make([]ports.Record, 0, len(rows))
	for _, row := range rows {
		values := map[string]string{}
		if err := json.Unmarshal([]byte(row.Fields), &values); err != nil {
			return nil, fmt.Errorf("%w: record %d-%d: %v", domain.ErrIntegrity, row.EntryMS, row.EntrySeq, err)
		}
		out = append(out, ports.Record{
			ID:     domain.EntryID{Millis: uint64(row.EntryMS), Seq: uint64(row.EntrySeq)},
			Values: values,
		})
	}
	return out, nil
}

func (l *EventLog) Tail(ctx context.Context, stream string, after domain.EntryID, block time.Duration, count int64) ([]ports.Record, error) {
	deadline := time.Now().Add(block)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		recs, err := l.Range(ctx, stream, after, count)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(recs) > 0 || !time.Now().Before(deadline) {
			return recs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *EventLog) LastID(ctx context.Context, stream string) (domain.EntryID, error) {
	id, err := lastID(l.db.WithContext(ctx), stream)
	if err != nil {
		return domain.EntryID{}, fmt.Errorf("%w: last id %s: %v", domain.ErrTransport, stream, err)
	}
	return id, nil
}
