package ports

import (
	"context"
	"errors"
	"time"

	"github.com/martinez099/ordershop/internal/domain"
)

// ErrStaleID is returned by Append when the supplied id is not greater than
// the stream's last id. Callers recompute the id and retry.
var ErrStaleID = errors.New("entry id not greater than stream tail")

type Record struct {
	ID     domain.EntryID
	Values map[string]string
}

// EventLog is the durable, ordered, append-and-tail log keyed by stream name.
type EventLog interface {
	Append(ctx context.Context, stream string, id domain.EntryID, values map[string]string) (domain.EntryID, error)
	// AppendIf appends only while the stream's last id equals expectedLast,
	// otherwise it fails with domain.ErrConflict.
	AppendIf(ctx context.Context, stream string, expectedLast, id domain.EntryID, values map[string]string) (domain.EntryID, error)
	// Range returns records with ids greater than after, ascending. A count
	// of zero or less reads to the end of the stream.
	Range(ctx context.Context, stream string, after domain.EntryID, count int64) ([]Record, error)
	// Tail waits up to block for records with ids greater than after and
	// returns an empty slice when none arrive in time.
	Tail(ctx context.Context, stream string, after domain.EntryID, block time.Duration, count int64) ([]Record, error)
	LastID(ctx context.Context, stream string) (domain.EntryID, error)
}
