package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/martinez099/ordershop/internal/domain"
	"github.com/martinez099/ordershop/internal/ports"
)

const defaultStreamPrefix = "events:"

// appendIfScript appends only while the stream's newest id equals ARGV[1].
var appendIfScript = redis.NewScript(`
local newest = redis.call('XREVRANGE', KEYS[1], '+', '-', 'COUNT', 1)
local last = '0-0'
if #newest > 0 then
  last = newest[1][1]
end
if last ~= ARGV[1] then
  return redis.error_reply('CONFLICT ' .. last)
end
return redis.call('XADD', KEYS[1], ARGV[2], unpack(ARGV, 3))
`)

// StreamLog implements ports.EventLog on Redis streams, one stream per
// topic.
type StreamLog struct {
	client redis.UniversalClient
	prefix string
}

func NewStreamLog(client redis.UniversalClient, prefix string) *StreamLog {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultStreamPrefix
	}
	return &StreamLog{client: client, prefix: prefix}
}

func (l *StreamLog) key(stream string) string {
	return l.prefix + "{" + stream + "}"
}

func (l *StreamLog) Append(ctx context.Context, stream string, id domain.EntryID, values map[string]string) (domain.EntryID, error) {
	added, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.key(stream),
		ID:     id.String(),
		Values: fieldArgs(values),
	}).Result()
	if err != nil {
		return domain.EntryID{}, mapAppendError(stream, err)
	}
	return domain.ParseEntryID(added)
}

func (l *StreamLog) AppendIf(ctx context.Context, stream string, expectedLast, id domain.EntryID, values map[string]string) (domain.EntryID, error) {
	args := append([]interface{}{expectedLast.String(), id.String()}, fieldArgs(values)...)
	res, err := appendIfScript.Run(ctx, l.client, []string{l.key(stream)}, args...).Result()
	if err != nil {
		return domain.EntryID{}, mapAppendError(stream, err)
	}
	added, ok := res.(string)
	if !ok {
		return domain.EntryID{}, fmt.Errorf("%w: unexpected append reply %T", domain.ErrTransport, res)
	}
	return domain.ParseEntryID(added)
}

func mapAppendError(stream string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "equal or smaller"):
		return ports.ErrStaleID
	case strings.Contains(msg, "CONFLICT"):
		return fmt.Errorf("%w: stream %s moved: %s", domain.ErrConflict, stream, msg)
	default:
		return fmt.Errorf("%w: append %s: %v", domain.ErrTransport, stream, err)
	}
}

func (l *StreamLog) Range(ctx context.Context, stream string, after domain.EntryID, count int64) ([]ports.Record, error) {
	start := "-"
	if !after.IsZero() {
		start = domain.EntryID{Millis: after.Millis, Seq: after.Seq + 1}.String()
	}
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = l.client.XRangeN(ctx, l.key(stream), start, "+", count).Result()
	} else {
		msgs, err = l.client.XRange(ctx, l.key(stream), start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: range %s: %v", domain.ErrTransport, stream, err)
	}
	return toRecords(msgs)
}

func (l *StreamLog) Tail(ctx context.Context, stream string, after domain.EntryID, block time.Duration, count int64) ([]ports.Record, error) {
	if block < time.Millisecond {
		block = time.Millisecond
	}
	res, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{l.key(stream), after.String()},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: tail %s: %v", domain.ErrTransport, stream, err)
	}
	var out []ports.Record
	for _, s := range res {
		recs, convErr := toRecords(s.Messages)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (l *StreamLog) LastID(ctx context.Context, stream string) (domain.EntryID, error) {
	msgs, err := l.client.XRevRangeN(ctx, l.key(stream), "+", "-", 1).Result()
	if err != nil {
		return domain.EntryID{}, fmt.Errorf("%w: last id %s: %v", domain.ErrTransport, stream, err)
	}
	if len(msgs) == 0 {
		return domain.EntryID{}, nil
	}
	return domain.ParseEntryID(msgs[0].ID)
}

func toRecords(msgs []redis.XMessage) ([]ports.Record, error) {
	out := make([]ports.Record, 0, len(msgs))
	for _, msg := range msgs {
		id, err := domain.ParseEntryID(msg.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: stream entry %q", domain.ErrIntegrity, msg.ID)
		}
		out = append(out, ports.Record{ID: id, Values: stringValues(msg.Values)})
	}
	return out, nil
}
