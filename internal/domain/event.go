package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted:
		return true
	default:
		return false
	}
}

// Wire field names of an event record on the log.
const (
	FieldEventID     = "event_id"
	FieldEventTopic  = "event_topic"
	FieldEventAction = "event_action"
	FieldEventEntity = "event_entity"
	FieldEventTS     = "event_ts"
)

type Event struct {
	ID      string  `json:"event_id"`
	Topic   string  `json:"event_topic"`
	Action  Action  `json:"event_action"`
	Entity  Entity  `json:"event_entity"`
	TS      float64 `json:"event_ts"`
	EntryID string  `json:"entry_id,omitempty"`
}

func NewEvent(topic string, action Action, entity Entity, now time.Time) (Event, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, fmt.Errorf("%w: missing topic", ErrValidation)
	}
	if !action.Valid() {
		return Event{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}
	if entity.ID() == "" {
		return Event{}, fmt.Errorf("%w: entity without %s", ErrValidation, FieldEntityID)
	}
	return Event{
		ID:     uuid.NewString(),
		Topic:  topic,
		Action: action,
		Entity: entity.Clone(),
		TS:     float64(now.UnixMicro()) / 1e6,
	}, nil
}

func (e Event) Fields() (map[string]string, error) {
	raw, err := json.Marshal(e.Entity)
	if err != nil {
		return nil, fmt.Errorf("%w: encode entity: %v", ErrValidation, err)
	}
	return map[string]string{
		FieldEventID:     e.ID,
		FieldEventTopic:  e.Topic,
		FieldEventAction: string(e.Action),
		FieldEventEntity: string(raw),
		FieldEventTS:     strconv.FormatFloat(e.TS, 'f', 6, 64),
	}, nil
}

// EventFromFields decodes a log record. A record that cannot be decoded is
// a corrupted history, so it reports ErrIntegrity.
func EventFromFields(entryID string, fields map[string]string) (Event, error) {
	ev := Event{
		ID:      fields[FieldEventID],
		Topic:   fields[FieldEventTopic],
		Action:  Action(fields[FieldEventAction]),
		EntryID: entryID,
	}
	if !ev.Action.Valid() {
		return Event{}, fmt.Errorf("%w: record %s has action %q", ErrIntegrity, entryID, ev.Action)
	}
	if err := json.Unmarshal([]byte(fields[FieldEventEntity]), &ev.Entity); err != nil {
		return Event{}, fmt.Errorf("%w: record %s entity: %v", ErrIntegrity, entryID, err)
	}
	if ev.Entity.ID() == "" {
		return Event{}, fmt.Errorf("%w: record %s entity without %s", ErrIntegrity, entryID, FieldEntityID)
	}
	if raw := fields[FieldEventTS]; raw != "" {
		ts, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Event{}, fmt.Errorf("%w: record %s ts: %v", ErrIntegrity, entryID, err)
		}
		ev.TS = ts
	}
	return ev, nil
}
