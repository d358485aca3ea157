package domain

import "fmt"

// EntitySet is the fold state of one topic: entity_id -> entity, kept in
// creation order. It is not safe for concurrent use.
type EntitySet struct {
	byID  map[string]Entity
	order []string
}

func NewEntitySet() *EntitySet {
	return &EntitySet{byID: map[string]Entity{}}
}

// Apply folds one event. A create on an existing id, or an update or delete
// on a missing id, is an integrity violation and leaves the set unchanged.
func (s *EntitySet) Apply(ev Event) error {
	id := ev.Entity.ID()
	if id == "" {
		return fmt.Errorf("%w: %s event %s without %s", ErrIntegrity, ev.Topic, ev.ID, FieldEntityID)
	}
	_, exists := s.byID[id]
	switch ev.Action {
	case ActionCreated:
		if exists {
			return fmt.Errorf("%w: %s %s created twice (event %s)", ErrIntegrity, ev.Topic, id, ev.ID)
		}
		s.byID[id] = ev.Entity.Clone()
		s.order = append(s.order, id)
	case ActionUpdated:
		if !exists {
			return fmt.Errorf("%w: %s %s updated before creation (event %s)", ErrIntegrity, ev.Topic, id, ev.ID)
		}
		s.byID[id] = ev.Entity.Clone()
	case ActionDeleted:
		if !exists {
			return fmt.Errorf("%w: %s %s deleted before creation (event %s)", ErrIntegrity, ev.Topic, id, ev.ID)
		}
		delete(s.byID, id)
		for i, cur := range s.order {
			if cur == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	default:
		return fmt.Errorf("%w: %s event %s has action %q", ErrIntegrity, ev.Topic, ev.ID, ev.Action)
	}
	return nil
}

func (s *EntitySet) Get(id string) (Entity, bool) {
	e, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (s *EntitySet) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *EntitySet) All() []Entity {
	out := make([]Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

func (s *EntitySet) Len() int { return len(s.order) }

// Fold replays events in order from empty state.
func Fold(events []Event) (*EntitySet, error) {
	set := NewEntitySet()
	for _, ev := range events {
		if err := set.Apply(ev); err != nil {
			return nil, err
		}
	}
	return set, nil
}
