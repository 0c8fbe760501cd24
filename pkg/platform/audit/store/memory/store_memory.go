package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	audit "provenance/pkg/platform/audit"
)

// InMemoryStore keeps one append-only log of audit events with a per-serial
// index into it. Event IDs are unique, as in the Postgres store.
type InMemoryStore struct {
	mu       sync.RWMutex
	log      []audit.Event
	bySerial map[string][]int
	ids      map[uuid.UUID]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	s.reset()
	return s
}

func (s *InMemoryStore) reset() {
	s.log = nil
	s.bySerial = make(map[string][]int)
	s.ids = make(map[uuid.UUID]struct{})
}

// Clear drops every stored event.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID != uuid.Nil {
		if _, dup := s.ids[event.ID]; dup {
			return fmt.Errorf("append audit event %s: duplicate id %s", event.Action, event.ID)
		}
		s.ids[event.ID] = struct{}{}
	}
	s.bySerial[event.SerialNumber] = append(s.bySerial[event.SerialNumber], len(s.log))
	s.log = append(s.log, event)
	return nil
}

// ListBySerial returns copies of the events for serialNumber in append order.
func (s *InMemoryStore) ListBySerial(_ context.Context, serialNumber string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := s.bySerial[serialNumber]
	events := make([]audit.Event, 0, len(positions))
	for _, pos := range positions {
		events = append(events, s.log[pos])
	}
	return events, nil
}

// Len returns the total number of stored events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}
