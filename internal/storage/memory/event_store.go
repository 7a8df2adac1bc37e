package memory

import (
	"context"
	"sort"
	"sync"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data []*domain.Event
	ids  map[string]bool
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make([]*domain.Event, 0),
		ids:  make(map[string]bool),
	}
}

// InsertBulk adds events atomically. Fails entire batch on any duplicate id.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]bool, len(events))
	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if s.ids[e.ID] || batch[e.ID] {
			return storage.ErrDuplicateKey
		}
		batch[e.ID] = true
	}

	for _, e := range events {
		copy := *e
		s.data = append(s.data, &copy)
		s.ids[e.ID] = true
	}
	return nil
}

// GetByPool retrieves events of a pool within [start, end).
func (s *EventStore) GetByPool(_ context.Context, poolID uint64, start, end int64) ([]*domain.Event, error) {
	return s.filter(func(e *domain.Event) bool {
		return e.PoolID == poolID && e.Timestamp >= start && e.Timestamp < end
	}), nil
}

// GetByUser retrieves events of a user within [start, end).
func (s *EventStore) GetByUser(_ context.Context, user solana.PublicKey, start, end int64) ([]*domain.Event, error) {
	return s.filter(func(e *domain.Event) bool {
		return e.User == user && e.Timestamp >= start && e.Timestamp < end
	}), nil
}

func (s *EventStore) filter(match func(*domain.Event) bool) []*domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.data {
		if match(e) {
			copy := *e
			result = append(result, &copy)
		}
	}

	// Stable keeps insertion order within one timestamp.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
