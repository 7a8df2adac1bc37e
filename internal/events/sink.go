// Package events delivers committed ledger events to their consumers.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/storage"
)

// Sink receives events after the operation that produced them has committed.
type Sink interface {
	Emit(ctx context.Context, e domain.Event) error
}

// Fanout delivers every event to each sink in order. A failing sink does not
// stop delivery to the others.
type Fanout []Sink

// Emit delivers e to all sinks and joins their errors.
func (f Fanout) Emit(ctx context.Context, e domain.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit appends e.
func (r *Recorder) Emit(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogSink writes events to a logger.
type LogSink struct {
	logger logrus.FieldLogger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit logs e.
func (s *LogSink) Emit(_ context.Context, e domain.Event) error {
	fields := logrus.Fields{
		"event_id": e.ID,
		"user":     e.User.String(),
		"pool_id":  e.PoolID,
		"amount":   e.Amount,
	}
	if e.Referrer != nil {
		fields["referrer"] = e.Referrer.String()
	}
	if e.Type == domain.EventSwap {
		fields["direction"] = e.Direction
		fields["received_amount"] = e.ReceivedAmount
	}
	s.logger.WithFields(fields).Info(string(e.Type))
	return nil
}

// StoreSink persists events to an EventStore.
type StoreSink struct {
	store storage.EventStore
}

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store storage.EventStore) *StoreSink {
	return &StoreSink{store: store}
}

// Emit inserts e.
func (s *StoreSink) Emit(ctx context.Context, e domain.Event) error {
	if err := s.store.InsertBulk(ctx, []*domain.Event{&e}); err != nil {
		return fmt.Errorf("store event %s: %w", e.ID, err)
	}
	return nil
}

var (
	_ Sink = Fanout(nil)
	_ Sink = (*Recorder)(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = (*StoreSink)(nil)
)
