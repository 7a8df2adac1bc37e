package clickhouse

import (
	"context"
	"fmt"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// InsertBulk adds events in one batch. Fails entire batch on duplicate id.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[e.ID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[e.ID] = struct{}{}
		ids = append(ids, e.ID)
	}

	// MergeTree does not enforce uniqueness; check existing rows first.
	var existing uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM ledger_events WHERE id IN ?`, ids).Scan(&existing); err != nil {
		return fmt.Errorf("check existing ids: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			id, event_type, user_key, pool_id, amount, referrer, direction, received_amount, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		var referrer *string
		if e.Referrer != nil {
			r := e.Referrer.String()
			referrer = &r
		}
		var direction uint8
		if e.Direction {
			direction = 1
		}

		err = batch.Append(
			e.ID, string(e.Type), e.User.String(), e.PoolID, e.Amount,
			referrer, direction, e.ReceivedAmount, e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPool retrieves events of a pool within [start, end).
func (s *EventStore) GetByPool(ctx context.Context, poolID uint64, start, end int64) ([]*domain.Event, error) {
	return s.query(ctx, `pool_id = ?`, poolID, start, end)
}

// GetByUser retrieves events of a user within [start, end).
func (s *EventStore) GetByUser(ctx context.Context, user solana.PublicKey, start, end int64) ([]*domain.Event, error) {
	return s.query(ctx, `user_key = ?`, user.String(), start, end)
}

func (s *EventStore) query(ctx context.Context, where string, key any, start, end int64) ([]*domain.Event, error) {
	query := `
		SELECT id, event_type, user_key, pool_id, amount, referrer, direction, received_amount, timestamp
		FROM ledger_events FINAL
		WHERE ` + where + ` AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, key, start, end)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []*domain.Event
	for rows.Next() {
		var (
			e         domain.Event
			eventType string
			user      string
			referrer  *string
			direction uint8
		)
		if err := rows.Scan(
			&e.ID, &eventType, &user, &e.PoolID, &e.Amount,
			&referrer, &direction, &e.ReceivedAmount, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Type = domain.EventType(eventType)
		e.Direction = direction == 1
		if e.User, err = solana.ParsePublicKey(user); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		if referrer != nil {
			r, err := solana.ParsePublicKey(*referrer)
			if err != nil {
				return nil, fmt.Errorf("decode referrer: %w", err)
			}
			e.Referrer = &r
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return result, nil
}
