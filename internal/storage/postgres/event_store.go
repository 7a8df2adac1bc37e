package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// InsertBulk adds events atomically. Fails entire batch on any duplicate id.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO ledger_events (
			id, event_type, user_key, pool_id, amount, referrer, direction, received_amount, timestamp
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8::text::numeric, $9)
	`

	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		var referrer *string
		if e.Referrer != nil {
			r := e.Referrer.String()
			referrer = &r
		}

		_, err := tx.Exec(ctx, query,
			e.ID,
			string(e.Type),
			e.User.String(),
			int64(e.PoolID),
			strconv.FormatUint(e.Amount, 10),
			referrer,
			e.Direction,
			strconv.FormatUint(e.ReceivedAmount, 10),
			e.Timestamp,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByPool retrieves events of a pool within [start, end).
func (s *EventStore) GetByPool(ctx context.Context, poolID uint64, start, end int64) ([]*domain.Event, error) {
	rows, err := s.pool.Query(ctx, selectEvents+`
		WHERE pool_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, created_at ASC
	`, int64(poolID), start, end)
	if err != nil {
		return nil, fmt.Errorf("get events by pool: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByUser retrieves events of a user within [start, end).
func (s *EventStore) GetByUser(ctx context.Context, user solana.PublicKey, start, end int64) ([]*domain.Event, error) {
	rows, err := s.pool.Query(ctx, selectEvents+`
		WHERE user_key = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, created_at ASC
	`, user.String(), start, end)
	if err != nil {
		return nil, fmt.Errorf("get events by user: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

const selectEvents = `
	SELECT id, event_type, user_key, pool_id, amount::text, referrer, direction, received_amount::text, timestamp
	FROM ledger_events
`

// scanEvents scans multiple rows into a slice of Event.
func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		var (
			e         domain.Event
			eventType string
			user      string
			poolID    int64
			amount    string
			referrer  *string
			received  string
		)
		err := rows.Scan(&e.ID, &eventType, &user, &poolID, &amount, &referrer, &e.Direction, &received, &e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Type = domain.EventType(eventType)
		e.PoolID = uint64(poolID)
		if e.User, err = solana.ParsePublicKey(user); err != nil {
			return nil, err
		}
		if e.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if e.ReceivedAmount, err = strconv.ParseUint(received, 10, 64); err != nil {
			return nil, fmt.Errorf("parse received amount: %w", err)
		}
		if referrer != nil {
			r, err := solana.ParsePublicKey(*referrer)
			if err != nil {
				return nil, err
			}
			e.Referrer = &r
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
