package storage

import (
	"context"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
)

// ProtocolStore provides access to the singleton protocol record.
type ProtocolStore interface {
	// Get returns the protocol state. Returns ErrNotFound before initialization.
	Get(ctx context.Context) (*domain.ProtocolState, error)

	// Put creates or replaces the protocol state.
	Put(ctx context.Context, p *domain.ProtocolState) error
}

// PoolStore provides access to pools.
type PoolStore interface {
	// Get retrieves a pool by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id uint64) (*domain.Pool, error)

	// Put creates or replaces a pool.
	Put(ctx context.Context, p *domain.Pool) error

	// List returns all pools ordered by id ASC.
	List(ctx context.Context) ([]*domain.Pool, error)
}

// UserAccountStore provides access to user positions keyed by (pool_id, owner).
type UserAccountStore interface {
	// Get retrieves a user account. Returns ErrNotFound if not exists.
	Get(ctx context.Context, poolID uint64, owner solana.PublicKey) (*domain.UserAccount, error)

	// Put creates or replaces a user account.
	Put(ctx context.Context, u *domain.UserAccount) error

	// ListByPool returns every account of a pool ordered by owner.
	ListByPool(ctx context.Context, poolID uint64) ([]*domain.UserAccount, error)
}

// Tx is a unit of work over ledger records. Records returned by a Tx are
// copies; changes become visible to others only through Put and commit.
type Tx interface {
	Protocol() ProtocolStore
	Pools() PoolStore
	Users() UserAccountStore
}

// Store runs units of work against ledger records.
type Store interface {
	// Atomic runs fn in a transaction. Every Put commits if fn returns nil;
	// otherwise none does.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Close releases resources.
	Close() error
}

// EventStore provides append-only access to committed ledger events.
type EventStore interface {
	// InsertBulk adds events atomically. Fails entire batch on duplicate id.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetByPool retrieves events of a pool within [start, end), ordered by timestamp ASC.
	GetByPool(ctx context.Context, poolID uint64, start, end int64) ([]*domain.Event, error)

	// GetByUser retrieves events of a user within [start, end), ordered by timestamp ASC.
	GetByUser(ctx context.Context, user solana.PublicKey, start, end int64) ([]*domain.Event, error)
}

// NonceStore remembers request nonces per signer so a signed request is
// accepted at most once.
type NonceStore interface {
	// Use records (signer, nonce) until expiresAt. Entries that expired at now
	// are dropped first. Returns ErrDuplicateKey if the pair is still recorded.
	Use(ctx context.Context, signer solana.PublicKey, nonce string, now, expiresAt int64) error
}
