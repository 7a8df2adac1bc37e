package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// Store implements storage.Store on PostgreSQL.
// Records are kept as JSONB documents next to a few queryable columns.
// Reads inside Atomic take row locks (SELECT ... FOR UPDATE) so operations on
// the same protocol, pool or user serialize until commit.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Atomic runs fn inside a read-committed transaction with row locks.
func (s *Store) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&tx{q: pgTx, lock: true}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// View runs fn inside a read-only repeatable-read transaction.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	return fn(&tx{q: pgTx, readOnly: true})
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type tx struct {
	q        pgx.Tx
	lock     bool
	readOnly bool
}

func (t *tx) Protocol() storage.ProtocolStore { return protocolStore{t} }
func (t *tx) Pools() storage.PoolStore         { return poolStore{t} }
func (t *tx) Users() storage.UserAccountStore  { return userStore{t} }

func (t *tx) forUpdate() string {
	if t.lock {
		return " FOR UPDATE"
	}
	return ""
}

// getDoc loads one JSONB document into dst.
func (t *tx) getDoc(ctx context.Context, query string, dst any, args ...any) error {
	var data []byte
	if err := t.q.QueryRow(ctx, query+t.forUpdate(), args...).Scan(&data); err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

type protocolStore struct{ t *tx }

func (s protocolStore) Get(ctx context.Context) (*domain.ProtocolState, error) {
	var p domain.ProtocolState
	if err := s.t.getDoc(ctx, `SELECT data FROM protocol_state WHERE id = 1`, &p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get protocol state: %w", err)
	}
	return &p, nil
}

func (s protocolStore) Put(ctx context.Context, p *domain.ProtocolState) error {
	if p == nil {
		return storage.ErrInvalidInput
	}
	if s.t.readOnly {
		return storage.ErrReadOnly
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode protocol state: %w", err)
	}

	_, err = s.t.q.Exec(ctx, `
		INSERT INTO protocol_state (id, owner, governance, pool_count, data, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET owner = EXCLUDED.owner,
		    governance = EXCLUDED.governance,
		    pool_count = EXCLUDED.pool_count,
		    data = EXCLUDED.data,
		    updated_at = NOW()
	`, p.Owner.String(), p.Governance.String(), int64(p.PoolCount), data)
	if err != nil {
		return fmt.Errorf("put protocol state: %w", err)
	}
	return nil
}

type poolStore struct{ t *tx }

func (s poolStore) Get(ctx context.Context, id uint64) (*domain.Pool, error) {
	var p domain.Pool
	if err := s.t.getDoc(ctx, `SELECT data FROM pools WHERE id = $1`, &p, int64(id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get pool %d: %w", id, err)
	}
	return &p, nil
}

func (s poolStore) Put(ctx context.Context, p *domain.Pool) error {
	if p == nil {
		return storage.ErrInvalidInput
	}
	if s.t.readOnly {
		return storage.ErrReadOnly
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pool: %w", err)
	}

	_, err = s.t.q.Exec(ctx, `
		INSERT INTO pools (id, deposit_token, reward_token, swap_enabled, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET swap_enabled = EXCLUDED.swap_enabled,
		    data = EXCLUDED.data,
		    updated_at = NOW()
	`, int64(p.ID), p.DepositToken.String(), p.RewardToken.String(), p.SwapEnabled, data)
	if err != nil {
		return fmt.Errorf("put pool %d: %w", p.ID, err)
	}
	return nil
}

func (s poolStore) List(ctx context.Context) ([]*domain.Pool, error) {
	rows, err := s.t.q.Query(ctx, `SELECT data FROM pools ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	return scanDocs[domain.Pool](rows)
}

type userStore struct{ t *tx }

func (s userStore) Get(ctx context.Context, poolID uint64, owner solana.PublicKey) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.t.getDoc(ctx, `SELECT data FROM user_accounts WHERE pool_id = $1 AND owner = $2`,
		&u, int64(poolID), owner.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get user account: %w", err)
	}
	return &u, nil
}

func (s userStore) Put(ctx context.Context, u *domain.UserAccount) error {
	if u == nil {
		return storage.ErrInvalidInput
	}
	if s.t.readOnly {
		return storage.ErrReadOnly
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user account: %w", err)
	}

	// Amounts are u64; NUMERIC keeps them exact for reporting queries.
	_, err = s.t.q.Exec(ctx, `
		INSERT INTO user_accounts (pool_id, owner, balance, pending_reward, total_claimed, data, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6, NOW())
		ON CONFLICT (pool_id, owner) DO UPDATE
		SET balance = EXCLUDED.balance,
		    pending_reward = EXCLUDED.pending_reward,
		    total_claimed = EXCLUDED.total_claimed,
		    data = EXCLUDED.data,
		    updated_at = NOW()
	`,
		int64(u.PoolID),
		u.Owner.String(),
		strconv.FormatUint(u.Balance, 10),
		strconv.FormatUint(u.PendingReward, 10),
		strconv.FormatUint(u.TotalClaimed, 10),
		data,
	)
	if err != nil {
		return fmt.Errorf("put user account: %w", err)
	}
	return nil
}

func (s userStore) ListByPool(ctx context.Context, poolID uint64) ([]*domain.UserAccount, error) {
	rows, err := s.t.q.Query(ctx, `
		SELECT data FROM user_accounts
		WHERE pool_id = $1
		ORDER BY owner ASC
	`, int64(poolID))
	if err != nil {
		return nil, fmt.Errorf("list user accounts: %w", err)
	}
	defer rows.Close()

	return scanDocs[domain.UserAccount](rows)
}

// scanDocs decodes every JSONB row into a slice of T.
func scanDocs[T any](rows pgx.Rows) ([]*T, error) {
	var result []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		result = append(result, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
