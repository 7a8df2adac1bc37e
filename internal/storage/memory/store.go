package memory

import (
	"context"
	"sort"
	"sync"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// userKey is the composite key of a user account.
type userKey struct {
	PoolID uint64
	Owner  solana.PublicKey
}

// Store is an in-memory implementation of storage.Store.
// Transactions are serialized; writes are staged and applied on success.
type Store struct {
	mu       sync.RWMutex
	protocol *domain.ProtocolState
	pools    map[uint64]*domain.Pool
	users    map[userKey]*domain.UserAccount
}

// NewStore creates an empty in-memory ledger store.
func NewStore() *Store {
	return &Store{
		pools: make(map[uint64]*domain.Pool),
		users: make(map[userKey]*domain.UserAccount),
	}
}

// Atomic runs fn with exclusive access and applies its writes if it succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := newTx(s, false)
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// View runs fn against the current state. Puts fail with ErrReadOnly.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(newTx(s, true))
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// tx stages writes on top of the store.
type tx struct {
	store    *Store
	readOnly bool
	protocol *domain.ProtocolState
	pools    map[uint64]*domain.Pool
	users    map[userKey]*domain.UserAccount
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		store:    s,
		readOnly: readOnly,
		pools:    make(map[uint64]*domain.Pool),
		users:    make(map[userKey]*domain.UserAccount),
	}
}

func (t *tx) commit() {
	if t.protocol != nil {
		t.store.protocol = t.protocol
	}
	for id, p := range t.pools {
		t.store.pools[id] = p
	}
	for k, u := range t.users {
		t.store.users[k] = u
	}
}

func (t *tx) Protocol() storage.ProtocolStore { return protocolStore{t} }
func (t *tx) Pools() storage.PoolStore         { return poolStore{t} }
func (t *tx) Users() storage.UserAccountStore  { return userStore{t} }

type protocolStore struct{ t *tx }

func (s protocolStore) Get(_ context.Context) (*domain.ProtocolState, error) {
	p := s.t.protocol
	if p == nil {
		p = s.t.store.protocol
	}
	if p == nil {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s protocolStore) Put(_ context.Context, p *domain.ProtocolState) error {
	if p == nil {
		return storage.ErrInvalidInput
	}
	if s.t.readOnly {
		return storage.ErrReadOnly
	}
	s.t.protocol = p.Clone()
	return nil
}

type poolStore struct{ t *tx }

func (s poolStore) lookup(id uint64) (*domain.Pool, bool) {
	if p, ok := s.t.pools[id]; ok {
		return p, true
	}
	p, ok := s.t.store.pools[id]
	return p, ok
}

func (s poolStore) Get(_ context.Context, id uint64) (*domain.Pool, error) {
	p, ok := s.lookup(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s poolStore) Put(_ context.Context, p *domain.Pool) error {
	if p == nil {
		return storage.ErrInvalidInput
	}
	if s.t.readOnly {
		return storage.ErrReadOnly
	}
	s.t.pools[p.ID] = p.Clone()
	return nil
}

func (s poolStore) List(_ context.Context) ([]*domain.Pool, error) {
	ids := make(map[uint64]struct{}, len(s.t.store.pools)+len(s.t.pools))
	for id := range s.t.store.pools {
		ids[id] = struct{}{}
	}
	for id := range s.t.pools {
		ids[id] = struct{}{}
	}

	result := make([]*domain.Pool, 0, len(ids))
	for id := range ids {
		p, _ := s.lookup(id)
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type userStore struct{ t *tx }

func (s userStore) lookup(k userKey) (*domain.UserAccount, bool) {
	if u, ok := s.t.users[k]; ok {
		return u, true
	}
	u, ok := s.t.store.users[k]
	return u, ok
}

func (s userStore) Get(_ context.Context, poolID uint64, owner solana.PublicKey) (*domain.UserAccount, error) {
	u, ok := s.lookup(userKey{PoolID: poolID, Owner: owner})
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u.Clone(), nil
}

func (s userStore) Put(_ context.Context, u *domain.UserAccount) error {
	if u == nil {
		return storage.ErrInvalidInput
	}
	if s.t.readOnly {
		return storage.ErrReadOnly
	}
	s.t.users[userKey{PoolID: u.PoolID, Owner: u.Owner}] = u.Clone()
	return nil
}

func (s userStore) ListByPool(_ context.Context, poolID uint64) ([]*domain.UserAccount, error) {
	keys := make(map[userKey]struct{})
	for k := range s.t.store.users {
		if k.PoolID == poolID {
			keys[k] = struct{}{}
		}
	}
	for k := range s.t.users {
		if k.PoolID == poolID {
			keys[k] = struct{}{}
		}
	}

	result := make([]*domain.UserAccount, 0, len(keys))
	for k := range keys {
		u, _ := s.lookup(k)
		result = append(result, u.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Owner.String() < result[j].Owner.String()
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.Store = (*Store)(nil)
