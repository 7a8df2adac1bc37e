package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	pk[31] = 1
	return pk
}

func TestStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	protocol := domain.NewProtocolState(key(1), 253)
	protocol.PoolCount = 1
	require.NoError(t, protocol.Approve(key(2), domain.ApproveBoth))
	protocol.SetupReferrer(key(2), key(3))

	p := &domain.Pool{
		ID:             0,
		DepositToken:   key(10),
		RewardToken:    key(11),
		RewardDecimals: 9,
		MinimumDeposit: 100,
		LockPeriod:     86400,
		SwapEnabled:    true,
		Rates:          domain.NewRateHistory(0, 1_000_000),
		APYs:           domain.NewRateHistory(0, 3650),
	}
	p.Rates.Set(86400, 500_000)

	u := domain.NewUserAccount(0, key(2))
	u.Balance = 18_000_000_000_000_000_000
	u.Deposits = []domain.Deposit{{Amount: 18_000_000_000_000_000_000, CreatedAt: 10, LockedUntil: 86410}}
	u.Referrer = key(3)

	err := store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.Protocol().Put(ctx, protocol); err != nil {
			return err
		}
		if err := tx.Pools().Put(ctx, p); err != nil {
			return err
		}
		return tx.Users().Put(ctx, u)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx storage.Tx) error {
		gotProtocol, err := tx.Protocol().Get(ctx)
		require.NoError(t, err)
		assert.True(t, gotProtocol.CanWithdraw(key(2)))
		ref, ok := gotProtocol.ReferrerOf(key(2))
		assert.True(t, ok)
		assert.Equal(t, key(3), ref)

		gotPool, err := tx.Pools().Get(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(500_000), gotPool.RateAt(86400))
		assert.Equal(t, uint64(1_000_000), gotPool.RateAt(0))
		assert.Equal(t, uint64(3650), gotPool.LastAPY())

		gotUser, err := tx.Users().Get(ctx, 0, key(2))
		require.NoError(t, err)
		assert.Equal(t, u.Balance, gotUser.Balance)
		assert.Equal(t, u.Deposits, gotUser.Deposits)

		users, err := tx.Users().ListByPool(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, users, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RollbackAndReadOnly(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.Protocol().Put(ctx, domain.NewProtocolState(key(1), 255)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Protocol().Get(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		return tx.Protocol().Put(ctx, domain.NewProtocolState(key(1), 255))
	})
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestEventStore_InsertAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEventStore(pool)
	ctx := context.Background()

	deposit := domain.NewDepositEvent(key(2), 0, 1000, key(3), 100)
	deposit.ID = "ev-1"
	swap := domain.NewSwapEvent(key(2), 0, 1_000_000, true, 500_000, 200)
	swap.ID = "ev-2"

	require.NoError(t, store.InsertBulk(ctx, []*domain.Event{&deposit, &swap}))
	assert.ErrorIs(t, store.InsertBulk(ctx, []*domain.Event{&swap}), storage.ErrDuplicateKey)

	got, err := store.GetByUser(ctx, key(2), 0, 1000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, key(3), *got[0].Referrer)
	assert.True(t, got[1].Direction)
	assert.Equal(t, uint64(500_000), got[1].ReceivedAmount)

	got, err = store.GetByPool(ctx, 0, 150, 1000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventSwap, got[0].Type)
}
