package memory

import (
	"context"
	"errors"
	"testing"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

func owner(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	return pk
}

func TestStore_AtomicCommit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.Protocol().Put(ctx, domain.NewProtocolState(owner(1), 254)); err != nil {
			return err
		}
		pool := &domain.Pool{ID: 0, MinimumDeposit: 100}
		if err := tx.Pools().Put(ctx, pool); err != nil {
			return err
		}
		// Reads inside the tx see staged writes.
		got, err := tx.Pools().Get(ctx, 0)
		if err != nil {
			return err
		}
		if got.MinimumDeposit != 100 {
			t.Errorf("staged pool not visible: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		p, err := tx.Protocol().Get(ctx)
		if err != nil {
			return err
		}
		if !p.IsOwner(owner(1)) {
			t.Errorf("owner mismatch")
		}
		_, err = tx.Pools().Get(ctx, 0)
		return err
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestStore_AtomicRollback(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Atomic(ctx, func(tx storage.Tx) error {
		u := domain.NewUserAccount(0, owner(2))
		u.Balance = 10
		if err := tx.Users().Put(ctx, u); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Users().Get(ctx, 0, owner(2))
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after rollback, got %v", err)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	u := domain.NewUserAccount(1, owner(3))
	u.Deposits = []domain.Deposit{{Amount: 5}}
	u.Balance = 5
	if err := store.Atomic(ctx, func(tx storage.Tx) error { return tx.Users().Put(ctx, u) }); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Mutating the caller's value must not leak into the store.
	u.Deposits[0].Withdrawn = true

	_ = store.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Users().Get(ctx, 1, owner(3))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Deposits[0].Withdrawn {
			t.Errorf("store shares deposit slice with caller")
		}
		got.Balance = 99
		return nil
	})

	_ = store.View(ctx, func(tx storage.Tx) error {
		got, _ := tx.Users().Get(ctx, 1, owner(3))
		if got.Balance != 5 {
			t.Errorf("Balance mutated through View copy: %d", got.Balance)
		}
		return nil
	})
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.View(ctx, func(tx storage.Tx) error {
		return tx.Pools().Put(ctx, &domain.Pool{ID: 1})
	})
	if !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_ = store.Atomic(ctx, func(tx storage.Tx) error {
		for _, id := range []uint64{2, 0, 1} {
			_ = tx.Pools().Put(ctx, &domain.Pool{ID: id})
		}
		_ = tx.Users().Put(ctx, domain.NewUserAccount(0, owner(9)))
		_ = tx.Users().Put(ctx, domain.NewUserAccount(0, owner(4)))
		_ = tx.Users().Put(ctx, domain.NewUserAccount(1, owner(5)))
		return nil
	})

	_ = store.View(ctx, func(tx storage.Tx) error {
		pools, _ := tx.Pools().List(ctx)
		if len(pools) != 3 {
			t.Fatalf("Expected 3 pools, got %d", len(pools))
		}
		for i, p := range pools {
			if p.ID != uint64(i) {
				t.Errorf("pools not ordered: index %d has id %d", i, p.ID)
			}
		}

		users, _ := tx.Users().ListByPool(ctx, 0)
		if len(users) != 2 {
			t.Errorf("Expected 2 users in pool 0, got %d", len(users))
		}
		return nil
	})
}

func TestStore_CanceledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Atomic(ctx, func(storage.Tx) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("Expected canceled without running fn, got %v (called=%v)", err, called)
	}
}
