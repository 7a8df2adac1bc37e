package ledger

import (
	"context"
	"errors"
	"fmt"

	"dextra-ledger/internal/checked"
	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// UserInfo is a read-only view of a user's position.
type UserInfo struct {
	PoolID           uint64            `json:"pool_id"`
	Owner            solana.PublicKey  `json:"owner"`
	Balance          uint64            `json:"balance"`
	PendingReward    uint64            `json:"pending_reward"`
	TotalClaimed     uint64            `json:"total_claimed"`
	Referrer         *solana.PublicKey `json:"referrer,omitempty"`
	StakeStartedAt   int64             `json:"stake_started_at"`
	LastClaimAt      int64             `json:"last_claim_at"`
	DepositCount     int               `json:"deposit_count"`
	Withdrawable     uint64            `json:"withdrawable"`
	Claimable        uint64            `json:"claimable"`
	ClaimApproved    bool              `json:"claim_approved"`
	WithdrawApproved bool              `json:"withdraw_approved"`
}

// view runs fn in a read-only transaction with the operation timestamp.
func (e *Engine) view(ctx context.Context, fn func(tx storage.Tx, protocol *domain.ProtocolState, now int64) error) error {
	now, err := e.clock.Now(ctx)
	if err != nil {
		return err
	}
	return e.store.View(ctx, func(tx storage.Tx) error {
		protocol, err := loadProtocol(ctx, tx)
		if err != nil {
			return err
		}
		return fn(tx, protocol, now)
	})
}

// Protocol returns the protocol state.
func (e *Engine) Protocol(ctx context.Context) (*domain.ProtocolState, error) {
	var out *domain.ProtocolState
	err := e.view(ctx, func(_ storage.Tx, protocol *domain.ProtocolState, _ int64) error {
		out = protocol
		return nil
	})
	return out, err
}

// PoolCount returns the number of registered pools.
func (e *Engine) PoolCount(ctx context.Context) (uint64, error) {
	protocol, err := e.Protocol(ctx)
	if err != nil {
		return 0, err
	}
	return protocol.PoolCount, nil
}

// VerifyOwnerOrGovernance fails with ErrUnauthorized unless caller is an admin.
func (e *Engine) VerifyOwnerOrGovernance(ctx context.Context, caller solana.PublicKey) error {
	protocol, err := e.Protocol(ctx)
	if err != nil {
		return err
	}
	if !protocol.IsAdmin(caller) {
		return domain.ErrUnauthorized
	}
	return nil
}

// Pool returns one pool.
func (e *Engine) Pool(ctx context.Context, poolID uint64) (*domain.Pool, error) {
	var out *domain.Pool
	err := e.view(ctx, func(tx storage.Tx, protocol *domain.ProtocolState, _ int64) error {
		var err error
		out, err = loadPool(ctx, tx, protocol, poolID)
		return err
	})
	return out, err
}

// Pools returns every pool ordered by id.
func (e *Engine) Pools(ctx context.Context) ([]*domain.Pool, error) {
	var out []*domain.Pool
	err := e.view(ctx, func(tx storage.Tx, _ *domain.ProtocolState, _ int64) error {
		var err error
		out, err = tx.Pools().List(ctx)
		return err
	})
	return out, err
}

// RateAndAPY returns the APY and rate recorded for the day containing ts.
func (e *Engine) RateAndAPY(ctx context.Context, poolID uint64, ts int64) (apy, rate uint64, err error) {
	pool, err := e.Pool(ctx, poolID)
	if err != nil {
		return 0, 0, err
	}
	day := domain.StartOfDay(ts)
	return pool.APYAt(day), pool.RateAt(day), nil
}

// DepositCount returns the number of deposits user made in the pool, including
// withdrawn ones. Missing pools and accounts count as zero.
func (e *Engine) DepositCount(ctx context.Context, poolID uint64, user solana.PublicKey) (int, error) {
	var n int
	err := e.view(ctx, func(tx storage.Tx, protocol *domain.ProtocolState, _ int64) error {
		if !protocol.PoolExists(poolID) {
			return nil
		}
		u, err := getUser(ctx, tx, poolID, user)
		if err != nil || u == nil {
			return err
		}
		n = len(u.Deposits)
		return nil
	})
	return n, err
}

// DepositInfo returns the deposit at index.
func (e *Engine) DepositInfo(ctx context.Context, poolID uint64, user solana.PublicKey, index int) (domain.Deposit, error) {
	var d domain.Deposit
	err := e.view(ctx, func(tx storage.Tx, protocol *domain.ProtocolState, _ int64) error {
		if _, err := loadPool(ctx, tx, protocol, poolID); err != nil {
			return err
		}
		u, err := getUser(ctx, tx, poolID, user)
		if err != nil {
			return err
		}
		if u == nil || index < 0 || index >= len(u.Deposits) {
			return domain.ErrInvalidIndex
		}
		d = u.Deposits[index]
		return nil
	})
	return d, err
}

// AvailableForWithdraw returns the sum of user's unlocked open deposits.
func (e *Engine) AvailableForWithdraw(ctx context.Context, poolID uint64, user solana.PublicKey) (uint64, error) {
	var available uint64
	err := e.view(ctx, func(tx storage.Tx, protocol *domain.ProtocolState, now int64) error {
		if _, err := loadPool(ctx, tx, protocol, poolID); err != nil {
			return err
		}
		u, err := loadUser(ctx, tx, poolID, user)
		if err != nil {
			return err
		}
		available, err = AvailableForWithdraw(u, now)
		return err
	})
	return available, err
}

// Claimable returns the reward user could claim now.
func (e *Engine) Claimable(ctx context.Context, poolID uint64, user solana.PublicKey) (uint64, error) {
	var pending uint64
	err := e.view(ctx, func(tx storage.Tx, protocol *domain.ProtocolState, now int64) error {
		pool, err := loadPool(ctx, tx, protocol, poolID)
		if err != nil {
			return err
		}
		u, err := loadUser(ctx, tx, poolID, user)
		if err != nil {
			return err
		}
		pending, err = Accrue(pool, u, now)
		return err
	})
	return pending, err
}

// UserInfo returns user's position in the pool.
func (e *Engine) UserInfo(ctx context.Context, poolID uint64, user solana.PublicKey) (*UserInfo, error) {
	var info *UserInfo
	err := e.view(ctx, func(tx storage.Tx, protocol *domain.ProtocolState, now int64) error {
		pool, err := loadPool(ctx, tx, protocol, poolID)
		if err != nil {
			return err
		}
		u, err := getUser(ctx, tx, poolID, user)
		if err != nil {
			return err
		}
		if u == nil {
			return domain.ErrNoDeposit
		}

		claimable, err := Accrue(pool, u, now)
		if err != nil {
			return err
		}
		withdrawable, err := AvailableForWithdraw(u, now)
		if err != nil {
			return err
		}
		info = &UserInfo{
			PoolID:           poolID,
			Owner:            user,
			Balance:          u.Balance,
			PendingReward:    u.PendingReward,
			TotalClaimed:     u.TotalClaimed,
			StakeStartedAt:   u.StakeStartedAt,
			LastClaimAt:      u.LastClaimAt,
			DepositCount:     len(u.Deposits),
			Withdrawable:     withdrawable,
			Claimable:        claimable,
			ClaimApproved:    protocol.CanClaim(user),
			WithdrawApproved: protocol.CanWithdraw(user),
		}
		if u.HasReferrer() {
			ref := u.Referrer
			info.Referrer = &ref
		}
		return nil
	})
	return info, err
}

// getUser reads a user account, returning nil when it does not exist.
func getUser(ctx context.Context, tx storage.Tx, poolID uint64, owner solana.PublicKey) (*domain.UserAccount, error) {
	u, err := tx.Users().Get(ctx, poolID, owner)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user account: %w", err)
	}
	return u, nil
}

// PoolStats aggregates the positions of one pool at a point in time.
type PoolStats struct {
	PoolID        uint64 `json:"pool_id"`
	TotalStaked   uint64 `json:"total_staked"`
	PendingReward uint64 `json:"pending_reward"`
	TotalClaimed  uint64 `json:"total_claimed"`
	Users         int    `json:"users"`
	At            int64  `json:"at"`
}

// PoolStats sums balances and accrued rewards over every pool.
func (e *Engine) PoolStats(ctx context.Context) ([]PoolStats, error) {
	var out []PoolStats
	err := e.view(ctx, func(tx storage.Tx, _ *domain.ProtocolState, now int64) error {
		pools, err := tx.Pools().List(ctx)
		if err != nil {
			return err
		}
		for _, pool := range pools {
			users, err := tx.Users().ListByPool(ctx, pool.ID)
			if err != nil {
				return err
			}
			stats := PoolStats{PoolID: pool.ID, At: now}
			for _, u := range users {
				pending, err := Accrue(pool, u, now)
				if err != nil {
					return err
				}
				if stats.TotalStaked, err = checked.Add(stats.TotalStaked, u.Balance); err != nil {
					return domain.Arithmetic(err)
				}
				if stats.PendingReward, err = checked.Add(stats.PendingReward, pending); err != nil {
					return domain.Arithmetic(err)
				}
				if stats.TotalClaimed, err = checked.Add(stats.TotalClaimed, u.TotalClaimed); err != nil {
					return domain.Arithmetic(err)
				}
				if u.Balance > 0 {
					stats.Users++
				}
			}
			out = append(out, stats)
		}
		return nil
	})
	return out, err
}
