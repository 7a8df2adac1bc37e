package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/checked"
	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// AddPoolParams describes a new pool.
type AddPoolParams struct {
	DepositToken   solana.PublicKey `json:"deposit_token"`
	RewardToken    solana.PublicKey `json:"reward_token"`
	MinimumDeposit uint64           `json:"minimum_deposit"`
	LockPeriod     int64            `json:"lock_period"`
	SwapEnabled    bool             `json:"swap_enabled"`
	Rate           uint64           `json:"rate"`
	APY            uint64           `json:"apy"`
}

// UpdatePoolParams replaces a pool's settings. Rate and APY, when set, are
// recorded for the current day.
type UpdatePoolParams struct {
	domain.PoolParams
	Rate *uint64 `json:"rate,omitempty"`
	APY  *uint64 `json:"apy,omitempty"`
}

// Initialize creates the protocol record owned by caller.
func (e *Engine) Initialize(ctx context.Context, caller solana.PublicKey) (*domain.ProtocolState, error) {
	var state *domain.ProtocolState
	err := e.run(ctx, "initialize", logrus.Fields{"caller": caller.String()}, func(int64) error {
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			_, err := tx.Protocol().Get(ctx)
			if err == nil {
				return domain.ErrAlreadyInitialized
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("load protocol: %w", err)
			}

			state = domain.NewProtocolState(caller, e.gate.Bump())
			if e.referralBPS != 0 {
				state.ReferralBPS = e.referralBPS
			}
			return tx.Protocol().Put(ctx, state)
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// AddPool registers a pool and seeds its histories at the current day.
func (e *Engine) AddPool(ctx context.Context, caller solana.PublicKey, params AddPoolParams) (*domain.Pool, error) {
	// Decimals are resolved outside the transaction; they may need RPC.
	depositDecimals := e.mints.Decimals(ctx, params.DepositToken)
	rewardDecimals := e.mints.Decimals(ctx, params.RewardToken)

	var pool *domain.Pool
	fields := logrus.Fields{"caller": caller.String(), "deposit_token": params.DepositToken.String()}
	err := e.run(ctx, "add_pool", fields, func(now int64) error {
		if params.LockPeriod < 0 {
			return domain.ErrInvalidAmount
		}
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			if !protocol.IsAdmin(caller) {
				return domain.ErrUnauthorized
			}

			day := domain.StartOfDay(now)
			pool = &domain.Pool{
				ID:              protocol.PoolCount,
				DepositToken:    params.DepositToken,
				RewardToken:     params.RewardToken,
				DepositDecimals: depositDecimals,
				RewardDecimals:  rewardDecimals,
				MinimumDeposit:  params.MinimumDeposit,
				LockPeriod:      params.LockPeriod,
				SwapEnabled:     params.SwapEnabled,
				Rates:           domain.NewRateHistory(day, params.Rate),
				APYs:            domain.NewRateHistory(day, params.APY),
				CreatedAt:       now,
			}
			if protocol.PoolCount, err = checked.Add(protocol.PoolCount, 1); err != nil {
				return domain.Arithmetic(err)
			}

			for _, mint := range []solana.PublicKey{pool.DepositToken, pool.RewardToken} {
				if _, err := e.tokens.EnsureAssociated(ctx, e.gate.Authority(), mint); err != nil {
					return fmt.Errorf("%w: open vault: %w", domain.ErrTokenTransfer, err)
				}
			}

			if err := tx.Pools().Put(ctx, pool); err != nil {
				return fmt.Errorf("save pool: %w", err)
			}
			return tx.Protocol().Put(ctx, protocol)
		})
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// UpdateRate records rate for the current day.
func (e *Engine) UpdateRate(ctx context.Context, caller solana.PublicKey, poolID, rate uint64) error {
	return e.updatePool(ctx, "update_rate", caller, poolID, func(pool *domain.Pool, day int64) error {
		pool.Rates.Set(day, rate)
		return nil
	})
}

// UpdateAPY records apy for the current day.
func (e *Engine) UpdateAPY(ctx context.Context, caller solana.PublicKey, poolID, apy uint64) error {
	return e.updatePool(ctx, "update_apy", caller, poolID, func(pool *domain.Pool, day int64) error {
		pool.APYs.Set(day, apy)
		return nil
	})
}

// UpdatePool replaces the pool settings and optionally records rate and APY.
func (e *Engine) UpdatePool(ctx context.Context, caller solana.PublicKey, poolID uint64, params UpdatePoolParams) error {
	return e.updatePool(ctx, "update_pool", caller, poolID, func(pool *domain.Pool, day int64) error {
		if params.LockPeriod < 0 {
			return domain.ErrInvalidAmount
		}
		pool.Apply(params.PoolParams)
		if params.Rate != nil {
			pool.Rates.Set(day, *params.Rate)
		}
		if params.APY != nil {
			pool.APYs.Set(day, *params.APY)
		}
		return nil
	})
}

func (e *Engine) updatePool(ctx context.Context, op string, caller solana.PublicKey, poolID uint64, mutate func(*domain.Pool, int64) error) error {
	fields := logrus.Fields{"caller": caller.String(), "pool_id": poolID}
	return e.run(ctx, op, fields, func(now int64) error {
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			if !protocol.IsAdmin(caller) {
				return domain.ErrUnauthorized
			}
			pool, err := loadPool(ctx, tx, protocol, poolID)
			if err != nil {
				return err
			}

			if err := mutate(pool, domain.StartOfDay(now)); err != nil {
				return err
			}
			return tx.Pools().Put(ctx, pool)
		})
	})
}

// Approve grants user the claim and/or withdraw permission.
func (e *Engine) Approve(ctx context.Context, caller, user solana.PublicKey, t domain.ApprovalType) error {
	return e.setFlag(ctx, "approve", caller, user, t, true)
}

// SetFlag sets or revokes the permissions selected by t.
func (e *Engine) SetFlag(ctx context.Context, caller, user solana.PublicKey, t domain.ApprovalType, value bool) error {
	return e.setFlag(ctx, "set_flag", caller, user, t, value)
}

func (e *Engine) setFlag(ctx context.Context, op string, caller, user solana.PublicKey, t domain.ApprovalType, value bool) error {
	fields := logrus.Fields{"caller": caller.String(), "user": user.String(), "approval": t, "value": value}
	return e.run(ctx, op, fields, func(int64) error {
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			if !protocol.IsAdmin(caller) {
				return domain.ErrUnauthorized
			}
			if err := protocol.SetFlag(user, t, value); err != nil {
				return err
			}
			return tx.Protocol().Put(ctx, protocol)
		})
	})
}

// SetGovernance replaces the governance key. Owner only.
func (e *Engine) SetGovernance(ctx context.Context, caller, governance solana.PublicKey) error {
	fields := logrus.Fields{"caller": caller.String(), "governance": governance.String()}
	return e.run(ctx, "set_governance", fields, func(int64) error {
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			if !protocol.IsOwner(caller) {
				return domain.ErrUnauthorized
			}
			if governance.IsZero() {
				return domain.ErrInvalidInstruction
			}
			protocol.Governance = governance
			return tx.Protocol().Put(ctx, protocol)
		})
	})
}

// SetReferralBPS changes the referral commission.
func (e *Engine) SetReferralBPS(ctx context.Context, caller solana.PublicKey, bps uint64) error {
	fields := logrus.Fields{"caller": caller.String(), "bps": bps}
	return e.run(ctx, "set_referral_bps", fields, func(int64) error {
		if bps > domain.MaxBPS {
			return domain.ErrInvalidReferralBPS
		}
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			if !protocol.IsAdmin(caller) {
				return domain.ErrUnauthorized
			}
			protocol.ReferralBPS = bps
			return tx.Protocol().Put(ctx, protocol)
		})
	})
}
