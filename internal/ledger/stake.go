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
	"dextra-ledger/internal/token"
)

// ClaimResult reports the payouts of a claim.
type ClaimResult struct {
	Amount         uint64            `json:"amount"`
	Referrer       *solana.PublicKey `json:"referrer,omitempty"`
	ReferralAmount uint64            `json:"referral_amount"`
}

// Deposit stakes amount of the pool's deposit token for user. A non-zero
// referrer is linked on the user's first referral and ignored afterwards.
func (e *Engine) Deposit(ctx context.Context, user solana.PublicKey, poolID, amount uint64, referrer solana.PublicKey) (*domain.UserAccount, error) {
	var (
		account *domain.UserAccount
		event   domain.Event
	)
	fields := logrus.Fields{"user": user.String(), "pool_id": poolID, "amount": amount}
	err := e.run(ctx, "deposit", fields, func(now int64) error {
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			pool, err := loadPool(ctx, tx, protocol, poolID)
			if err != nil {
				return err
			}
			if amount == 0 {
				return domain.ErrInvalidAmount
			}
			if amount < pool.MinimumDeposit {
				return domain.ErrInsufficientDeposit
			}

			u, err := loadUser(ctx, tx, poolID, user)
			if err != nil {
				return err
			}

			if protocol.SetupReferrer(user, referrer) {
				if err := tx.Protocol().Put(ctx, protocol); err != nil {
					return err
				}
			}
			if !u.HasReferrer() {
				if r, ok := protocol.ReferrerOf(user); ok {
					u.Referrer = r
				}
			}

			// Accrue on the old balance before the new amount joins it.
			if u.PendingReward, err = Accrue(pool, u, now); err != nil {
				return err
			}
			if u.Balance, err = checked.Add(u.Balance, amount); err != nil {
				return domain.Arithmetic(err)
			}
			lockedUntil, err := checked.AddI64(now, pool.LockPeriod)
			if err != nil {
				return domain.Arithmetic(err)
			}

			u.LastClaimAt = now
			if u.StakeStartedAt == 0 {
				u.StakeStartedAt = now
			}
			u.Deposits = append(u.Deposits, domain.Deposit{
				Amount:      amount,
				CreatedAt:   now,
				LockedUntil: lockedUntil,
			})
			if err := saveUser(ctx, tx, u); err != nil {
				return err
			}

			source, err := token.AssociatedAddress(user, pool.DepositToken)
			if err != nil {
				return err
			}
			vault, err := e.Vault(pool.DepositToken)
			if err != nil {
				return err
			}
			if err := e.execute(ctx, token.Transfer(source, vault, user, amount)); err != nil {
				return err
			}

			account = u
			event = domain.NewDepositEvent(user, poolID, amount, referrer, now)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordTokensMoved("deposit", poolID, amount)
	e.emit(ctx, event)
	return account, nil
}

// Withdraw returns every unlocked deposit to user and reports the amount.
func (e *Engine) Withdraw(ctx context.Context, user solana.PublicKey, poolID uint64) (uint64, error) {
	var (
		available uint64
		event     domain.Event
	)
	fields := logrus.Fields{"user": user.String(), "pool_id": poolID}
	err := e.run(ctx, "withdraw", fields, func(now int64) error {
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			pool, err := loadPool(ctx, tx, protocol, poolID)
			if err != nil {
				return err
			}
			u, err := loadUser(ctx, tx, poolID, user)
			if err != nil {
				return err
			}

			if available, err = AvailableForWithdraw(u, now); err != nil {
				return err
			}
			if available == 0 {
				return domain.ErrNothingToWithdraw
			}
			if u.Balance < available {
				return domain.ErrInsufficientAmount
			}
			if !protocol.CanWithdraw(user) {
				return domain.ErrUnauthorized
			}

			// Lock in reward up to now before principal leaves.
			if u.PendingReward, err = Accrue(pool, u, now); err != nil {
				return err
			}
			u.LastClaimAt = now
			if u.Balance, err = checked.Sub(u.Balance, available); err != nil {
				return domain.Arithmetic(err)
			}
			if u.Balance == 0 {
				u.StakeStartedAt = 0
				u.LastClaimAt = 0
			}
			for i := range u.Deposits {
				if u.Deposits[i].Unlocked(now) {
					u.Deposits[i].Withdrawn = true
				}
			}
			if err := saveUser(ctx, tx, u); err != nil {
				return err
			}

			vault, err := e.Vault(pool.DepositToken)
			if err != nil {
				return err
			}
			dest, err := e.tokens.EnsureAssociated(ctx, user, pool.DepositToken)
			if err != nil {
				return fmt.Errorf("%w: open account: %w", domain.ErrTokenTransfer, err)
			}
			if err := e.execute(ctx, token.Transfer(vault, dest, e.gate.Authority(), available)); err != nil {
				return err
			}

			event = domain.NewWithdrawEvent(user, poolID, available, now)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	e.metrics.RecordTokensMoved("withdraw", poolID, available)
	e.emit(ctx, event)
	return available, nil
}

// Claim pays the user's pending reward from the reward vault. When a referrer
// is linked it also receives referral_bps of the reward from the same vault.
func (e *Engine) Claim(ctx context.Context, user solana.PublicKey, poolID uint64) (*ClaimResult, error) {
	var (
		result ClaimResult
		event  domain.Event
	)
	fields := logrus.Fields{"user": user.String(), "pool_id": poolID}
	err := e.run(ctx, "claim", fields, func(now int64) error {
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			pool, err := loadPool(ctx, tx, protocol, poolID)
			if err != nil {
				return err
			}
			u, err := tx.Users().Get(ctx, poolID, user)
			if errors.Is(err, storage.ErrNotFound) {
				return domain.ErrNoDeposit
			}
			if err != nil {
				return fmt.Errorf("load user account: %w", err)
			}

			pending, err := Accrue(pool, u, now)
			if err != nil {
				return err
			}
			if pending == 0 {
				return domain.ErrNoReward
			}
			if !protocol.CanClaim(user) {
				return domain.ErrUnauthorized
			}

			if u.Balance > 0 {
				u.LastClaimAt = now
			}
			if u.TotalClaimed, err = checked.Add(u.TotalClaimed, pending); err != nil {
				return domain.Arithmetic(err)
			}
			u.PendingReward = 0

			ops := make([]token.Op, 0, 2)
			vault, err := e.Vault(pool.RewardToken)
			if err != nil {
				return err
			}
			dest, err := e.tokens.EnsureAssociated(ctx, user, pool.RewardToken)
			if err != nil {
				return fmt.Errorf("%w: open account: %w", domain.ErrTokenTransfer, err)
			}
			ops = append(ops, token.Transfer(vault, dest, e.gate.Authority(), pending))
			result.Amount = pending

			if u.HasReferrer() {
				ref, err := checked.MulDiv(pending, protocol.ReferralBPS, domain.MaxBPS)
				if err != nil {
					return domain.Arithmetic(err)
				}
				referrer := u.Referrer
				result.Referrer = &referrer
				result.ReferralAmount = ref
				if ref > 0 {
					refDest, err := e.tokens.EnsureAssociated(ctx, referrer, pool.RewardToken)
					if err != nil {
						return fmt.Errorf("%w: open account: %w", domain.ErrTokenTransfer, err)
					}
					ops = append(ops, token.Transfer(vault, refDest, e.gate.Authority(), ref))
				}
			}

			if err := saveUser(ctx, tx, u); err != nil {
				return err
			}
			if err := e.execute(ctx, ops...); err != nil {
				return err
			}

			event = domain.NewClaimEvent(user, poolID, pending, now)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordTokensMoved("claim", poolID, result.Amount)
	if result.ReferralAmount > 0 {
		e.metrics.RecordTokensMoved("referral", poolID, result.ReferralAmount)
	}
	e.emit(ctx, event)
	return &result, nil
}

// Swap exchanges amount between the pool's tokens at the current day's rate.
// Both legs execute as one token batch. See QuoteSwap for direction.
func (e *Engine) Swap(ctx context.Context, user solana.PublicKey, poolID, amount uint64, direction bool) (uint64, error) {
	var (
		received uint64
		event    domain.Event
	)
	fields := logrus.Fields{"user": user.String(), "pool_id": poolID, "amount": amount, "direction": direction}
	err := e.run(ctx, "swap", fields, func(now int64) error {
		return e.store.Atomic(ctx, func(tx storage.Tx) error {
			protocol, err := loadProtocol(ctx, tx)
			if err != nil {
				return err
			}
			pool, err := loadPool(ctx, tx, protocol, poolID)
			if err != nil {
				return err
			}
			if !pool.SwapEnabled {
				return domain.ErrSwapNotSupported
			}
			if amount == 0 {
				return domain.ErrInvalidAmount
			}
			if received, err = QuoteSwap(pool, amount, direction, now); err != nil {
				return err
			}
			if received == 0 {
				return domain.ErrInvalidAmount
			}

			in, out := pool.DepositToken, pool.RewardToken
			if direction == RewardToDeposit {
				in, out = out, in
			}
			source, err := token.AssociatedAddress(user, in)
			if err != nil {
				return err
			}
			inVault, err := e.Vault(in)
			if err != nil {
				return err
			}
			outVault, err := e.Vault(out)
			if err != nil {
				return err
			}
			dest, err := e.tokens.EnsureAssociated(ctx, user, out)
			if err != nil {
				return fmt.Errorf("%w: open account: %w", domain.ErrTokenTransfer, err)
			}
			if err := e.execute(ctx,
				token.Transfer(source, inVault, user, amount),
				token.Transfer(outVault, dest, e.gate.Authority(), received),
			); err != nil {
				return err
			}

			event = domain.NewSwapEvent(user, poolID, amount, direction, received, now)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	e.metrics.RecordTokensMoved("swap_in", poolID, amount)
	e.metrics.RecordTokensMoved("swap_out", poolID, received)
	e.emit(ctx, event)
	return received, nil
}
