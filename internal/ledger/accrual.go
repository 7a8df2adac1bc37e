package ledger

import (
	"fmt"

	"dextra-ledger/internal/checked"
	"dextra-ledger/internal/domain"
)

const (
	// RateScale is the fixed-point scale of pool rates.
	RateScale uint64 = 1_000_000

	// yieldDivisor converts balance*seconds*apy into a yearly fraction:
	// 100 (apy scale) * 365 days * 86400 s * 100 (percent).
	yieldDivisor uint64 = 100 * 365 * 86400 * 100
)

// Accrue returns the user's pending reward integrated up to now. It does not
// modify u. Each UTC day is priced with the rate and APY recorded for that day.
func Accrue(pool *domain.Pool, u *domain.UserAccount, now int64) (uint64, error) {
	if u.Balance == 0 || u.LastClaimAt == 0 {
		return u.PendingReward, nil
	}
	if now < u.LastClaimAt {
		return 0, fmt.Errorf("%w: clock %d is before last claim %d", domain.ErrArithmetic, now, u.LastClaimAt)
	}

	var total uint64
	cursor := u.LastClaimAt
	for start := domain.StartOfDay(u.LastClaimAt); start < now; start += domain.SecondsPerDay {
		end := start + domain.SecondsPerDay
		if end > now {
			end = now
		}

		dayReward, err := checked.From(u.Balance).
			Mul(uint64(end - cursor)).
			Mul(pool.APYAt(start)).
			Div(yieldDivisor).
			Mul(pool.RateAt(start)).
			Div(RateScale).
			Uint64()
		if err != nil {
			return 0, domain.Arithmetic(err)
		}
		if total, err = checked.Add(total, dayReward); err != nil {
			return 0, domain.Arithmetic(err)
		}
		cursor = end
	}

	adjusted, err := adjustDecimals(total, pool.DepositDecimals, pool.RewardDecimals)
	if err != nil {
		return 0, domain.Arithmetic(err)
	}

	pending, err := checked.Add(u.PendingReward, adjusted)
	if err != nil {
		return 0, domain.Arithmetic(err)
	}
	return pending, nil
}

// adjustDecimals rescales an amount in deposit-token units to reward-token units.
func adjustDecimals(amount uint64, depositDecimals, rewardDecimals uint8) (uint64, error) {
	if rewardDecimals >= depositDecimals {
		factor, err := checked.Pow10(rewardDecimals - depositDecimals)
		if err != nil {
			if amount == 0 {
				return 0, nil
			}
			return 0, err
		}
		return checked.Mul(amount, factor)
	}

	factor, err := checked.Pow10(depositDecimals - rewardDecimals)
	if err != nil {
		// 10^20 and above exceed every u64.
		return 0, nil
	}
	return amount / factor, nil
}

// AvailableForWithdraw sums the open deposits whose lock has expired at now.
func AvailableForWithdraw(u *domain.UserAccount, now int64) (uint64, error) {
	var sum uint64
	for _, d := range u.Deposits {
		if !d.Unlocked(now) {
			continue
		}
		var err error
		if sum, err = checked.Add(sum, d.Amount); err != nil {
			return 0, domain.Arithmetic(err)
		}
	}
	return sum, nil
}
