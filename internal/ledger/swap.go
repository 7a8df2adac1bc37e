package ledger

import (
	"dextra-ledger/internal/checked"
	"dextra-ledger/internal/domain"
)

// Swap directions. The user always pays amount of the input token.
const (
	// DepositToReward pays the deposit token and receives amount*rate/1e6 reward token.
	DepositToReward = false
	// RewardToDeposit pays the reward token and receives amount*1e6/rate deposit token.
	RewardToDeposit = true
)

// QuoteSwap prices amount at the rate recorded for the day of now.
// Amounts are converted in raw units without decimal adjustment.
func QuoteSwap(pool *domain.Pool, amount uint64, direction bool, now int64) (uint64, error) {
	rate := pool.RateAt(domain.StartOfDay(now))

	var (
		received uint64
		err      error
	)
	if direction == RewardToDeposit {
		received, err = checked.MulDiv(amount, RateScale, rate)
	} else {
		received, err = checked.MulDiv(amount, rate, RateScale)
	}
	if err != nil {
		return 0, domain.Arithmetic(err)
	}
	return received, nil
}
