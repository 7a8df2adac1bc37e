package domain

import "dextra-ledger/internal/solana"

// Pool is a configured (deposit token, reward token) staking pool.
// Corresponds to the pools table in PostgreSQL.
type Pool struct {
	ID              uint64           `json:"id"`               // index in [0, pool_count)
	DepositToken    solana.PublicKey `json:"deposit_token"`    // mint staked by users
	RewardToken     solana.PublicKey `json:"reward_token"`     // mint paid as reward
	DepositDecimals uint8            `json:"deposit_decimals"` // resolved when the pool is added
	RewardDecimals  uint8            `json:"reward_decimals"`
	MinimumDeposit  uint64           `json:"minimum_deposit"`
	LockPeriod      int64            `json:"lock_period"` // seconds
	SwapEnabled     bool             `json:"swap_enabled"`
	Rates           RateHistory      `json:"rates"` // scale 1_000_000
	APYs            RateHistory      `json:"apys"`  // scale x100 percent
	CreatedAt       int64            `json:"created_at"`
}

// PoolParams are the mutable pool settings.
type PoolParams struct {
	MinimumDeposit uint64 `json:"minimum_deposit"`
	LockPeriod     int64  `json:"lock_period"`
	SwapEnabled    bool   `json:"swap_enabled"`
}

// LastRate returns the most recently set rate.
func (p *Pool) LastRate() uint64 { return p.Rates.Last }

// LastAPY returns the most recently set APY.
func (p *Pool) LastAPY() uint64 { return p.APYs.Last }

// RateAt returns the rate for the day starting at day.
func (p *Pool) RateAt(day int64) uint64 { return p.Rates.Get(day) }

// APYAt returns the APY for the day starting at day.
func (p *Pool) APYAt(day int64) uint64 { return p.APYs.Get(day) }

// Apply overwrites the mutable settings.
func (p *Pool) Apply(params PoolParams) {
	p.MinimumDeposit = params.MinimumDeposit
	p.LockPeriod = params.LockPeriod
	p.SwapEnabled = params.SwapEnabled
}

// Clone returns a deep copy.
func (p *Pool) Clone() *Pool {
	c := *p
	c.Rates = p.Rates.Clone()
	c.APYs = p.APYs.Clone()
	return &c
}
