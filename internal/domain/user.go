package domain

import (
	"dextra-ledger/internal/checked"
	"dextra-ledger/internal/solana"
)

// Deposit is one stake made by a user. Only Withdrawn changes after creation.
type Deposit struct {
	Amount      uint64 `json:"amount"`
	CreatedAt   int64  `json:"created_at"`
	LockedUntil int64  `json:"locked_until"`
	Withdrawn   bool   `json:"withdrawn"`
}

// Unlocked reports whether the deposit is open and past its lock at now.
func (d Deposit) Unlocked(now int64) bool {
	return !d.Withdrawn && d.LockedUntil <= now
}

// UserAccount is a user's position in one pool, keyed by (PoolID, Owner).
type UserAccount struct {
	PoolID         uint64           `json:"pool_id"`
	Owner          solana.PublicKey `json:"owner"`
	Balance        uint64           `json:"balance"` // sum of open deposits
	StakeStartedAt int64            `json:"stake_started_at"`
	LastClaimAt    int64            `json:"last_claim_at"` // accrual cursor; 0 when balance is 0
	PendingReward  uint64           `json:"pending_reward"`
	TotalClaimed   uint64           `json:"total_claimed"`
	Referrer       solana.PublicKey `json:"referrer"` // zero key when unset
	Deposits       []Deposit        `json:"deposits"`
}

// NewUserAccount returns an empty account for owner in pool.
func NewUserAccount(poolID uint64, owner solana.PublicKey) *UserAccount {
	return &UserAccount{PoolID: poolID, Owner: owner}
}

// HasReferrer reports whether a referrer is linked.
func (u *UserAccount) HasReferrer() bool {
	return !u.Referrer.IsZero()
}

// OpenDeposits sums the amounts of deposits not yet withdrawn.
func (u *UserAccount) OpenDeposits() (uint64, error) {
	var sum uint64
	for _, d := range u.Deposits {
		if d.Withdrawn {
			continue
		}
		var err error
		if sum, err = checked.Add(sum, d.Amount); err != nil {
			return 0, Arithmetic(err)
		}
	}
	return sum, nil
}

// CheckBalance verifies Balance equals the sum of open deposits.
func (u *UserAccount) CheckBalance() error {
	open, err := u.OpenDeposits()
	if err != nil {
		return err
	}
	if open != u.Balance {
		return ErrLedgerInvariant
	}
	return nil
}

// Clone returns a deep copy.
func (u *UserAccount) Clone() *UserAccount {
	c := *u
	c.Deposits = make([]Deposit, len(u.Deposits))
	copy(c.Deposits, u.Deposits)
	return &c
}
