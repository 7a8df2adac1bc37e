package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dextra-ledger/internal/checked"
	"dextra-ledger/internal/solana"
)

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	return pk
}

func TestDateHelpers(t *testing.T) {
	ts := int64(1_700_000_123)
	assert.Equal(t, int64(1_699_920_000), StartOfDay(ts))
	assert.Equal(t, int64(1_700_006_399), EndOfDay(ts))
	assert.Equal(t, int64(2), DiffDays(ts+2*SecondsPerDay+5, ts))
	assert.Equal(t, StartOfDay(ts), StartOfDay(StartOfDay(ts)))
}

func TestRateHistory_ExactBucketLookup(t *testing.T) {
	day0 := int64(0)
	day1 := SecondsPerDay
	day2 := 2 * SecondsPerDay

	h := NewRateHistory(day0, 100)
	h.Set(day2, 300)

	assert.Equal(t, uint64(100), h.Get(day0))
	// No entry for day1: falls back to the last value set, not the value at or before.
	assert.Equal(t, uint64(300), h.Get(day1))
	assert.Equal(t, uint64(300), h.Get(day2))
	assert.Equal(t, uint64(300), h.Get(10*SecondsPerDay))
}

func TestRateHistory_ReplaceOnSameDay(t *testing.T) {
	h := NewRateHistory(0, 100)
	h.Set(SecondsPerDay, 200)
	h.Set(0, 150)

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, uint64(150), h.Get(0))
	assert.Equal(t, uint64(150), h.Last)
	assert.Equal(t, uint64(200), h.Get(SecondsPerDay))
}

func TestPool_CloneIsDeep(t *testing.T) {
	p := &Pool{Rates: NewRateHistory(0, 1), APYs: NewRateHistory(0, 2)}
	c := p.Clone()
	c.Rates.Set(0, 99)

	assert.Equal(t, uint64(1), p.RateAt(0))
	assert.Equal(t, uint64(99), c.RateAt(0))
}

func TestUserAccount_CheckBalance(t *testing.T) {
	u := NewUserAccount(0, key(1))
	u.Deposits = []Deposit{
		{Amount: 100},
		{Amount: 50, Withdrawn: true},
		{Amount: 25},
	}
	u.Balance = 125
	require.NoError(t, u.CheckBalance())

	u.Balance = 175
	assert.ErrorIs(t, u.CheckBalance(), ErrLedgerInvariant)

	u.Deposits = []Deposit{{Amount: ^uint64(0)}, {Amount: 1}}
	assert.ErrorIs(t, u.CheckBalance(), ErrArithmetic)
}

func TestProtocolState_SetupReferrer(t *testing.T) {
	p := NewProtocolState(key(1), 255)
	user := key(2)

	assert.False(t, p.SetupReferrer(user, solana.PublicKey{}))
	assert.False(t, p.SetupReferrer(user, user))
	assert.True(t, p.SetupReferrer(user, key(3)))
	assert.False(t, p.SetupReferrer(user, key(4)))

	ref, ok := p.ReferrerOf(user)
	require.True(t, ok)
	assert.Equal(t, key(3), ref)
}

func TestProtocolState_Approve(t *testing.T) {
	tests := []struct {
		name         string
		approval     ApprovalType
		wantClaim    bool
		wantWithdraw bool
		wantErr      error
	}{
		{name: "claim", approval: ApproveClaim, wantClaim: true},
		{name: "withdraw", approval: ApproveWithdraw, wantWithdraw: true},
		{name: "both", approval: ApproveBoth, wantClaim: true, wantWithdraw: true},
		{name: "invalid", approval: 3, wantErr: ErrInvalidApprovalType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProtocolState(key(1), 255)
			user := key(9)

			err := p.Approve(user, tt.approval)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantClaim, p.CanClaim(user))
			assert.Equal(t, tt.wantWithdraw, p.CanWithdraw(user))

			// Idempotent.
			require.NoError(t, p.Approve(user, tt.approval))
			assert.Equal(t, tt.wantClaim, p.CanClaim(user))
		})
	}
}

func TestProtocolState_Defaults(t *testing.T) {
	owner := key(1)
	p := NewProtocolState(owner, 254)

	assert.Equal(t, DefaultReferralBPS, p.ReferralBPS)
	assert.True(t, p.IsAdmin(owner))
	assert.True(t, p.IsOwner(owner))
	assert.False(t, p.IsAdmin(key(2)))
	assert.False(t, p.CanClaim(key(2)))
	assert.False(t, p.CanWithdraw(key(2)))
	assert.False(t, p.PoolExists(0))
}

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("deposit: %w", ErrPoolDoesNotExist)
	assert.True(t, errors.Is(wrapped, ErrPoolDoesNotExist))
	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.Equal(t, "PoolDoesNotExist", CodeOf(wrapped))

	arith := Arithmetic(checked.ErrOverflow)
	assert.ErrorIs(t, arith, ErrArithmetic)
	assert.ErrorIs(t, arith, checked.ErrOverflow)
	assert.Equal(t, KindArithmetic, KindOf(arith))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindAuthorization, KindOf(ErrUnauthorizedSigner))
	assert.Equal(t, KindRelay, KindOf(ErrCpi))
	assert.Equal(t, KindState, KindOf(ErrNoReward))
}

func TestNewDepositEvent_OmitsZeroReferrer(t *testing.T) {
	e := NewDepositEvent(key(1), 0, 10, solana.PublicKey{}, 5)
	assert.Nil(t, e.Referrer)

	e = NewDepositEvent(key(1), 0, 10, key(2), 5)
	require.NotNil(t, e.Referrer)
	assert.Equal(t, key(2), *e.Referrer)
}
