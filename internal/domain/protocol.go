package domain

import (
	"dextra-ledger/internal/mapping"
	"dextra-ledger/internal/solana"
)

// DefaultReferralBPS is the referral commission applied at initialization (2%).
const DefaultReferralBPS uint64 = 200

// MaxBPS is 100% in basis points.
const MaxBPS uint64 = 10_000

// ApprovalType selects which permission flags approve sets.
type ApprovalType uint8

const (
	ApproveClaim    ApprovalType = 0
	ApproveWithdraw ApprovalType = 1
	ApproveBoth     ApprovalType = 2
)

// Valid reports whether t is one of the defined approval types.
func (t ApprovalType) Valid() bool {
	return t <= ApproveBoth
}

func (t ApprovalType) claim() bool    { return t == ApproveClaim || t == ApproveBoth }
func (t ApprovalType) withdraw() bool { return t == ApproveWithdraw || t == ApproveBoth }

// ProtocolState is the singleton administrative record.
type ProtocolState struct {
	Owner         solana.PublicKey                                    `json:"owner"`
	Governance    solana.PublicKey                                    `json:"governance"`
	ReferralBPS   uint64                                              `json:"referral_bps"`
	PoolCount     uint64                                              `json:"pool_count"`
	AuthorityBump uint8                                               `json:"authority_bump"`
	Referrers     mapping.Mapping[solana.PublicKey, solana.PublicKey] `json:"referrers"` // write-once per user
	Claimable     mapping.Mapping[solana.PublicKey, bool]             `json:"claimable"`
	Withdrawable  mapping.Mapping[solana.PublicKey, bool]             `json:"withdrawable"`
}

// NewProtocolState returns the state created by initialize.
func NewProtocolState(owner solana.PublicKey, authorityBump uint8) *ProtocolState {
	return &ProtocolState{
		Owner:         owner,
		Governance:    owner,
		ReferralBPS:   DefaultReferralBPS,
		AuthorityBump: authorityBump,
	}
}

// IsOwner reports whether caller is the protocol owner.
func (p *ProtocolState) IsOwner(caller solana.PublicKey) bool {
	return caller == p.Owner
}

// IsAdmin reports whether caller is the owner or governance.
func (p *ProtocolState) IsAdmin(caller solana.PublicKey) bool {
	return caller == p.Owner || caller == p.Governance
}

// PoolExists reports whether id is a registered pool index.
func (p *ProtocolState) PoolExists(id uint64) bool {
	return id < p.PoolCount
}

// SetupReferrer links referrer to user unless a link already exists.
// Zero and self referrers are ignored. Reports whether a link was created.
func (p *ProtocolState) SetupReferrer(user, referrer solana.PublicKey) bool {
	if referrer.IsZero() || referrer == user {
		return false
	}
	return p.Referrers.SetIfAbsent(user, referrer)
}

// ReferrerOf returns the referrer linked to user.
func (p *ProtocolState) ReferrerOf(user solana.PublicKey) (solana.PublicKey, bool) {
	return p.Referrers.Get(user)
}

// CanClaim reports the user's claim flag; missing means false.
func (p *ProtocolState) CanClaim(user solana.PublicKey) bool {
	return p.Claimable.GetOr(user, false)
}

// CanWithdraw reports the user's withdraw flag; missing means false.
func (p *ProtocolState) CanWithdraw(user solana.PublicKey) bool {
	return p.Withdrawable.GetOr(user, false)
}

// Approve sets the flags selected by t to true.
func (p *ProtocolState) Approve(user solana.PublicKey, t ApprovalType) error {
	return p.SetFlag(user, t, true)
}

// SetFlag sets the flags selected by t to value.
func (p *ProtocolState) SetFlag(user solana.PublicKey, t ApprovalType, value bool) error {
	if !t.Valid() {
		return ErrInvalidApprovalType
	}
	if t.claim() {
		p.Claimable.Set(user, value)
	}
	if t.withdraw() {
		p.Withdrawable.Set(user, value)
	}
	return nil
}

// Clone returns a deep copy.
func (p *ProtocolState) Clone() *ProtocolState {
	c := *p
	c.Referrers = p.Referrers.Clone()
	c.Claimable = p.Claimable.Clone()
	c.Withdrawable = p.Withdrawable.Clone()
	return &c
}
