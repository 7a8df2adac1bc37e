// Package token implements the SPL-style token collaborator: accounts,
// atomic transfer/approve batches and the token program instruction codec.
package token

import (
	"context"
	"errors"
	"fmt"

	"dextra-ledger/internal/solana"
)

// Token errors.
var (
	ErrAccountNotFound   = errors.New("token account not found")
	ErrAccountExists     = errors.New("token account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOwnerMismatch     = errors.New("authority is neither owner nor delegate")
	ErrMintMismatch      = errors.New("account mints do not match")
	ErrOverflow          = errors.New("token amount overflow")
	ErrUnknownMint       = errors.New("unknown mint")
)

// Account is a token account.
type Account struct {
	Address         solana.PublicKey `json:"address"`
	Mint            solana.PublicKey `json:"mint"`
	Owner           solana.PublicKey `json:"owner"`
	Amount          uint64           `json:"amount"`
	Delegate        solana.PublicKey `json:"delegate"`
	DelegatedAmount uint64           `json:"delegated_amount"`
}

// OpKind distinguishes batch operations.
type OpKind uint8

const (
	OpTransfer OpKind = iota
	OpApprove
)

// Op is one token movement. For OpApprove, To is the delegate.
type Op struct {
	Kind      OpKind
	From      solana.PublicKey
	To        solana.PublicKey
	Authority solana.PublicKey
	Amount    uint64
}

func (o Op) String() string {
	switch o.Kind {
	case OpApprove:
		return fmt.Sprintf("approve %d of %s to %s", o.Amount, o.From, o.To)
	default:
		return fmt.Sprintf("transfer %d %s -> %s", o.Amount, o.From, o.To)
	}
}

// Transfer builds a transfer op.
func Transfer(from, to, authority solana.PublicKey, amount uint64) Op {
	return Op{Kind: OpTransfer, From: from, To: to, Authority: authority, Amount: amount}
}

// Approve builds an approve op.
func Approve(account, delegate, authority solana.PublicKey, amount uint64) Op {
	return Op{Kind: OpApprove, From: account, To: delegate, Authority: authority, Amount: amount}
}

// Ledger executes token movements. Execute applies every op or none.
type Ledger interface {
	// Execute applies ops in order, atomically.
	Execute(ctx context.Context, ops ...Op) error

	// Transfer moves amount from one account to another.
	Transfer(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error

	// Approve lets delegate move up to amount out of account.
	Approve(ctx context.Context, account, delegate, authority solana.PublicKey, amount uint64) error

	// Account returns a token account. Returns ErrAccountNotFound if missing.
	Account(ctx context.Context, address solana.PublicKey) (*Account, error)

	// EnsureAssociated returns owner's associated account for mint, creating it if missing.
	EnsureAssociated(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, error)
}

// AssociatedAddress returns owner's associated token account for mint.
func AssociatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	return solana.FindAssociatedTokenAddress(owner, mint)
}
