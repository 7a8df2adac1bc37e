package token

import (
	"context"
	"fmt"
	"sync"

	"dextra-ledger/internal/checked"
	"dextra-ledger/internal/solana"
)

// MemoryLedger is an in-memory token ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*Account
	mints    map[solana.PublicKey]uint8
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[solana.PublicKey]*Account),
		mints:    make(map[solana.PublicKey]uint8),
	}
}

// CreateMint registers a mint with its decimals.
func (l *MemoryLedger) CreateMint(mint solana.PublicKey, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mints[mint] = decimals
}

// MintDecimals returns the decimals of a registered mint.
func (l *MemoryLedger) MintDecimals(_ context.Context, mint solana.PublicKey) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.mints[mint]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMint, mint)
	}
	return d, nil
}

// OpenAccount creates a token account at address.
func (l *MemoryLedger) OpenAccount(address, mint, owner solana.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[address]; exists {
		return ErrAccountExists
	}
	l.accounts[address] = &Account{Address: address, Mint: mint, Owner: owner}
	return nil
}

// EnsureAssociated returns owner's associated account for mint, creating it if missing.
func (l *MemoryLedger) EnsureAssociated(_ context.Context, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	address, err := AssociatedAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	acct, exists := l.accounts[address]
	if !exists {
		l.accounts[address] = &Account{Address: address, Mint: mint, Owner: owner}
		return address, nil
	}
	if acct.Mint != mint {
		return solana.PublicKey{}, ErrMintMismatch
	}
	return address, nil
}

// MintTo credits amount to an account.
func (l *MemoryLedger) MintTo(address solana.PublicKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return ErrAccountNotFound
	}
	sum, err := checked.Add(acct.Amount, amount)
	if err != nil {
		return ErrOverflow
	}
	acct.Amount = sum
	return nil
}

// Balance returns the amount held by address, or 0 if it does not exist.
func (l *MemoryLedger) Balance(address solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[address]; ok {
		return acct.Amount
	}
	return 0
}

// Account returns a copy of a token account.
func (l *MemoryLedger) Account(_ context.Context, address solana.PublicKey) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acctCopy := *acct
	return &acctCopy, nil
}

// Transfer moves amount between accounts.
func (l *MemoryLedger) Transfer(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error {
	return l.Execute(ctx, Transfer(from, to, authority, amount))
}

// Approve sets a delegate allowance.
func (l *MemoryLedger) Approve(ctx context.Context, account, delegate, authority solana.PublicKey, amount uint64) error {
	return l.Execute(ctx, Approve(account, delegate, authority, amount))
}

// Execute applies ops atomically: on the first failure every touched account is restored.
func (l *MemoryLedger) Execute(_ context.Context, ops ...Op) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make(map[solana.PublicKey]Account)
	save := func(addr solana.PublicKey) {
		if _, saved := snapshot[addr]; saved {
			return
		}
		if acct, ok := l.accounts[addr]; ok {
			snapshot[addr] = *acct
		}
	}

	for i, op := range ops {
		save(op.From)
		save(op.To)
		if err := l.apply(op); err != nil {
			for addr, acct := range snapshot {
				restored := acct
				l.accounts[addr] = &restored
			}
			return fmt.Errorf("op %d (%s): %w", i, op, err)
		}
	}
	return nil
}

func (l *MemoryLedger) apply(op Op) error {
	src, ok := l.accounts[op.From]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, op.From)
	}

	switch op.Kind {
	case OpApprove:
		if op.Authority != src.Owner {
			return ErrOwnerMismatch
		}
		src.Delegate = op.To
		src.DelegatedAmount = op.Amount
		return nil

	case OpTransfer:
		dst, ok := l.accounts[op.To]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, op.To)
		}
		if src.Mint != dst.Mint {
			return ErrMintMismatch
		}

		viaDelegate := false
		switch {
		case op.Authority == src.Owner:
		case !src.Delegate.IsZero() && op.Authority == src.Delegate:
			if src.DelegatedAmount < op.Amount {
				return ErrInsufficientFunds
			}
			viaDelegate = true
		default:
			return ErrOwnerMismatch
		}

		if src.Amount < op.Amount {
			return ErrInsufficientFunds
		}
		if op.From == op.To {
			return nil
		}
		credited, err := checked.Add(dst.Amount, op.Amount)
		if err != nil {
			return ErrOverflow
		}
		src.Amount -= op.Amount
		dst.Amount = credited
		if viaDelegate {
			src.DelegatedAmount -= op.Amount
			if src.DelegatedAmount == 0 {
				src.Delegate = solana.PublicKey{}
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}

var _ Ledger = (*MemoryLedger)(nil)
