package token

import (
	"context"

	"dextra-ledger/internal/solana"
)

const (
	// NativeDecimals applies to the zero (system program) mint.
	NativeDecimals uint8 = 18
	// FallbackDecimals applies when a mint cannot be read.
	FallbackDecimals uint8 = 9
)

// DecimalsSource reads the decimals of a mint.
type DecimalsSource interface {
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// MintResolver resolves token decimals with the native and fallback defaults.
type MintResolver struct {
	source DecimalsSource
}

// NewMintResolver wraps source. A nil source resolves every SPL mint to FallbackDecimals.
func NewMintResolver(source DecimalsSource) *MintResolver {
	return &MintResolver{source: source}
}

// Decimals returns the decimals for mint.
func (r *MintResolver) Decimals(ctx context.Context, mint solana.PublicKey) uint8 {
	if mint.IsZero() {
		return NativeDecimals
	}
	if r.source == nil {
		return FallbackDecimals
	}
	d, err := r.source.MintDecimals(ctx, mint)
	if err != nil {
		return FallbackDecimals
	}
	return d
}

// RPCDecimals reads mint decimals from chain through the RPC client.
type RPCDecimals struct {
	client solana.RPCClient
}

// NewRPCDecimals creates an RPC-backed decimals source.
func NewRPCDecimals(client solana.RPCClient) *RPCDecimals {
	return &RPCDecimals{client: client}
}

// MintDecimals fetches and parses the mint account.
func (d *RPCDecimals) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	info, err := d.client.GetAccountInfo(ctx, mint.String())
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, solana.ErrAccountNotFound
	}
	return solana.ParseMintDecimals(info.Data)
}

var (
	_ DecimalsSource = (*RPCDecimals)(nil)
	_ DecimalsSource = (*MemoryLedger)(nil)
)
