package token

import (
	"context"

	"dextra-ledger/internal/solana"
)

// Program exposes a Ledger as the token program for cross-program invocation.
type Program struct {
	ledger Ledger
}

// NewProgram wraps ledger.
func NewProgram(ledger Ledger) *Program {
	return &Program{ledger: ledger}
}

// ID returns the token program id.
func (p *Program) ID() solana.PublicKey {
	return solana.TokenProgramID
}

// Process decodes a transfer or approve and applies it.
// Signer checks on the owner slot are done by the invoking runtime.
func (p *Program) Process(ctx context.Context, ix solana.Instruction) error {
	op, err := DecodeOp(ix)
	if err != nil {
		return err
	}
	return p.ledger.Execute(ctx, op)
}
