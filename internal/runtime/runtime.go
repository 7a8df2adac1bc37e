// Package runtime dispatches cross-program invocations and enforces that
// every signer-flagged account is backed by a real signature or by a program
// derived address of the calling program.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/solana"
)

// Runtime errors.
var (
	ErrUnknownProgram     = errors.New("unknown program")
	ErrMissingSignature   = errors.New("missing required signature")
	ErrInvalidSignerSeeds = errors.New("invalid signer seeds")
)

// Program is an invocable program.
type Program interface {
	ID() solana.PublicKey
	Process(ctx context.Context, ix solana.Instruction) error
}

// Invocation is one cross-program call.
type Invocation struct {
	Caller      solana.PublicKey   // program issuing the call
	Instruction solana.Instruction // call to forward
	Signers     []solana.PublicKey // keys that signed the outer transaction
	SignerSeeds [][][]byte         // PDA seeds (with bump) the caller signs for
}

// Runtime holds registered programs.
type Runtime struct {
	mu       sync.RWMutex
	programs map[solana.PublicKey]Program
	logger   logrus.FieldLogger
}

// New creates a runtime with the given programs registered.
func New(logger logrus.FieldLogger, programs ...Program) *Runtime {
	r := &Runtime{
		programs: make(map[solana.PublicKey]Program),
		logger:   logger,
	}
	for _, p := range programs {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a program.
func (r *Runtime) Register(p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[p.ID()] = p
}

// Invoke verifies signatures and dispatches the instruction.
func (r *Runtime) Invoke(ctx context.Context, inv Invocation) error {
	derived := make(map[solana.PublicKey]struct{}, len(inv.SignerSeeds))
	for _, seeds := range inv.SignerSeeds {
		pda, err := solana.CreateProgramAddress(seeds, inv.Caller)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignerSeeds, err)
		}
		derived[pda] = struct{}{}
	}

	signed := make(map[solana.PublicKey]struct{}, len(inv.Signers))
	for _, s := range inv.Signers {
		signed[s] = struct{}{}
	}

	for _, meta := range inv.Instruction.Accounts {
		if !meta.IsSigner {
			continue
		}
		_, bySig := signed[meta.PublicKey]
		_, byPDA := derived[meta.PublicKey]
		if !bySig && !byPDA {
			return fmt.Errorf("%w: %s", ErrMissingSignature, meta.PublicKey)
		}
	}

	r.mu.RLock()
	p, ok := r.programs[inv.Instruction.ProgramID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, inv.Instruction.ProgramID)
	}

	r.logger.WithFields(logrus.Fields{
		"caller":   inv.Caller.String(),
		"program":  inv.Instruction.ProgramID.String(),
		"accounts": len(inv.Instruction.Accounts),
		"signed":   len(inv.SignerSeeds) > 0,
	}).Debug("invoke")

	return p.Process(ctx, inv.Instruction)
}
