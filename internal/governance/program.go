// Package governance is the program masscall forwards to: an authority-gated
// counter plus a token account it can fund and pay out of under its own PDA.
package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/token"
)

// Program errors.
var (
	ErrInvalidInstruction  = errors.New("invalid governance instruction")
	ErrAlreadyInitialized  = errors.New("governance account already initialized")
	ErrNotInitialized      = errors.New("governance account not initialized")
	ErrUnauthorized        = errors.New("unauthorized access")
	ErrMissingSigner       = errors.New("required signer not flagged")
	ErrInvalidAuthority    = errors.New("governance authority does not match derived address")
	ErrInvalidTokenProgram = errors.New("token program account mismatch")
	ErrIntentionalFailure  = errors.New("intentional failure for testing")
	ErrCounterOverflow     = errors.New("counter overflow")
)

// State is one governance account.
type State struct {
	Authority solana.PublicKey `json:"authority"`
	Counter   uint64           `json:"counter"`
}

// Program holds governance accounts and moves tokens through ledger.
type Program struct {
	ledger token.Ledger
	logger logrus.FieldLogger

	mu     sync.Mutex
	states map[solana.PublicKey]*State
}

// NewProgram creates a governance program backed by ledger.
func NewProgram(ledger token.Ledger, logger logrus.FieldLogger) *Program {
	return &Program{
		ledger: ledger,
		logger: logger.WithField("component", "governance"),
		states: make(map[solana.PublicKey]*State),
	}
}

// ID returns the governance program id.
func (p *Program) ID() solana.PublicKey {
	return solana.GovernanceProgramID
}

// State returns a copy of the governance account at address.
func (p *Program) State(address solana.PublicKey) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[address]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// Process dispatches on the instruction discriminator.
// Signer flags were already checked against real signatures by the runtime.
func (p *Program) Process(ctx context.Context, ix solana.Instruction) error {
	disc, args, err := decode(ix.Data)
	if err != nil {
		return err
	}

	switch disc {
	case discInitialize:
		return p.initialize(ix.Accounts)
	case discIncrement:
		return p.increment(ix.Accounts)
	case discReceive:
		amount, err := decodeAmount(args)
		if err != nil {
			return err
		}
		return p.receive(ctx, ix.Accounts, amount)
	case discSend:
		amount, err := decodeAmount(args)
		if err != nil {
			return err
		}
		return p.send(ctx, ix.Accounts, amount)
	case discWillFail:
		p.logger.Debug("will_fail called")
		return ErrIntentionalFailure
	default:
		return fmt.Errorf("%w: unknown discriminator %x", ErrInvalidInstruction, disc[:])
	}
}

func (p *Program) initialize(accounts []solana.AccountMeta) error {
	if err := need(accounts, 2); err != nil {
		return err
	}
	governance, authority := accounts[0].PublicKey, accounts[1]
	if !authority.IsSigner {
		return fmt.Errorf("%w: authority", ErrMissingSigner)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.states[governance]; ok {
		return ErrAlreadyInitialized
	}
	p.states[governance] = &State{Authority: authority.PublicKey}

	p.logger.WithFields(logrus.Fields{
		"governance": governance.String(),
		"authority":  authority.PublicKey.String(),
	}).Info("governance initialized")
	return nil
}

func (p *Program) increment(accounts []solana.AccountMeta) error {
	if err := need(accounts, 2); err != nil {
		return err
	}
	governance, authority := accounts[0].PublicKey, accounts[1]
	if !authority.IsSigner {
		return fmt.Errorf("%w: authority", ErrMissingSigner)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[governance]
	if !ok {
		return ErrNotInitialized
	}
	if s.Authority != authority.PublicKey {
		return ErrUnauthorized
	}
	if s.Counter == ^uint64(0) {
		return ErrCounterOverflow
	}
	s.Counter++

	p.logger.WithFields(logrus.Fields{
		"governance": governance.String(),
		"counter":    s.Counter,
	}).Debug("counter incremented")
	return nil
}

// receive accounts: governance, sender tokens, governance tokens, sender authority (signer), token program.
func (p *Program) receive(ctx context.Context, accounts []solana.AccountMeta, amount uint64) error {
	if err := need(accounts, 5); err != nil {
		return err
	}
	if err := p.initialized(accounts[0].PublicKey); err != nil {
		return err
	}
	if accounts[4].PublicKey != solana.TokenProgramID {
		return ErrInvalidTokenProgram
	}
	senderAuthority := accounts[3]
	if !senderAuthority.IsSigner {
		return fmt.Errorf("%w: sender authority", ErrMissingSigner)
	}

	op := token.Transfer(accounts[1].PublicKey, accounts[2].PublicKey, senderAuthority.PublicKey, amount)
	if err := p.ledger.Execute(ctx, op); err != nil {
		return fmt.Errorf("receive tokens: %w", err)
	}
	p.logger.WithFields(logrus.Fields{
		"governance": accounts[0].PublicKey.String(),
		"amount":     amount,
	}).Info("tokens received")
	return nil
}

// send accounts: governance, governance authority PDA, governance tokens, recipient tokens, token program.
func (p *Program) send(ctx context.Context, accounts []solana.AccountMeta, amount uint64) error {
	if err := need(accounts, 5); err != nil {
		return err
	}
	governance := accounts[0].PublicKey
	if err := p.initialized(governance); err != nil {
		return err
	}
	if accounts[4].PublicKey != solana.TokenProgramID {
		return ErrInvalidTokenProgram
	}
	authority, _, err := FindAuthority(governance)
	if err != nil {
		return err
	}
	if accounts[1].PublicKey != authority {
		return ErrInvalidAuthority
	}

	op := token.Transfer(accounts[2].PublicKey, accounts[3].PublicKey, authority, amount)
	if err := p.ledger.Execute(ctx, op); err != nil {
		return fmt.Errorf("send tokens: %w", err)
	}
	p.logger.WithFields(logrus.Fields{
		"governance": governance.String(),
		"recipient":  accounts[3].PublicKey.String(),
		"amount":     amount,
	}).Info("tokens sent")
	return nil
}

func (p *Program) initialized(governance solana.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.states[governance]; !ok {
		return ErrNotInitialized
	}
	return nil
}

func need(accounts []solana.AccountMeta, n int) error {
	if len(accounts) < n {
		return fmt.Errorf("%w: need %d accounts, got %d", ErrInvalidInstruction, n, len(accounts))
	}
	return nil
}
