// Package ledger is the staking ledger engine: pool registry, stake ledger,
// reward accrual, withdrawals, claims with referral payouts, swaps and the
// admin and relay entry points. Every operation runs as one storage
// transaction; token movements execute last and a failure rolls back state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/clock"
	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/events"
	"dextra-ledger/internal/observability"
	"dextra-ledger/internal/relay"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
	"dextra-ledger/internal/token"
)

// Options for creating an Engine.
type Options struct {
	// Required
	Store  storage.Store
	Tokens token.Ledger
	Clock  clock.Clock
	Gate   *relay.Gate

	// Optional
	Mints   *token.MintResolver // nil resolves every mint to the fallback decimals
	Sink    events.Sink         // nil drops events
	Metrics *observability.Metrics
	Logger  logrus.FieldLogger

	// ReferralBPS overrides the default commission at initialize; 0 keeps the default.
	ReferralBPS uint64
}

// Engine executes ledger operations.
type Engine struct {
	store       storage.Store
	tokens      token.Ledger
	clock       clock.Clock
	gate        *relay.Gate
	mints       *token.MintResolver
	sink        events.Sink
	metrics     *observability.Metrics
	logger      logrus.FieldLogger
	referralBPS uint64
	newID       func() string
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("ledger: store is required")
	case opts.Tokens == nil:
		return nil, errors.New("ledger: token ledger is required")
	case opts.Clock == nil:
		return nil, errors.New("ledger: clock is required")
	case opts.Gate == nil:
		return nil, errors.New("ledger: relay gate is required")
	case opts.ReferralBPS > domain.MaxBPS:
		return nil, domain.ErrInvalidReferralBPS
	}

	e := &Engine{
		store:       opts.Store,
		tokens:      opts.Tokens,
		clock:       opts.Clock,
		gate:        opts.Gate,
		mints:       opts.Mints,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		referralBPS: opts.ReferralBPS,
		newID:       uuid.NewString,
	}
	if e.mints == nil {
		e.mints = token.NewMintResolver(nil)
	}
	if e.sink == nil {
		e.sink = events.Fanout(nil)
	}
	if e.logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		e.logger = l
	}
	e.logger = e.logger.WithField("component", "ledger")
	return e, nil
}

// Authority returns the protocol's delegated signing authority.
func (e *Engine) Authority() solana.PublicKey {
	return e.gate.Authority()
}

// Vault returns the custody account holding mint for the protocol.
func (e *Engine) Vault(mint solana.PublicKey) (solana.PublicKey, error) {
	return token.AssociatedAddress(e.gate.Authority(), mint)
}

// run times and logs one operation. fn receives the operation timestamp.
func (e *Engine) run(ctx context.Context, op string, fields logrus.Fields, fn func(now int64) error) error {
	started := time.Now()
	log := e.logger.WithField("op", op).WithFields(fields)

	now, err := e.clock.Now(ctx)
	if err == nil {
		err = fn(now)
	}

	result := "ok"
	if err != nil {
		result = domain.KindOf(err).String()
		log.WithError(err).WithField("kind", result).Debug("operation rejected")
	} else {
		log.Info("operation committed")
	}
	e.metrics.RecordOperation(op, result, time.Since(started).Seconds())
	return err
}

// emit delivers a committed event. Delivery failures are logged, never returned.
func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	ev.ID = e.newID()
	if err := e.sink.Emit(ctx, ev); err != nil {
		e.metrics.RecordEmitError(string(ev.Type))
		e.logger.WithError(err).WithField("event_id", ev.ID).Warn("event delivery failed")
	}
}

// execute moves tokens. It is called last inside a transaction so that a
// failed movement aborts the state change.
func (e *Engine) execute(ctx context.Context, ops ...token.Op) error {
	if err := e.tokens.Execute(ctx, ops...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTokenTransfer, err)
	}
	return nil
}

// loadProtocol reads the protocol state, mapping a missing record to ErrNotInitialized.
func loadProtocol(ctx context.Context, tx storage.Tx) (*domain.ProtocolState, error) {
	p, err := tx.Protocol().Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load protocol: %w", err)
	}
	return p, nil
}

// loadPool reads a pool after checking it is registered.
func loadPool(ctx context.Context, tx storage.Tx, protocol *domain.ProtocolState, id uint64) (*domain.Pool, error) {
	if !protocol.PoolExists(id) {
		return nil, domain.ErrPoolDoesNotExist
	}
	pool, err := tx.Pools().Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrPoolDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("load pool %d: %w", id, err)
	}
	return pool, nil
}

// loadUser reads a user account. Missing accounts are returned as new and empty.
func loadUser(ctx context.Context, tx storage.Tx, poolID uint64, owner solana.PublicKey) (*domain.UserAccount, error) {
	u, err := tx.Users().Get(ctx, poolID, owner)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NewUserAccount(poolID, owner), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user account: %w", err)
	}
	return u, nil
}

// saveUser checks the balance invariant and writes u.
func saveUser(ctx context.Context, tx storage.Tx, u *domain.UserAccount) error {
	if err := u.CheckBalance(); err != nil {
		return err
	}
	if err := tx.Users().Put(ctx, u); err != nil {
		return fmt.Errorf("save user account: %w", err)
	}
	return nil
}
