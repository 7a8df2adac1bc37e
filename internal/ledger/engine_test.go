package ledger

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dextra-ledger/internal/clock"
	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/events"
	"dextra-ledger/internal/governance"
	"dextra-ledger/internal/observability"
	"dextra-ledger/internal/relay"
	"dextra-ledger/internal/runtime"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
	"dextra-ledger/internal/storage/memory"
	"dextra-ledger/internal/token"
)

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	pk[31] = 0x17
	return pk
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	engine   *Engine
	store    *memory.Store
	tokens   *token.MemoryLedger
	clock    *clock.Manual
	recorder *events.Recorder
	gov      *governance.Program
	metrics  *observability.Metrics

	owner, alice, bob, carol solana.PublicKey
	depositMint, rewardMint  solana.PublicKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	h := &harness{
		t:           t,
		ctx:         context.Background(),
		store:       memory.NewStore(),
		tokens:      token.NewMemoryLedger(),
		clock:       clock.NewManual(t0),
		recorder:    events.NewRecorder(),
		metrics:     observability.NewMetrics("test", prometheus.NewRegistry()),
		owner:       key(1),
		alice:       key(2),
		bob:         key(3),
		carol:       key(4),
		depositMint: key(20),
		rewardMint:  key(21),
	}
	h.tokens.CreateMint(h.depositMint, 6)
	h.tokens.CreateMint(h.rewardMint, 6)

	h.gov = governance.NewProgram(h.tokens, logger)
	rt := runtime.New(logger, token.NewProgram(h.tokens), h.gov)
	gate, err := relay.NewGate(key(99), rt, []solana.PublicKey{solana.GovernanceProgramID}, logger)
	require.NoError(t, err)

	h.engine, err = New(Options{
		Store:   h.store,
		Tokens:  h.tokens,
		Clock:   h.clock,
		Gate:    gate,
		Mints:   token.NewMintResolver(h.tokens),
		Sink:    h.recorder,
		Metrics: h.metrics,
		Logger:  logger,
	})
	require.NoError(t, err)

	_, err = h.engine.Initialize(h.ctx, h.owner)
	require.NoError(t, err)
	return h
}

// addPool registers a pool and funds both vaults.
func (h *harness) addPool(params AddPoolParams, depositVault, rewardVault uint64) uint64 {
	h.t.Helper()
	if params.DepositToken.IsZero() {
		params.DepositToken = h.depositMint
	}
	if params.RewardToken.IsZero() {
		params.RewardToken = h.rewardMint
	}
	pool, err := h.engine.AddPool(h.ctx, h.owner, params)
	require.NoError(h.t, err)

	h.mintTo(h.vault(params.DepositToken), depositVault)
	h.mintTo(h.vault(params.RewardToken), rewardVault)
	return pool.ID
}

func (h *harness) scenarioPool() uint64 {
	return h.addPool(AddPoolParams{
		MinimumDeposit: 100,
		LockPeriod:     domain.SecondsPerDay,
		Rate:           1_000_000,
		APY:            3650,
	}, 0, 10_000)
}

func (h *harness) vault(mint solana.PublicKey) solana.PublicKey {
	h.t.Helper()
	v, err := h.engine.Vault(mint)
	require.NoError(h.t, err)
	return v
}

func (h *harness) ata(owner, mint solana.PublicKey) solana.PublicKey {
	h.t.Helper()
	addr, err := h.tokens.EnsureAssociated(h.ctx, owner, mint)
	require.NoError(h.t, err)
	return addr
}

func (h *harness) mintTo(addr solana.PublicKey, amount uint64) {
	h.t.Helper()
	if amount > 0 {
		require.NoError(h.t, h.tokens.MintTo(addr, amount))
	}
}

func (h *harness) fund(owner, mint solana.PublicKey, amount uint64) {
	h.mintTo(h.ata(owner, mint), amount)
}

func (h *harness) approve(user solana.PublicKey, t domain.ApprovalType) {
	h.t.Helper()
	require.NoError(h.t, h.engine.Approve(h.ctx, h.owner, user, t))
}

func (h *harness) account(poolID uint64, user solana.PublicKey) *domain.UserAccount {
	h.t.Helper()
	var u *domain.UserAccount
	require.NoError(h.t, h.store.View(h.ctx, func(tx storage.Tx) error {
		var err error
		u, err = tx.Users().Get(h.ctx, poolID, user)
		return err
	}))
	require.NoError(h.t, u.CheckBalance(), "balance must equal open deposits")
	return u
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestInitialize_Twice(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Initialize(h.ctx, h.alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	p, err := h.engine.Protocol(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, h.owner, p.Owner)
	assert.Equal(t, h.owner, p.Governance)
	assert.Equal(t, domain.DefaultReferralBPS, p.ReferralBPS)
}

func TestDeposit_NotInitialized(t *testing.T) {
	h := newHarness(t)
	fresh, err := New(Options{
		Store:  memory.NewStore(),
		Tokens: h.tokens,
		Clock:  h.clock,
		Gate:   h.engine.gate,
	})
	require.NoError(t, err)

	_, err = fresh.Deposit(h.ctx, h.alice, 0, 1000, solana.PublicKey{})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestScenarioA_OneDayAccrual(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 1000)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 1000, solana.PublicKey{})
	require.NoError(t, err)

	claimable, err := h.engine.Claimable(h.ctx, poolID, h.alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), claimable)

	h.clock.Advance(domain.SecondsPerDay)
	claimable, err = h.engine.Claimable(h.ctx, poolID, h.alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), claimable)

	assert.Equal(t, uint64(1000), h.tokens.Balance(h.vault(h.depositMint)))
	assert.Equal(t, uint64(0), h.tokens.Balance(h.ata(h.alice, h.depositMint)))
}

func TestScenarioB_WithdrawBeforeUnlock(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 1000)
	h.approve(h.alice, domain.ApproveBoth)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 1000, solana.PublicKey{})
	require.NoError(t, err)

	h.clock.Advance(domain.SecondsPerDay - 1)
	_, err = h.engine.Withdraw(h.ctx, h.alice, poolID)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)
	assert.Equal(t, uint64(1000), h.account(poolID, h.alice).Balance)
}

func TestDeposit_Validation(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 1000)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID+1, 1000, solana.PublicKey{})
	assert.ErrorIs(t, err, domain.ErrPoolDoesNotExist)

	_, err = h.engine.Deposit(h.ctx, h.alice, poolID, 0, solana.PublicKey{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.engine.Deposit(h.ctx, h.alice, poolID, 99, solana.PublicKey{})
	assert.ErrorIs(t, err, domain.ErrInsufficientDeposit)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	assert.Empty(t, h.recorder.Events())
}

func TestDeposit_RecordsDepositAndEvent(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 1000)

	u, err := h.engine.Deposit(h.ctx, h.alice, poolID, 600, h.bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), u.Balance)
	assert.Equal(t, t0, u.StakeStartedAt)
	assert.Equal(t, t0, u.LastClaimAt)
	assert.Equal(t, h.bob, u.Referrer)
	require.Len(t, u.Deposits, 1)
	assert.Equal(t, domain.Deposit{Amount: 600, CreatedAt: t0, LockedUntil: t0 + domain.SecondsPerDay}, u.Deposits[0])

	evs := h.recorder.Events()
	require.Len(t, evs, 1)
	assert.NotEmpty(t, evs[0].ID)
	assert.Equal(t, domain.EventDeposit, evs[0].Type)
	assert.Equal(t, uint64(600), evs[0].Amount)
	require.NotNil(t, evs[0].Referrer)
	assert.Equal(t, h.bob, *evs[0].Referrer)

	h.clock.Advance(100)
	u, err = h.engine.Deposit(h.ctx, h.alice, poolID, 400, solana.PublicKey{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), u.Balance)
	assert.Equal(t, t0, u.StakeStartedAt, "stake start is kept")
	assert.Equal(t, t0+100, u.LastClaimAt)

	n, err := h.engine.DepositCount(h.ctx, poolID, h.alice)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d, err := h.engine.DepositInfo(h.ctx, poolID, h.alice, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), d.Amount)

	_, err = h.engine.DepositInfo(h.ctx, poolID, h.alice, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidIndex)
}

func TestDeposit_ReferrerIsWriteOnce(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 1000)
	h.fund(h.carol, h.depositMint, 1000)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 100, h.alice)
	require.NoError(t, err)
	assert.False(t, h.account(poolID, h.alice).HasReferrer(), "self referral is ignored")

	_, err = h.engine.Deposit(h.ctx, h.alice, poolID, 100, h.bob)
	require.NoError(t, err)
	_, err = h.engine.Deposit(h.ctx, h.alice, poolID, 100, h.carol)
	require.NoError(t, err)

	assert.Equal(t, h.bob, h.account(poolID, h.alice).Referrer)
	p, err := h.engine.Protocol(h.ctx)
	require.NoError(t, err)
	ref, ok := p.ReferrerOf(h.alice)
	require.True(t, ok)
	assert.Equal(t, h.bob, ref)

	// A link made in one pool follows the user into another.
	other := h.scenarioPool()
	u, err := h.engine.Deposit(h.ctx, h.alice, other, 100, h.carol)
	require.NoError(t, err)
	assert.Equal(t, h.bob, u.Referrer)
}

func TestDeposit_TokenFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 1000, h.bob)
	assert.ErrorIs(t, err, domain.ErrTokenTransfer)

	n, err := h.engine.DepositCount(h.ctx, poolID, h.alice)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	p, err := h.engine.Protocol(h.ctx)
	require.NoError(t, err)
	_, linked := p.ReferrerOf(h.alice)
	assert.False(t, linked, "referrer link must roll back with the deposit")
	assert.Empty(t, h.recorder.Events())
}

func TestWithdraw_ClearsOnlyUnlockedDeposits(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 10_000)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 1000, solana.PublicKey{})
	require.NoError(t, err)
	h.clock.Advance(domain.SecondsPerDay)
	_, err = h.engine.Deposit(h.ctx, h.alice, poolID, 500, solana.PublicKey{})
	require.NoError(t, err)

	_, err = h.engine.Withdraw(h.ctx, h.alice, poolID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	h.approve(h.alice, domain.ApproveWithdraw)
	got, err := h.engine.Withdraw(h.ctx, h.alice, poolID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got)

	u := h.account(poolID, h.alice)
	assert.Equal(t, uint64(500), u.Balance)
	assert.True(t, u.Deposits[0].Withdrawn)
	assert.False(t, u.Deposits[1].Withdrawn)
	assert.Equal(t, t0+domain.SecondsPerDay, u.LastClaimAt)
	assert.Equal(t, uint64(1), u.PendingReward, "reward earned before the second deposit is kept")

	available, err := h.engine.AvailableForWithdraw(h.ctx, poolID, h.alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), available)

	assert.Equal(t, uint64(9500), h.tokens.Balance(h.ata(h.alice, h.depositMint)))
	assert.Equal(t, uint64(500), h.tokens.Balance(h.vault(h.depositMint)))
}

func TestWithdraw_FullExitResetsTimestamps(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 1000)
	h.approve(h.alice, domain.ApproveBoth)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 1000, solana.PublicKey{})
	require.NoError(t, err)
	h.clock.Advance(domain.SecondsPerDay)

	_, err = h.engine.Withdraw(h.ctx, h.alice, poolID)
	require.NoError(t, err)

	u := h.account(poolID, h.alice)
	assert.Equal(t, uint64(0), u.Balance)
	assert.Equal(t, int64(0), u.StakeStartedAt)
	assert.Equal(t, int64(0), u.LastClaimAt)
	assert.Equal(t, uint64(1), u.PendingReward)

	_, err = h.engine.Withdraw(h.ctx, h.alice, poolID)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)

	// Reward locked in at withdrawal stays claimable without a balance.
	res, err := h.engine.Claim(h.ctx, h.alice, poolID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Amount)
	assert.Equal(t, int64(0), h.account(poolID, h.alice).LastClaimAt)
}

func TestClaim_PaysRewardAndReferral(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 1_000_000)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 1_000_000, h.bob)
	require.NoError(t, err)
	h.clock.Advance(domain.SecondsPerDay)

	_, err = h.engine.Claim(h.ctx, h.alice, poolID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	h.approve(h.alice, domain.ApproveClaim)
	h.recorder.Reset()
	res, err := h.engine.Claim(h.ctx, h.alice, poolID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.Amount)
	assert.Equal(t, uint64(20), res.ReferralAmount)
	require.NotNil(t, res.Referrer)
	assert.Equal(t, h.bob, *res.Referrer)

	assert.Equal(t, uint64(1000), h.tokens.Balance(h.ata(h.alice, h.rewardMint)))
	assert.Equal(t, uint64(20), h.tokens.Balance(h.ata(h.bob, h.rewardMint)))
	assert.Equal(t, uint64(10_000-1020), h.tokens.Balance(h.vault(h.rewardMint)))

	u := h.account(poolID, h.alice)
	assert.Equal(t, uint64(0), u.PendingReward)
	assert.Equal(t, uint64(1000), u.TotalClaimed)
	assert.Equal(t, t0+domain.SecondsPerDay, u.LastClaimAt)

	evs := h.recorder.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventClaim, evs[0].Type)
	assert.Equal(t, uint64(1000), evs[0].Amount)

	_, err = h.engine.Claim(h.ctx, h.alice, poolID)
	assert.ErrorIs(t, err, domain.ErrNoReward)
}

func TestClaim_NoDeposit(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.approve(h.alice, domain.ApproveClaim)

	_, err := h.engine.Claim(h.ctx, h.alice, poolID)
	assert.ErrorIs(t, err, domain.ErrNoDeposit)
}

func TestClaim_EmptyVaultRollsBack(t *testing.T) {
	h := newHarness(t)
	poolID := h.addPool(AddPoolParams{
		MinimumDeposit: 100,
		LockPeriod:     domain.SecondsPerDay,
		Rate:           1_000_000,
		APY:            3650,
	}, 0, 0)
	h.fund(h.alice, h.depositMint, 1_000_000)
	h.approve(h.alice, domain.ApproveClaim)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 1_000_000, solana.PublicKey{})
	require.NoError(t, err)
	h.clock.Advance(domain.SecondsPerDay)

	_, err = h.engine.Claim(h.ctx, h.alice, poolID)
	assert.ErrorIs(t, err, domain.ErrTokenTransfer)

	u := h.account(poolID, h.alice)
	assert.Equal(t, uint64(0), u.TotalClaimed)
	assert.Equal(t, t0, u.LastClaimAt)

	claimable, err := h.engine.Claimable(h.ctx, poolID, h.alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), claimable)
}

func TestScenarioC_SwapRoundTrip(t *testing.T) {
	h := newHarness(t)
	poolID := h.addPool(AddPoolParams{
		MinimumDeposit: 1,
		SwapEnabled:    true,
		Rate:           500_000,
		APY:            3650,
	}, 0, 500_000)
	h.fund(h.alice, h.depositMint, 1_000_000)

	received, err := h.engine.Swap(h.ctx, h.alice, poolID, 1_000_000, DepositToReward)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), received)
	assert.Equal(t, uint64(0), h.tokens.Balance(h.ata(h.alice, h.depositMint)))
	assert.Equal(t, uint64(500_000), h.tokens.Balance(h.ata(h.alice, h.rewardMint)))

	back, err := h.engine.Swap(h.ctx, h.alice, poolID, received, RewardToDeposit)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), back)
	assert.Equal(t, uint64(1_000_000), h.tokens.Balance(h.ata(h.alice, h.depositMint)))
	assert.Equal(t, uint64(0), h.tokens.Balance(h.ata(h.alice, h.rewardMint)))

	evs := h.recorder.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventSwap, evs[1].Type)
	assert.True(t, evs[1].Direction)
	assert.Equal(t, uint64(1_000_000), evs[1].ReceivedAmount)
}

func TestScenarioC_SwapTruncation(t *testing.T) {
	h := newHarness(t)
	poolID := h.addPool(AddPoolParams{
		MinimumDeposit: 1,
		SwapEnabled:    true,
		Rate:           300_000,
		APY:            3650,
	}, 100, 100)
	h.fund(h.alice, h.depositMint, 7)

	received, err := h.engine.Swap(h.ctx, h.alice, poolID, 7, DepositToReward)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), received)

	back, err := h.engine.Swap(h.ctx, h.alice, poolID, received, RewardToDeposit)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), back, "each leg truncates")
}

func TestSwap_Rejections(t *testing.T) {
	h := newHarness(t)
	disabled := h.addPool(AddPoolParams{MinimumDeposit: 100, Rate: 1_000_000, APY: 3650}, 0, 0)
	enabled := h.addPool(AddPoolParams{SwapEnabled: true, Rate: 500_000, APY: 3650}, 0, 10)
	h.fund(h.alice, h.depositMint, 1000)

	_, err := h.engine.Swap(h.ctx, h.alice, disabled, 100, DepositToReward)
	assert.ErrorIs(t, err, domain.ErrSwapNotSupported)

	_, err = h.engine.Swap(h.ctx, h.alice, enabled, 0, DepositToReward)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.engine.Swap(h.ctx, h.alice, enabled, 1, DepositToReward)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount, "quote rounds to zero")

	// Vault holds 10 reward tokens; the second leg fails and the first is undone.
	_, err = h.engine.Swap(h.ctx, h.alice, enabled, 1000, DepositToReward)
	assert.ErrorIs(t, err, domain.ErrTokenTransfer)
	assert.Equal(t, uint64(1000), h.tokens.Balance(h.ata(h.alice, h.depositMint)))
	assert.Equal(t, uint64(0), h.tokens.Balance(h.vault(h.depositMint)))
}

func TestAdmin_Authorization(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()

	_, err := h.engine.AddPool(h.ctx, h.alice, AddPoolParams{DepositToken: h.depositMint, RewardToken: h.rewardMint})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.UpdateRate(h.ctx, h.alice, poolID, 1), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.UpdateAPY(h.ctx, h.alice, poolID, 1), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.UpdatePool(h.ctx, h.alice, poolID, UpdatePoolParams{}), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.Approve(h.ctx, h.alice, h.alice, domain.ApproveBoth), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.SetReferralBPS(h.ctx, h.alice, 10), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.VerifyOwnerOrGovernance(h.ctx, h.alice), domain.ErrUnauthorized)

	// Governance gains admin rights but not ownership.
	require.NoError(t, h.engine.SetGovernance(h.ctx, h.owner, h.carol))
	assert.NoError(t, h.engine.VerifyOwnerOrGovernance(h.ctx, h.carol))
	assert.NoError(t, h.engine.UpdateRate(h.ctx, h.carol, poolID, 2_000_000))
	assert.ErrorIs(t, h.engine.SetGovernance(h.ctx, h.carol, h.carol), domain.ErrUnauthorized)
	assert.ErrorIs(t, h.engine.SetGovernance(h.ctx, h.owner, solana.PublicKey{}), domain.ErrInvalidInstruction)

	assert.ErrorIs(t, h.engine.SetReferralBPS(h.ctx, h.owner, domain.MaxBPS+1), domain.ErrInvalidReferralBPS)
	assert.ErrorIs(t, h.engine.Approve(h.ctx, h.owner, h.alice, 3), domain.ErrInvalidApprovalType)
}

func TestAdmin_RateHistory(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()

	require.NoError(t, h.engine.UpdateRate(h.ctx, h.owner, poolID, 1_500_000))
	apy, rate, err := h.engine.RateAndAPY(h.ctx, poolID, t0+10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3650), apy)
	assert.Equal(t, uint64(1_500_000), rate, "same-day update replaces")

	h.clock.Advance(domain.SecondsPerDay)
	apyNext := uint64(7300)
	require.NoError(t, h.engine.UpdatePool(h.ctx, h.owner, poolID, UpdatePoolParams{
		PoolParams: domain.PoolParams{MinimumDeposit: 50, LockPeriod: 60, SwapEnabled: true},
		APY:        &apyNext,
	}))

	apy, rate, err = h.engine.RateAndAPY(h.ctx, poolID, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3650), apy)
	assert.Equal(t, uint64(1_500_000), rate)

	apy, _, err = h.engine.RateAndAPY(h.ctx, poolID, t0+domain.SecondsPerDay)
	require.NoError(t, err)
	assert.Equal(t, uint64(7300), apy)

	pool, err := h.engine.Pool(h.ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), pool.MinimumDeposit)
	assert.Equal(t, int64(60), pool.LockPeriod)
	assert.True(t, pool.SwapEnabled)

	err = h.engine.UpdatePool(h.ctx, h.owner, poolID, UpdatePoolParams{PoolParams: domain.PoolParams{LockPeriod: -1}})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	count, err := h.engine.PoolCount(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestSetFlag_Revokes(t *testing.T) {
	h := newHarness(t)
	h.approve(h.alice, domain.ApproveBoth)
	require.NoError(t, h.engine.SetFlag(h.ctx, h.owner, h.alice, domain.ApproveClaim, false))

	p, err := h.engine.Protocol(h.ctx)
	require.NoError(t, err)
	assert.False(t, p.CanClaim(h.alice))
	assert.True(t, p.CanWithdraw(h.alice))
}

func TestApproveAndSetFlag_RecordedSeparately(t *testing.T) {
	h := newHarness(t)
	ops := h.metrics.OperationsTotal

	h.approve(h.alice, domain.ApproveBoth)
	require.NoError(t, h.engine.SetFlag(h.ctx, h.owner, h.alice, domain.ApproveClaim, false))
	require.NoError(t, h.engine.SetFlag(h.ctx, h.owner, h.bob, domain.ApproveWithdraw, true))
	assert.ErrorIs(t, h.engine.Approve(h.ctx, h.alice, h.bob, domain.ApproveClaim), domain.ErrUnauthorized)

	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("approve", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("approve", domain.KindAuthorization.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(ops.WithLabelValues("set_flag", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ops.WithLabelValues("set_flag", domain.KindAuthorization.String())))
}

func TestScenarioD_MasscallRejectsForeignSigner(t *testing.T) {
	h := newHarness(t)
	h.scenarioPool()
	sink := h.ata(h.owner, h.rewardMint)

	req := relay.Request{
		Caller:  h.owner,
		Signers: []solana.PublicKey{h.owner},
		Target:  solana.TokenProgramID,
		Payload: token.EncodeAmount(token.InstructionTransfer, 500),
		Accounts: []solana.AccountMeta{
			{PublicKey: h.vault(h.rewardMint), IsWritable: true},
			{PublicKey: sink, IsWritable: true},
			{PublicKey: h.engine.Authority()},
			{PublicKey: h.carol, IsSigner: true},
		},
	}

	_, err := h.engine.Masscall(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedSigner)
	assert.Equal(t, uint64(10_000), h.tokens.Balance(h.vault(h.rewardMint)))
	assert.Equal(t, uint64(0), h.tokens.Balance(sink))

	req.Accounts = req.Accounts[:3]
	req.Caller = h.alice
	_, err = h.engine.Masscall(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	req.Caller = h.owner
	d, err := h.engine.Masscall(h.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, relay.CapProtocolTransfer, d.Capability)
	assert.Equal(t, uint64(500), h.tokens.Balance(sink))
}

func TestMasscall_GovernanceProgram(t *testing.T) {
	h := newHarness(t)
	h.scenarioPool()
	authority := h.engine.Authority()
	gov := key(50)
	govAuthority, _, err := governance.FindAuthority(gov)
	require.NoError(t, err)
	govVault := h.ata(govAuthority, h.rewardMint)
	sink := h.ata(h.owner, h.rewardMint)

	call := func(ix solana.Instruction) (relay.Dispatch, error) {
		return h.engine.Masscall(h.ctx, relay.Request{
			Caller:   h.owner,
			Signers:  []solana.PublicKey{h.owner},
			Target:   ix.ProgramID,
			Payload:  ix.Data,
			Accounts: ix.Accounts,
		})
	}

	d, err := call(governance.NewInitializeInstruction(gov, authority))
	require.NoError(t, err)
	assert.Equal(t, relay.CapForwardSigned, d.Capability)
	assert.True(t, d.Signed)

	_, err = call(governance.NewIncrementCounterInstruction(gov, authority))
	require.NoError(t, err)
	state, ok := h.gov.State(gov)
	require.True(t, ok)
	assert.Equal(t, authority, state.Authority)
	assert.Equal(t, uint64(1), state.Counter)

	// The owner's own key may not be flagged as a signer on a forwarded call.
	_, err = call(governance.NewIncrementCounterInstruction(gov, h.owner))
	assert.ErrorIs(t, err, domain.ErrUnauthorizedSigner)

	d, err = call(governance.NewReceiveTokensInstruction(gov, h.vault(h.rewardMint), govVault, authority, 4_000))
	require.NoError(t, err)
	assert.Equal(t, relay.CapForwardSigned, d.Capability)
	assert.Equal(t, uint64(6_000), h.tokens.Balance(h.vault(h.rewardMint)))
	assert.Equal(t, uint64(4_000), h.tokens.Balance(govVault))

	send, err := governance.NewSendTokensInstruction(gov, govVault, sink, 1_500)
	require.NoError(t, err)
	d, err = call(send)
	require.NoError(t, err)
	assert.Equal(t, relay.CapForward, d.Capability)
	assert.False(t, d.Signed)
	assert.Equal(t, uint64(2_500), h.tokens.Balance(govVault))
	assert.Equal(t, uint64(1_500), h.tokens.Balance(sink))

	_, err = call(governance.NewWillFailInstruction())
	assert.ErrorIs(t, err, domain.ErrCpi)
	assert.ErrorIs(t, err, governance.ErrIntentionalFailure)

	state, _ = h.gov.State(gov)
	assert.Equal(t, uint64(1), state.Counter)
}

func TestQueries_MissingRecords(t *testing.T) {
	h := newHarness(t)

	n, err := h.engine.DepositCount(h.ctx, 7, h.alice)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = h.engine.UserInfo(h.ctx, 7, h.alice)
	assert.ErrorIs(t, err, domain.ErrPoolDoesNotExist)

	poolID := h.scenarioPool()
	_, err = h.engine.UserInfo(h.ctx, poolID, h.alice)
	assert.ErrorIs(t, err, domain.ErrNoDeposit)

	_, err = h.engine.DepositInfo(h.ctx, poolID, h.alice, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidIndex)
}

func TestUserInfo(t *testing.T) {
	h := newHarness(t)
	poolID := h.scenarioPool()
	h.fund(h.alice, h.depositMint, 1_000_000)
	h.approve(h.alice, domain.ApproveClaim)

	_, err := h.engine.Deposit(h.ctx, h.alice, poolID, 1_000_000, h.bob)
	require.NoError(t, err)
	h.clock.Advance(domain.SecondsPerDay)

	info, err := h.engine.UserInfo(h.ctx, poolID, h.alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), info.Balance)
	assert.Equal(t, uint64(1000), info.Claimable)
	assert.Equal(t, uint64(1_000_000), info.Withdrawable)
	assert.Equal(t, 1, info.DepositCount)
	assert.True(t, info.ClaimApproved)
	assert.False(t, info.WithdrawApproved)
	require.NotNil(t, info.Referrer)
	assert.Equal(t, h.bob, *info.Referrer)
}
