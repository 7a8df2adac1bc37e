package api

import (
	"errors"
	"net/http"
	"strconv"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/ledger"
	"dextra-ledger/internal/relay"
	"dextra-ledger/internal/solana"
)

type emptyRequest struct{}

type addPoolRequest struct {
	DepositToken   string `json:"deposit_token" validate:"required,pubkey"`
	RewardToken    string `json:"reward_token" validate:"required,pubkey"`
	MinimumDeposit uint64 `json:"minimum_deposit"`
	LockPeriod     int64  `json:"lock_period" validate:"gte=0"`
	SwapEnabled    bool   `json:"swap_enabled"`
	Rate           uint64 `json:"rate"`
	APY            uint64 `json:"apy"`
}

type updatePoolRequest struct {
	MinimumDeposit uint64  `json:"minimum_deposit"`
	LockPeriod     int64   `json:"lock_period" validate:"gte=0"`
	SwapEnabled    bool    `json:"swap_enabled"`
	Rate           *uint64 `json:"rate,omitempty"`
	APY            *uint64 `json:"apy,omitempty"`
}

type rateRequest struct {
	Rate uint64 `json:"rate"`
}

type apyRequest struct {
	APY uint64 `json:"apy"`
}

type depositRequest struct {
	Amount   uint64 `json:"amount"`
	Referrer string `json:"referrer,omitempty" validate:"omitempty,pubkey"`
}

type swapRequest struct {
	Amount    uint64 `json:"amount"`
	Direction bool   `json:"direction"` // false: deposit->reward, true: reward->deposit
}

type approveRequest struct {
	User         string              `json:"user" validate:"required,pubkey"`
	ApprovalType domain.ApprovalType `json:"approval_type"`
}

type flagRequest struct {
	User         string              `json:"user" validate:"required,pubkey"`
	ApprovalType domain.ApprovalType `json:"approval_type"`
	Value        bool                `json:"value"`
}

type governanceRequest struct {
	Governance string `json:"governance" validate:"required,pubkey"`
}

type referralRequest struct {
	BPS uint64 `json:"bps"`
}

type accountMetaRequest struct {
	PublicKey  string `json:"pubkey" validate:"required,pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

type masscallRequest struct {
	Target   string               `json:"target" validate:"required,pubkey"`
	Payload  []byte               `json:"payload"` // base64
	Accounts []accountMetaRequest `json:"accounts" validate:"dive"`
}

// Admin

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	var req emptyRequest
	if !decode(w, r, &req) {
		return
	}
	state, err := s.engine.Initialize(r.Context(), signerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) addPool(w http.ResponseWriter, r *http.Request) {
	var req addPoolRequest
	if !decode(w, r, &req) {
		return
	}
	pool, err := s.engine.AddPool(r.Context(), signerFrom(r.Context()), ledger.AddPoolParams{
		DepositToken:   parseKey(req.DepositToken),
		RewardToken:    parseKey(req.RewardToken),
		MinimumDeposit: req.MinimumDeposit,
		LockPeriod:     req.LockPeriod,
		SwapEnabled:    req.SwapEnabled,
		Rate:           req.Rate,
		APY:            req.APY,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (s *Server) updatePool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req updatePoolRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.engine.UpdatePool(r.Context(), signerFrom(r.Context()), id, ledger.UpdatePoolParams{
		PoolParams: domain.PoolParams{
			MinimumDeposit: req.MinimumDeposit,
			LockPeriod:     req.LockPeriod,
			SwapEnabled:    req.SwapEnabled,
		},
		Rate: req.Rate,
		APY:  req.APY,
	})
	s.respondPool(w, r, id, err)
}

func (s *Server) updateRate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req rateRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.engine.UpdateRate(r.Context(), signerFrom(r.Context()), id, req.Rate)
	s.respondPool(w, r, id, err)
}

func (s *Server) updateAPY(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req apyRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.engine.UpdateAPY(r.Context(), signerFrom(r.Context()), id, req.APY)
	s.respondPool(w, r, id, err)
}

func (s *Server) respondPool(w http.ResponseWriter, r *http.Request, id uint64, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.Pool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.Approve(r.Context(), signerFrom(r.Context()), parseKey(req.User), req.ApprovalType); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setFlag(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.SetFlag(r.Context(), signerFrom(r.Context()), parseKey(req.User), req.ApprovalType, req.Value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setGovernance(w http.ResponseWriter, r *http.Request) {
	var req governanceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.SetGovernance(r.Context(), signerFrom(r.Context()), parseKey(req.Governance)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setReferralBPS(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.SetReferralBPS(r.Context(), signerFrom(r.Context()), req.BPS); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) masscall(w http.ResponseWriter, r *http.Request) {
	var req masscallRequest
	if !decode(w, r, &req) {
		return
	}
	caller := signerFrom(r.Context())
	metas := make([]solana.AccountMeta, len(req.Accounts))
	for i, a := range req.Accounts {
		metas[i] = solana.AccountMeta{PublicKey: parseKey(a.PublicKey), IsSigner: a.IsSigner, IsWritable: a.IsWritable}
	}

	dispatch, err := s.engine.Masscall(r.Context(), relay.Request{
		Caller:   caller,
		Signers:  append([]solana.PublicKey{caller}, cosignersFrom(r.Context())...),
		Target:   parseKey(req.Target),
		Payload:  req.Payload,
		Accounts: metas,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatch)
}

// Staking

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	account, err := s.engine.Deposit(r.Context(), signerFrom(r.Context()), id, req.Amount, parseKey(req.Referrer))
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.Pool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amount":  newAmount(req.Amount, pool.DepositDecimals),
		"account": account,
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req emptyRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := s.engine.Withdraw(r.Context(), signerFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.Pool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": newAmount(amount, pool.DepositDecimals)})
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req emptyRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.Claim(r.Context(), signerFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.Pool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{
		"amount":          newAmount(res.Amount, pool.RewardDecimals),
		"referral_amount": newAmount(res.ReferralAmount, pool.RewardDecimals),
	}
	if res.Referrer != nil {
		body["referrer"] = res.Referrer
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) swap(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req swapRequest
	if !decode(w, r, &req) {
		return
	}
	received, err := s.engine.Swap(r.Context(), signerFrom(r.Context()), id, req.Amount, req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.Pool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	in, out := pool.DepositDecimals, pool.RewardDecimals
	if req.Direction == ledger.RewardToDeposit {
		in, out = out, in
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"direction": req.Direction,
		"amount":    newAmount(req.Amount, in),
		"received":  newAmount(received, out),
	})
}

// Queries

func (s *Server) getProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Protocol(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":        p.Owner,
		"governance":   p.Governance,
		"referral_bps": p.ReferralBPS,
		"pool_count":   p.PoolCount,
		"authority":    s.engine.Authority(),
	})
}

func (s *Server) isAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := pathKey(w, r, "user")
	if !ok {
		return
	}
	err := s.engine.VerifyOwnerOrGovernance(r.Context(), caller)
	if err != nil && !errors.Is(err, domain.ErrUnauthorized) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"admin": err == nil})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	stats := []ledger.PoolStats{}
	if s.stats != nil {
		stats = append(stats, s.stats.Last()...)
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.engine.Pools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) poolCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.PoolCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": n})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	pool, err := s.engine.Pool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *Server) rateAndAPY(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	ts, err := strconv.ParseInt(r.URL.Query().Get("ts"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidQuery", "ts must be a unix timestamp")
		return
	}
	apy, rate, err := s.engine.RateAndAPY(r.Context(), id, ts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":  domain.StartOfDay(ts),
		"apy":  apy,
		"rate": rate,
	})
}

func (s *Server) userInfo(w http.ResponseWriter, r *http.Request) {
	id, user, ok := poolAndUser(w, r)
	if !ok {
		return
	}
	info, err := s.engine.UserInfo(r.Context(), id, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) depositCount(w http.ResponseWriter, r *http.Request) {
	id, user, ok := poolAndUser(w, r)
	if !ok {
		return
	}
	n, err := s.engine.DepositCount(r.Context(), id, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) depositInfo(w http.ResponseWriter, r *http.Request) {
	id, user, ok := poolAndUser(w, r)
	if !ok {
		return
	}
	index, ok := pathUint(w, r, "index")
	if !ok {
		return
	}
	if index > uint64(^uint(0)>>1) {
		writeError(w, domain.ErrInvalidIndex)
		return
	}
	d, err := s.engine.DepositInfo(r.Context(), id, user, int(index))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) withdrawable(w http.ResponseWriter, r *http.Request) {
	id, user, ok := poolAndUser(w, r)
	if !ok {
		return
	}
	amount, err := s.engine.AvailableForWithdraw(r.Context(), id, user)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.Pool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": newAmount(amount, pool.DepositDecimals)})
}

func (s *Server) claimable(w http.ResponseWriter, r *http.Request) {
	id, user, ok := poolAndUser(w, r)
	if !ok {
		return
	}
	amount, err := s.engine.Claimable(r.Context(), id, user)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.Pool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": newAmount(amount, pool.RewardDecimals)})
}

func poolAndUser(w http.ResponseWriter, r *http.Request) (uint64, solana.PublicKey, bool) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return 0, solana.PublicKey{}, false
	}
	user, ok := pathKey(w, r, "user")
	if !ok {
		return 0, solana.PublicKey{}, false
	}
	return id, user, true
}
