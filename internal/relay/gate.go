// Package relay implements masscall: an owner-only forwarder that lets the
// protocol authority co-sign calls into other programs. Every forwarded call
// falls into one of a closed set of capabilities, checked before dispatch.
package relay

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/runtime"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/token"
)

// AuthoritySeed is the seed of the protocol authority PDA.
const AuthoritySeed = "protocol"

// Capability names what a relayed call was allowed to do.
type Capability string

const (
	// CapProtocolTransfer moves tokens out of an account owned by the protocol authority.
	CapProtocolTransfer Capability = "protocol_transfer"
	// CapOwnerTransfer moves tokens on behalf of an external owner who signed the request.
	CapOwnerTransfer Capability = "owner_transfer"
	// CapForwardSigned forwards to an allowlisted program with the authority co-signing.
	CapForwardSigned Capability = "forward_signed"
	// CapForward forwards to an allowlisted program without authority signature.
	CapForward Capability = "forward"
)

// Invoker executes cross-program invocations.
type Invoker interface {
	Invoke(ctx context.Context, inv runtime.Invocation) error
}

// Request is one masscall.
type Request struct {
	Caller   solana.PublicKey     // must be the protocol owner
	Signers  []solana.PublicKey   // keys that signed the outer request
	Target   solana.PublicKey     // program to call
	Payload  []byte               // raw instruction data
	Accounts []solana.AccountMeta // accounts forwarded in order
}

// Dispatch describes an executed relay.
type Dispatch struct {
	Capability Capability `json:"capability"`
	Target     string     `json:"target"`
	Amount     uint64     `json:"amount,omitempty"` // token paths only
	Signed     bool       `json:"signed"`           // authority co-signed
}

// Gate validates and forwards masscalls.
type Gate struct {
	programID solana.PublicKey
	authority solana.PublicKey
	bump      uint8
	invoker   Invoker
	allowed   map[solana.PublicKey]struct{}
	logger    logrus.FieldLogger
}

// NewGate derives the authority PDA of programID and returns a gate that
// forwards generic calls only to the allowed programs.
func NewGate(programID solana.PublicKey, invoker Invoker, allowed []solana.PublicKey, logger logrus.FieldLogger) (*Gate, error) {
	authority, bump, err := solana.FindProgramAddress([][]byte{[]byte(AuthoritySeed)}, programID)
	if err != nil {
		return nil, fmt.Errorf("derive protocol authority: %w", err)
	}

	g := &Gate{
		programID: programID,
		authority: authority,
		bump:      bump,
		invoker:   invoker,
		allowed:   make(map[solana.PublicKey]struct{}, len(allowed)),
		logger:    logger.WithField("component", "relay"),
	}
	for _, p := range allowed {
		g.allowed[p] = struct{}{}
	}
	return g, nil
}

// Authority returns the protocol authority PDA.
func (g *Gate) Authority() solana.PublicKey { return g.authority }

// Bump returns the bump seed of the authority PDA.
func (g *Gate) Bump() uint8 { return g.bump }

// ProgramID returns the program the authority is derived from.
func (g *Gate) ProgramID() solana.PublicKey { return g.programID }

// SignerSeeds returns the seeds the protocol signs with.
func (g *Gate) SignerSeeds() [][][]byte {
	return [][][]byte{{[]byte(AuthoritySeed), {g.bump}}}
}

// Relay checks req against the signer rules and forwards it.
func (g *Gate) Relay(ctx context.Context, owner solana.PublicKey, req Request) (Dispatch, error) {
	if req.Caller != owner {
		return Dispatch{}, domain.ErrUnauthorized
	}
	if err := g.checkSigners(req); err != nil {
		return Dispatch{}, err
	}

	if req.Target == solana.TokenProgramID {
		return g.relayToken(ctx, req)
	}
	return g.forward(ctx, req)
}

// checkSigners allows a signer flag only on the authority PDA, or on the owner
// slot of a token program call when that key is not the authority and actually signed.
func (g *Gate) checkSigners(req Request) error {
	isToken := req.Target == solana.TokenProgramID
	for i, meta := range req.Accounts {
		if !meta.IsSigner {
			continue
		}
		log := g.logger.WithFields(logrus.Fields{"index": i, "signer": meta.PublicKey.String()})

		if isToken && i == token.SlotOwner {
			if meta.PublicKey == g.authority {
				log.Warn("authority flagged as token owner signer")
				return domain.ErrUnauthorizedSigner
			}
			if !contains(req.Signers, meta.PublicKey) {
				log.Warn("token owner did not sign")
				return domain.ErrUnauthorizedSigner
			}
			log.Debug("token owner signer allowed")
			continue
		}
		if meta.PublicKey != g.authority {
			log.Warn("unauthorized signer")
			return domain.ErrUnauthorizedSigner
		}
	}
	return nil
}

func (g *Gate) relayToken(ctx context.Context, req Request) (Dispatch, error) {
	if len(req.Accounts) <= token.SlotOwner {
		return Dispatch{}, fmt.Errorf("%w: token call needs source, destination and owner", domain.ErrInvalidInstruction)
	}
	tag, amount, err := token.DecodeAmount(req.Payload)
	if err != nil {
		return Dispatch{}, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	if tag != token.InstructionTransfer {
		return Dispatch{}, fmt.Errorf("%w: token instruction %d is not relayable", domain.ErrInvalidInstruction, tag)
	}

	source := req.Accounts[token.SlotSource].PublicKey
	destination := req.Accounts[token.SlotDestination].PublicKey
	owner := req.Accounts[token.SlotOwner]

	switch {
	case owner.PublicKey == g.authority:
		ix := token.NewTransferInstruction(source, destination, g.authority, amount)
		err = g.invoke(ctx, ix, req.Signers, true)
		return g.result(CapProtocolTransfer, req.Target, amount, true, err)

	case owner.IsSigner:
		ix := solana.Instruction{ProgramID: solana.TokenProgramID, Accounts: req.Accounts, Data: req.Payload}
		err = g.invoke(ctx, ix, req.Signers, false)
		return g.result(CapOwnerTransfer, req.Target, amount, false, err)

	default:
		g.logger.WithField("owner", owner.PublicKey.String()).Warn("token owner is neither authority nor signer")
		return Dispatch{}, domain.ErrUnauthorizedSigner
	}
}

func (g *Gate) forward(ctx context.Context, req Request) (Dispatch, error) {
	if _, ok := g.allowed[req.Target]; !ok {
		return Dispatch{}, fmt.Errorf("%w: %s", domain.ErrInvalidProgramID, req.Target)
	}

	ix := solana.Instruction{ProgramID: req.Target, Accounts: req.Accounts, Data: req.Payload}
	signed := ix.HasAccount(g.authority)
	err := g.invoke(ctx, ix, req.Signers, signed)
	if signed {
		return g.result(CapForwardSigned, req.Target, 0, true, err)
	}
	return g.result(CapForward, req.Target, 0, false, err)
}

func (g *Gate) invoke(ctx context.Context, ix solana.Instruction, signers []solana.PublicKey, signed bool) error {
	inv := runtime.Invocation{
		Caller:      g.programID,
		Instruction: ix,
		Signers:     signers,
	}
	if signed {
		inv.SignerSeeds = g.SignerSeeds()
	}
	return g.invoker.Invoke(ctx, inv)
}

func (g *Gate) result(capability Capability, target solana.PublicKey, amount uint64, signed bool, err error) (Dispatch, error) {
	if err != nil {
		g.logger.WithError(err).WithField("capability", capability).Warn("relay failed")
		return Dispatch{}, fmt.Errorf("%w: %w", domain.ErrCpi, err)
	}
	g.logger.WithFields(logrus.Fields{
		"capability": capability,
		"target":     target.String(),
		"amount":     amount,
	}).Info("relay executed")
	return Dispatch{Capability: capability, Target: target.String(), Amount: amount, Signed: signed}, nil
}

func contains(keys []solana.PublicKey, k solana.PublicKey) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
