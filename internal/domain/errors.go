package domain

import (
	"errors"
	"fmt"
)

// Kind classifies ledger errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindArithmetic
	KindRelay
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindArithmetic:
		return "arithmetic"
	case KindRelay:
		return "relay"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error is a named ledger error. Sentinels below are compared with errors.Is.
type Error struct {
	Kind   Kind
	Code   string // stable name, e.g. PoolDoesNotExist
	Number uint32 // program error number, 6000-based
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newError(kind Kind, number uint32, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Number: number, Msg: msg}
}

// Ledger errors.
var (
	ErrPoolDoesNotExist    = newError(KindValidation, 6000, "PoolDoesNotExist", "pool does not exist")
	ErrInsufficientDeposit = newError(KindValidation, 6001, "InsufficientDeposit", "amount is less than minimum deposit")
	ErrInvalidAmount       = newError(KindValidation, 6002, "InvalidAmount", "invalid amount")
	ErrNoDeposit           = newError(KindState, 6003, "NoDeposit", "no deposit")
	ErrNothingToWithdraw   = newError(KindValidation, 6004, "NothingToWithdraw", "nothing to withdraw")
	ErrInsufficientAmount  = newError(KindValidation, 6005, "InsufficientAmount", "insufficient amount")
	ErrSwapNotSupported    = newError(KindValidation, 6007, "SwapNotSupported", "swap not supported")
	ErrUnauthorized        = newError(KindAuthorization, 6010, "Unauthorized", "unauthorized")
	ErrNoReward            = newError(KindState, 6011, "NoReward", "no reward")
	ErrArithmetic          = newError(KindArithmetic, 6013, "ArithmeticError", "arithmetic operation failed due to overflow or underflow")
	ErrCpi                 = newError(KindRelay, 6014, "CpiError", "cpi execution failed")
	ErrUnauthorizedSigner  = newError(KindAuthorization, 6015, "UnauthorizedSigner", "unauthorized signer in cpi")
	ErrInvalidProgramID    = newError(KindRelay, 6016, "InvalidProgramId", "invalid program id")
	ErrInvalidIndex        = newError(KindValidation, 6017, "InvalidIndex", "deposit index out of range")
	ErrInvalidApprovalType = newError(KindValidation, 6018, "InvalidApprovalType", "approval type must be 0, 1 or 2")
	ErrInvalidReferralBPS  = newError(KindValidation, 6019, "InvalidReferralBps", "referral bps must not exceed 10000")
	ErrInvalidInstruction  = newError(KindValidation, 6020, "InvalidInstruction", "malformed relay instruction")
	ErrAlreadyInitialized  = newError(KindState, 6021, "AlreadyInitialized", "protocol already initialized")
	ErrNotInitialized      = newError(KindState, 6022, "NotInitialized", "protocol not initialized")
	ErrTokenTransfer       = newError(KindRelay, 6023, "TokenTransferFailed", "token transfer failed")
	ErrLedgerInvariant     = newError(KindState, 6024, "LedgerInvariant", "balance does not match open deposits")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Arithmetic wraps a checked-math failure as ErrArithmetic.
func Arithmetic(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrArithmetic, err)
}
