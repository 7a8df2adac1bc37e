package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"dextra-ledger/internal/solana"
)

// Token program instruction tags.
const (
	InstructionTransfer uint8 = 3
	InstructionApprove  uint8 = 4
)

// Account slots of a transfer/approve instruction.
const (
	SlotSource      = 0
	SlotDestination = 1 // delegate for approve
	SlotOwner       = 2
)

// ErrInvalidInstructionData is returned for payloads shorter than tag+u64.
var ErrInvalidInstructionData = errors.New("invalid token instruction data")

// EncodeAmount encodes tag followed by a little-endian u64.
func EncodeAmount(tag uint8, amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = tag
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

// DecodeAmount returns the tag and amount of a transfer/approve payload.
func DecodeAmount(data []byte) (uint8, uint64, error) {
	if len(data) < 9 {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrInvalidInstructionData, len(data))
	}
	return data[0], binary.LittleEndian.Uint64(data[1:9]), nil
}

// NewTransferInstruction builds a token program transfer.
func NewTransferInstruction(source, destination, owner solana.PublicKey, amount uint64) solana.Instruction {
	return solana.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: source, IsWritable: true},
			{PublicKey: destination, IsWritable: true},
			{PublicKey: owner, IsSigner: true},
		},
		Data: EncodeAmount(InstructionTransfer, amount),
	}
}

// NewApproveInstruction builds a token program approve.
func NewApproveInstruction(source, delegate, owner solana.PublicKey, amount uint64) solana.Instruction {
	return solana.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: source, IsWritable: true},
			{PublicKey: delegate},
			{PublicKey: owner, IsSigner: true},
		},
		Data: EncodeAmount(InstructionApprove, amount),
	}
}

// DecodeOp converts a token program instruction into a ledger op.
func DecodeOp(ix solana.Instruction) (Op, error) {
	if ix.ProgramID != solana.TokenProgramID {
		return Op{}, fmt.Errorf("not a token program instruction: %s", ix.ProgramID)
	}
	if len(ix.Accounts) <= SlotOwner {
		return Op{}, fmt.Errorf("%w: need 3 accounts, got %d", ErrInvalidInstructionData, len(ix.Accounts))
	}
	tag, amount, err := DecodeAmount(ix.Data)
	if err != nil {
		return Op{}, err
	}

	from := ix.Accounts[SlotSource].PublicKey
	to := ix.Accounts[SlotDestination].PublicKey
	authority := ix.Accounts[SlotOwner].PublicKey

	switch tag {
	case InstructionTransfer:
		return Transfer(from, to, authority, amount), nil
	case InstructionApprove:
		return Approve(from, to, authority, amount), nil
	default:
		return Op{}, fmt.Errorf("%w: unsupported tag %d", ErrInvalidInstructionData, tag)
	}
}
