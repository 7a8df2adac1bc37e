package governance

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"dextra-ledger/internal/solana"
)

// Instruction names. The first 8 bytes of sha256("global:<name>") prefix the data.
const (
	NameInitialize       = "initialize"
	NameIncrementCounter = "increment_counter"
	NameReceiveTokens    = "receive_tokens"
	NameSendTokens       = "send_tokens"
	NameWillFail         = "will_fail"
)

// AuthoritySeed is the seed of the PDA that owns a governance account's tokens.
const AuthoritySeed = "governance"

type discriminator [8]byte

func discriminatorOf(name string) discriminator {
	var d discriminator
	sum := sha256.Sum256([]byte("global:" + name))
	copy(d[:], sum[:8])
	return d
}

var (
	discInitialize = discriminatorOf(NameInitialize)
	discIncrement  = discriminatorOf(NameIncrementCounter)
	discReceive    = discriminatorOf(NameReceiveTokens)
	discSend       = discriminatorOf(NameSendTokens)
	discWillFail   = discriminatorOf(NameWillFail)
)

// Data returns the instruction data of a call without arguments.
func Data(name string) []byte {
	d := discriminatorOf(name)
	return d[:]
}

// AmountData returns the instruction data of a call taking a u64 amount.
func AmountData(name string, amount uint64) []byte {
	d := discriminatorOf(name)
	data := make([]byte, 16)
	copy(data, d[:])
	binary.LittleEndian.PutUint64(data[8:], amount)
	return data
}

func decode(data []byte) (discriminator, []byte, error) {
	var d discriminator
	if len(data) < len(d) {
		return d, nil, fmt.Errorf("%w: %d bytes", ErrInvalidInstruction, len(data))
	}
	copy(d[:], data)
	return d, data[len(d):], nil
}

func decodeAmount(args []byte) (uint64, error) {
	if len(args) < 8 {
		return 0, fmt.Errorf("%w: missing amount", ErrInvalidInstruction)
	}
	return binary.LittleEndian.Uint64(args[:8]), nil
}

// FindAuthority returns the token authority PDA of a governance account.
func FindAuthority(governance solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(AuthoritySeed), governance[:]}, solana.GovernanceProgramID)
}

// NewInitializeInstruction sets authority as the governance account's authority.
func NewInitializeInstruction(governance, authority solana.PublicKey) solana.Instruction {
	return solana.Instruction{
		ProgramID: solana.GovernanceProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: governance, IsWritable: true},
			{PublicKey: authority, IsSigner: true, IsWritable: true},
		},
		Data: Data(NameInitialize),
	}
}

// NewIncrementCounterInstruction bumps the counter; authority must sign.
func NewIncrementCounterInstruction(governance, authority solana.PublicKey) solana.Instruction {
	return solana.Instruction{
		ProgramID: solana.GovernanceProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: governance, IsWritable: true},
			{PublicKey: authority, IsSigner: true},
		},
		Data: Data(NameIncrementCounter),
	}
}

// NewReceiveTokensInstruction moves amount from sender into the governance token account.
func NewReceiveTokensInstruction(governance, sender, governanceTokens, senderAuthority solana.PublicKey, amount uint64) solana.Instruction {
	return solana.Instruction{
		ProgramID: solana.GovernanceProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: governance},
			{PublicKey: sender, IsWritable: true},
			{PublicKey: governanceTokens, IsWritable: true},
			{PublicKey: senderAuthority, IsSigner: true},
			{PublicKey: solana.TokenProgramID},
		},
		Data: AmountData(NameReceiveTokens, amount),
	}
}

// NewSendTokensInstruction moves amount out of the governance token account,
// signed by the governance authority PDA.
func NewSendTokensInstruction(governance, governanceTokens, recipient solana.PublicKey, amount uint64) (solana.Instruction, error) {
	authority, _, err := FindAuthority(governance)
	if err != nil {
		return solana.Instruction{}, err
	}
	return solana.Instruction{
		ProgramID: solana.GovernanceProgramID,
		Accounts: []solana.AccountMeta{
			{PublicKey: governance},
			{PublicKey: authority},
			{PublicKey: governanceTokens, IsWritable: true},
			{PublicKey: recipient, IsWritable: true},
			{PublicKey: solana.TokenProgramID},
		},
		Data: AmountData(NameSendTokens, amount),
	}, nil
}

// NewWillFailInstruction always fails.
func NewWillFailInstruction() solana.Instruction {
	return solana.Instruction{ProgramID: solana.GovernanceProgramID, Data: Data(NameWillFail)}
}
