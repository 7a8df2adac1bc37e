package solana

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	PublicKey  PublicKey `json:"pubkey"`
	IsSigner   bool      `json:"is_signer"`
	IsWritable bool      `json:"is_writable"`
}

// Instruction is a call into a program.
type Instruction struct {
	ProgramID PublicKey     `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// Signers returns the keys flagged as signers, in account order.
func (ix Instruction) Signers() []PublicKey {
	var out []PublicKey
	for _, meta := range ix.Accounts {
		if meta.IsSigner {
			out = append(out, meta.PublicKey)
		}
	}
	return out
}

// HasAccount reports whether key appears in the account list.
func (ix Instruction) HasAccount(key PublicKey) bool {
	for _, meta := range ix.Accounts {
		if meta.PublicKey == key {
			return true
		}
	}
	return false
}
