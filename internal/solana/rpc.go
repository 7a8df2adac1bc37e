package solana

import "context"

// RPCClient is the subset of the Solana JSON-RPC API the ledger consumes.
type RPCClient interface {
	// GetAccountInfo returns account info, or nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetSlot returns the current slot.
	GetSlot(ctx context.Context) (int64, error)

	// GetBlockTime returns the estimated production time of a slot, or nil if unknown.
	GetBlockTime(ctx context.Context, slot int64) (*int64, error)
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}
