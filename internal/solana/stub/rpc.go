package stub

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"dextra-ledger/internal/solana"
)

// ErrNotFound is returned when a slot has no recorded block time.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu         sync.Mutex
	Accounts   map[string]*solana.AccountInfo
	BlockTimes map[int64]int64
	Slot       int64
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts:   make(map[string]*solana.AccountInfo),
		BlockTimes: make(map[int64]int64),
	}
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.Accounts[pubkey]
	if !ok {
		return nil, nil
	}
	infoCopy := *info
	return &infoCopy, nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Slot, nil
}

// GetBlockTime returns the block time recorded for slot.
func (c *RPCClient) GetBlockTime(_ context.Context, slot int64) (*int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bt, ok := c.BlockTimes[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return &bt, nil
}

// AddMint registers a mint account with the given decimals.
func (c *RPCClient) AddMint(mint solana.PublicKey, decimals uint8) {
	data := make([]byte, 82)
	data[44] = decimals

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[mint.String()] = &solana.AccountInfo{
		Owner: solana.TokenProgramID.String(),
		Data:  base64.StdEncoding.EncodeToString(data),
	}
}

// SetBlock sets the current slot and its block time.
func (c *RPCClient) SetBlock(slot, blockTime int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Slot = slot
	c.BlockTimes[slot] = blockTime
}

var _ solana.RPCClient = (*RPCClient)(nil)
