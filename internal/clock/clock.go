// Package clock provides the ledger's time source in unix seconds.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dextra-ledger/internal/solana"
)

// Clock returns the current time in unix seconds.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// System reads the wall clock.
type System struct{}

// Now returns time.Now in unix seconds.
func (System) Now(context.Context) (int64, error) {
	return time.Now().Unix(), nil
}

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual returns a clock fixed at now.
func NewManual(now int64) *Manual {
	return &Manual{now: now}
}

// Now returns the current setting.
func (m *Manual) Now(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now, nil
}

// Set moves the clock to now.
func (m *Manual) Set(now int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Advance moves the clock forward by seconds.
func (m *Manual) Advance(seconds int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += seconds
}

// BlockTimeSource reads the block time of the current slot.
type BlockTimeSource interface {
	CurrentBlockTime(ctx context.Context) (int64, error)
}

// RPC uses the cluster's block time as the ledger clock.
type RPC struct {
	source BlockTimeSource
}

// NewRPC returns a clock backed by source.
func NewRPC(source BlockTimeSource) *RPC {
	return &RPC{source: source}
}

// Now returns the block time of the latest slot.
func (c *RPC) Now(ctx context.Context) (int64, error) {
	ts, err := c.source.CurrentBlockTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("rpc clock: %w", err)
	}
	return ts, nil
}

var (
	_ Clock           = System{}
	_ Clock           = (*Manual)(nil)
	_ Clock           = (*RPC)(nil)
	_ BlockTimeSource = (*solana.HTTPClient)(nil)
)
