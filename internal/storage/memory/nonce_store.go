package memory

import (
	"context"
	"sync"

	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// sweepEvery is the number of inserts between full expiry sweeps.
const sweepEvery = 1024

type nonceKey struct {
	signer solana.PublicKey
	nonce  string
}

// NonceStore is an in-memory implementation of storage.NonceStore.
type NonceStore struct {
	mu      sync.Mutex
	entries map[nonceKey]int64
	inserts int
}

// NewNonceStore creates an empty nonce store.
func NewNonceStore() *NonceStore {
	return &NonceStore{entries: make(map[nonceKey]int64)}
}

// Use records the nonce or fails with storage.ErrDuplicateKey.
func (s *NonceStore) Use(_ context.Context, signer solana.PublicKey, nonce string, now, expiresAt int64) error {
	if nonce == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := nonceKey{signer: signer, nonce: nonce}
	if exp, ok := s.entries[k]; ok && exp > now {
		return storage.ErrDuplicateKey
	}
	s.entries[k] = expiresAt

	s.inserts++
	if s.inserts%sweepEvery == 0 {
		for key, exp := range s.entries {
			if exp <= now {
				delete(s.entries, key)
			}
		}
	}
	return nil
}

// Len returns the number of recorded nonces.
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ storage.NonceStore = (*NonceStore)(nil)
