package postgres

import (
	"context"
	"fmt"

	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

// NonceStore implements storage.NonceStore on the request_nonces table.
type NonceStore struct {
	pool *Pool
}

// NewNonceStore creates a new NonceStore.
func NewNonceStore(pool *Pool) *NonceStore {
	return &NonceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.NonceStore = (*NonceStore)(nil)

// Use records the nonce. An expired row for the same pair is overwritten in place;
// a live one leaves the upsert without effect and reports storage.ErrDuplicateKey.
func (s *NonceStore) Use(ctx context.Context, signer solana.PublicKey, nonce string, now, expiresAt int64) error {
	if nonce == "" {
		return storage.ErrInvalidInput
	}

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM request_nonces WHERE signer = $1 AND expires_at <= $2`,
		signer.String(), now,
	); err != nil {
		return fmt.Errorf("sweep nonces: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO request_nonces (signer, nonce, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (signer, nonce) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE request_nonces.expires_at <= $4
	`, signer.String(), nonce, expiresAt, now)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}
