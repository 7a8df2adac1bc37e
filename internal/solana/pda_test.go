package solana

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProgramAddress_KnownVector(t *testing.T) {
	programID := MustPublicKey("BPFLoaderUpgradeab1e11111111111111111111111")

	pk, err := CreateProgramAddress([][]byte{{}, {1}}, programID)
	require.NoError(t, err)
	assert.Equal(t, "BwqrghZA2htAcqq8dzP1WDAhTXYTYWj7CHxF5j7TDBAe", pk.String())
}

func TestCreateProgramAddress_SeedTooLong(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{bytes.Repeat([]byte{1}, MaxSeedLength+1)}, SystemProgramID)
	assert.True(t, errors.Is(err, ErrMaxSeedLengthExceeded))
}

func TestFindProgramAddress(t *testing.T) {
	pk, bump, err := FindProgramAddress([][]byte{[]byte("protocol")}, GovernanceProgramID)
	require.NoError(t, err)

	assert.Equal(t, "2q6JsNsk8geLKXtg3bKs7fCkkb67QKZ1Mh1kRA8CsmMx", pk.String())
	assert.Equal(t, uint8(254), bump)
	assert.False(t, IsOnCurve(pk[:]))

	again, err := CreateProgramAddress([][]byte{[]byte("protocol"), {bump}}, GovernanceProgramID)
	require.NoError(t, err)
	assert.Equal(t, pk, again)
}

func TestFindAssociatedTokenAddress(t *testing.T) {
	ata, err := FindAssociatedTokenAddress(SystemProgramID, NativeMint)
	require.NoError(t, err)
	assert.Equal(t, "aqxoAhCwpy3oB1BpNw9hL1HdLYLgPpbPjzxDrrQj3Fs", ata.String())
}

func TestIsOnCurve(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	assert.True(t, IsOnCurve(pub))
	assert.False(t, IsOnCurve(pub[:16]))
}
