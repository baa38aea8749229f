package events

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProgramID() string {
	var id [32]byte
	for i := range id {
		id[i] = byte(i + 1)
	}
	return base58.Encode(id[:])
}

func TestDeriveEscrowAddress(t *testing.T) {
	programID := testProgramID()

	addr := DeriveEscrowAddress(programID, 42)
	require.NotEmpty(t, addr)

	decoded, err := base58.Decode(addr)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	// Derivation is a pure function of (program, trade id).
	assert.Equal(t, addr, DeriveEscrowAddress(programID, 42))
	assert.NotEqual(t, addr, DeriveEscrowAddress(programID, 43))
}

func TestDeriveEscrowAddress_InvalidProgramID(t *testing.T) {
	assert.Empty(t, DeriveEscrowAddress("not-base58-!!!", 42))
	assert.Empty(t, DeriveEscrowAddress(base58.Encode([]byte("short")), 42))
}

func TestVerifyEscrowAddress(t *testing.T) {
	programID := testProgramID()
	addr := DeriveEscrowAddress(programID, 42)

	assert.True(t, VerifyEscrowAddress(programID, 42, addr))
	assert.False(t, VerifyEscrowAddress(programID, 43, addr))
	assert.False(t, VerifyEscrowAddress(programID, 42, pubkeyStr(9)))
	assert.False(t, VerifyEscrowAddress("bad-program", 42, addr))
}
