package events

import (
	"crypto/sha256"
	"encoding/binary"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// escrowSeed is the constant seed prefix the program derives escrow
// accounts with; the second seed is the trade id as little-endian u64.
// The layout mirrors the escrow program's declared account derivation
// (seeds = ["escrow", trade_id]). If a deployed program version uses a
// different seed schema, every creation event logs an escrow address
// mismatch warning; this constant is the place to update.
var escrowSeed = []byte("escrow")

// DeriveEscrowAddress derives the program-derived address the escrow
// program allocates for a trade. Returns "" when no off-curve bump
// exists (cannot happen for real inputs, but the search is bounded).
func DeriveEscrowAddress(programID string, tradeID int64) string {
	program, err := base58.Decode(programID)
	if err != nil || len(program) != 32 {
		return ""
	}

	var idSeed [8]byte
	binary.LittleEndian.PutUint64(idSeed[:], uint64(tradeID))

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, len(escrowSeed)+8+1+32+21)
		data = append(data, escrowSeed...)
		data = append(data, idSeed[:]...)
		data = append(data, bump)
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		// PDAs must be off the ed25519 curve.
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}

	return ""
}

// VerifyEscrowAddress reports whether addr is the expected derived
// escrow address for the trade. Used as a payload sanity check only;
// a mismatch is logged upstream, never fatal.
func VerifyEscrowAddress(programID string, tradeID int64, addr string) bool {
	derived := DeriveEscrowAddress(programID, tradeID)
	return derived != "" && derived == addr
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
