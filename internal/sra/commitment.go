package sra

import (
	"crypto/sha256"
	"math/big"
)

// CommitmentSize is the width of a key commitment in bytes.
const CommitmentSize = sha256.Size

// Commitment binds a player to an encryption exponent before any exponent
// is revealed. The hash is over the minimal big-endian encoding of the
// exponent, which both sides recompute from the parsed integer, so padding
// games cannot produce two exponents with the same commitment bytes.
func Commitment(exponent *big.Int) [CommitmentSize]byte {
	return sha256.Sum256(exponent.Bytes())
}

// Commitment returns the commitment to this key's encryption exponent.
func (k *KeyPair) Commitment() [CommitmentSize]byte {
	return Commitment(k.E)
}

// VerifyCommitment reports whether a revealed exponent matches the
// commitment recorded for it during the commit phase.
func VerifyCommitment(exponent *big.Int, commitment [CommitmentSize]byte) bool {
	if exponent == nil {
		return false
	}
	return Commitment(exponent) == commitment
}
