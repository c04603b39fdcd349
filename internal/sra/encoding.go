package sra

import (
	"fmt"
	"math/big"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
)

// EncodeCard maps a card id to its cipher plaintext, id+1. The offset keeps
// zero out of the plaintext space: zero is preserved by exponentiation and
// would be readable through any number of encryption layers.
func EncodeCard(c cards.Card) (*big.Int, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("sra: invalid card %d", uint8(c))
	}
	return big.NewInt(int64(c) + 1), nil
}

// DecodeCard maps a fully decrypted plaintext back to a card. A value
// outside [1,52] means at least one encryption layer is still in place, or
// the ciphertext was tampered with.
func DecodeCard(m *big.Int) (cards.Card, error) {
	if m == nil {
		return 0, fmt.Errorf("sra: nil plaintext")
	}
	if !m.IsInt64() {
		return 0, fmt.Errorf("sra: plaintext does not decode to a card")
	}
	v := m.Int64()
	if v < 1 || v > cards.DeckSize {
		return 0, fmt.Errorf("sra: plaintext %d does not decode to a card", v)
	}
	return cards.Card(v - 1), nil
}

// FixedBytes renders v as a big-endian buffer exactly size bytes wide, the
// fixed-width form plaintexts and ciphertexts take on the wire. A card
// plaintext rendered this way is all zeros except the final byte, id+1.
func FixedBytes(v *big.Int, size int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("sra: value must be non-negative")
	}
	if (v.BitLen()+7)/8 > size {
		return nil, fmt.Errorf("sra: value wider than %d bytes", size)
	}
	out := make([]byte, size)
	v.FillBytes(out)
	return out, nil
}
