// Package sra implements the commutative cipher the shuffle protocol runs
// on: SRA, modular exponentiation where every participant holds their own
// exponent pair over one shared composite modulus. Because
//
//	(m^e1)^e2 == (m^e2)^e1 (mod n)
//
// encryption layers from different players can be applied and removed in any
// order, which is what lets a deck be shuffled blind and opened card by card.
package sra

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	// DefaultModulusBits is the session modulus size used for real play.
	DefaultModulusBits = 1024

	// MinModulusBits is the smallest accepted modulus; anything below this
	// cannot even hold a card plaintext safely. Tests use small sessions,
	// production uses DefaultModulusBits.
	MinModulusBits = 16
)

var one = big.NewInt(1)

// Session holds the shared modulus and its totient. The first player of a
// game generates the session and distributes it to every accepted member;
// knowing Phi is what allows each member to derive the private half of
// their own exponent pair.
type Session struct {
	N   *big.Int // composite modulus p*q
	Phi *big.Int // Euler totient (p-1)(q-1)
}

// NewSession generates a fresh modulus of the given bit size from two
// distinct random primes.
func NewSession(random io.Reader, bits int) (*Session, error) {
	if bits < MinModulusBits {
		return nil, fmt.Errorf("sra: modulus size %d below minimum %d", bits, MinModulusBits)
	}
	if bits%2 != 0 {
		return nil, fmt.Errorf("sra: modulus size %d must be even", bits)
	}
	p, err := rand.Prime(random, bits/2)
	if err != nil {
		return nil, fmt.Errorf("sra: generating prime: %w", err)
	}
	q, err := rand.Prime(random, bits/2)
	if err != nil {
		return nil, fmt.Errorf("sra: generating prime: %w", err)
	}
	for q.Cmp(p) == 0 {
		if q, err = rand.Prime(random, bits/2); err != nil {
			return nil, fmt.Errorf("sra: generating prime: %w", err)
		}
	}
	n := new(big.Int).Mul(p, q)
	phi := new(big.Int).Mul(
		new(big.Int).Sub(p, one),
		new(big.Int).Sub(q, one),
	)
	return &Session{N: n, Phi: phi}, nil
}

// NewSessionFromParts rebuilds a session received from the game creator.
// Only structural checks are possible here; a dishonest totient is caught
// later by the exponent-pair round trip in GenerateKeyPair.
func NewSessionFromParts(n, phi *big.Int) (*Session, error) {
	if n == nil || phi == nil {
		return nil, fmt.Errorf("sra: nil session parameter")
	}
	if n.Sign() <= 0 || n.BitLen() < MinModulusBits {
		return nil, fmt.Errorf("sra: modulus too small")
	}
	if n.Bit(0) == 0 {
		return nil, fmt.Errorf("sra: modulus must be odd")
	}
	if phi.Sign() <= 0 || phi.Cmp(n) >= 0 {
		return nil, fmt.Errorf("sra: totient out of range")
	}
	return &Session{
		N:   new(big.Int).Set(n),
		Phi: new(big.Int).Set(phi),
	}, nil
}

// ByteLen is the width of the fixed-size buffers ciphertexts use on the wire.
func (s *Session) ByteLen() int {
	return (s.N.BitLen() + 7) / 8
}
