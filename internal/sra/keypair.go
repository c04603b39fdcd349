package sra

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const maxKeygenTries = 128

// KeyPair is one player's exponent pair over the session modulus. E is
// disclosed during the reveal phase so other players can audit the shuffle;
// D never leaves this process.
type KeyPair struct {
	E *big.Int // encryption exponent
	D *big.Int // decryption exponent, E*D == 1 (mod Phi)
	N *big.Int // session modulus
}

// GenerateKeyPair draws a random encryption exponent coprime to the session
// totient and derives the matching decryption exponent. The pair is probed
// with a test value before being returned, so a session carrying a bogus
// totient surfaces here as an error instead of corrupting the deck later.
func GenerateKeyPair(random io.Reader, sess *Session) (*KeyPair, error) {
	if sess == nil {
		return nil, fmt.Errorf("sra: nil session")
	}
	for tries := 0; tries < maxKeygenTries; tries++ {
		e, err := rand.Int(random, sess.Phi)
		if err != nil {
			return nil, fmt.Errorf("sra: drawing exponent: %w", err)
		}
		if e.Cmp(one) <= 0 {
			continue
		}
		if new(big.Int).GCD(nil, nil, e, sess.Phi).Cmp(one) != 0 {
			continue
		}
		d := new(big.Int).ModInverse(e, sess.Phi)
		if d == nil {
			continue
		}
		kp := &KeyPair{E: e, D: d, N: new(big.Int).Set(sess.N)}
		if !kp.roundTrips() {
			return nil, fmt.Errorf("sra: session parameters do not yield a working exponent pair")
		}
		return kp, nil
	}
	return nil, fmt.Errorf("sra: no exponent coprime to totient after %d tries", maxKeygenTries)
}

func (k *KeyPair) roundTrips() bool {
	probe := big.NewInt(2)
	c, err := k.Encrypt(probe)
	if err != nil {
		return false
	}
	return k.Decrypt(c).Cmp(probe) == 0
}

// Encrypt raises m to the encryption exponent mod N. The plaintext must be
// in (0, N); zero is rejected because it is a fixed point that would leak
// through every layer.
func (k *KeyPair) Encrypt(m *big.Int) (*big.Int, error) {
	if m == nil || m.Sign() <= 0 {
		return nil, fmt.Errorf("sra: plaintext must be positive")
	}
	if m.Cmp(k.N) >= 0 {
		return nil, fmt.Errorf("sra: plaintext not reduced mod modulus")
	}
	return new(big.Int).Exp(m, k.E, k.N), nil
}

// Decrypt removes this key's layer from a ciphertext. Input is reduced mod
// N first, so bytes straight off the wire are accepted; nonsense in yields
// nonsense out and is caught when the plaintext fails to decode as a card.
func (k *KeyPair) Decrypt(c *big.Int) *big.Int {
	reduced := new(big.Int).Mod(c, k.N)
	return reduced.Exp(reduced, k.D, k.N)
}
