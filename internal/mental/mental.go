// Package mental drives the commit → reveal → shuffle → deal → partial-decrypt
// choreography that lets N players share a deck nobody can read alone. One
// Protocol instance lives per player per hand; peers feed it the other
// players' messages and it enforces ordering: no public key before its
// commitment, no deck before all keys, no reveal before all layers are on.
package mental

import (
	"fmt"
	"io"
	"math/big"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
)

// State is the protocol stage. Transitions only move forward.
type State uint8

const (
	Uninitialized State = iota
	CommitCollection
	KeyReveal
	Shuffling
	Dealt
	Revealing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case CommitCollection:
		return "commit_collection"
	case KeyReveal:
		return "key_reveal"
	case Shuffling:
		return "shuffling"
	case Dealt:
		return "dealt"
	case Revealing:
		return "revealing"
	default:
		return "unknown"
	}
}

// Protocol tracks one player's view of the shared deck ceremony.
type Protocol struct {
	state      State
	numPlayers int
	myPosition int

	session *sra.Session
	keyPair *sra.KeyPair

	commitments []*[sra.CommitmentSize]byte // by position, nil until received
	publicKeys  []*big.Int                  // by position, nil until verified

	deck     *EncryptedDeck
	reveals  []*revealState // by deck position, nil until first partial
	revealed []*cards.Card  // by deck position, nil until plaintext known
}

func NewProtocol() *Protocol {
	return &Protocol{state: Uninitialized}
}

// Initialize fixes the table size and this player's seat in the ceremony
// order. Position 0 establishes the session and builds the initial deck.
func (p *Protocol) Initialize(numPlayers, myPosition int) error {
	if p.state != Uninitialized {
		return fmt.Errorf("%w: initialize in %s", ErrWrongState, p.state)
	}
	if numPlayers < 2 {
		return fmt.Errorf("mental: need at least 2 players, got %d", numPlayers)
	}
	if myPosition < 0 || myPosition >= numPlayers {
		return fmt.Errorf("%w: position %d of %d", ErrPlayerIndex, myPosition, numPlayers)
	}
	p.numPlayers = numPlayers
	p.myPosition = myPosition
	p.commitments = make([]*[sra.CommitmentSize]byte, numPlayers)
	p.publicKeys = make([]*big.Int, numPlayers)
	p.state = CommitCollection
	return nil
}

func (p *Protocol) State() State    { return p.state }
func (p *Protocol) NumPlayers() int { return p.numPlayers }
func (p *Protocol) MyPosition() int { return p.myPosition }

// Session exposes the shared modulus parameters, nil before establishment.
func (p *Protocol) Session() *sra.Session { return p.session }

// SetSession installs the session received from the game creator. Must land
// before this player generates keys, and only once.
func (p *Protocol) SetSession(sess *sra.Session) error {
	if p.state != CommitCollection {
		return fmt.Errorf("%w: set session in %s", ErrWrongState, p.state)
	}
	if p.session != nil {
		return ErrSessionFixed
	}
	if sess == nil {
		return ErrNoSession
	}
	p.session = sess
	return nil
}

// GenerateKeysAndCommit draws this player's exponent pair and returns the
// commitment to broadcast. The creator (no session installed yet) generates
// the session as a side effect; everyone else must have adopted one first.
func (p *Protocol) GenerateKeysAndCommit(random io.Reader, bits int) ([sra.CommitmentSize]byte, error) {
	var zero [sra.CommitmentSize]byte
	if p.state != CommitCollection {
		return zero, fmt.Errorf("%w: key generation in %s", ErrWrongState, p.state)
	}
	if p.keyPair != nil {
		return zero, fmt.Errorf("%w: key pair", ErrDuplicate)
	}
	sess := p.session
	if sess == nil {
		if p.myPosition != 0 {
			return zero, fmt.Errorf("%w: only the creator may generate one", ErrNoSession)
		}
		var err error
		if sess, err = sra.NewSession(random, bits); err != nil {
			return zero, err
		}
	}
	kp, err := sra.GenerateKeyPair(random, sess)
	if err != nil {
		return zero, err
	}
	commit := kp.Commitment()

	p.session = sess
	p.keyPair = kp
	p.commitments[p.myPosition] = &commit
	p.publicKeys[p.myPosition] = new(big.Int).Set(kp.E)
	p.maybeAdvanceCommits()
	return commit, nil
}

// ReceiveCommitment records another player's key commitment.
func (p *Protocol) ReceiveCommitment(i int, commitment [sra.CommitmentSize]byte) error {
	if p.state != CommitCollection {
		return fmt.Errorf("%w: commitment in %s", ErrWrongState, p.state)
	}
	if i < 0 || i >= p.numPlayers {
		return fmt.Errorf("%w: %d", ErrPlayerIndex, i)
	}
	if i == p.myPosition {
		return fmt.Errorf("%w: own commitment comes from key generation", ErrPlayerIndex)
	}
	if p.commitments[i] != nil {
		return fmt.Errorf("%w: commitment for player %d", ErrDuplicate, i)
	}
	c := commitment
	p.commitments[i] = &c
	p.maybeAdvanceCommits()
	return nil
}

// ReceivePublicKey verifies a revealed encryption exponent against the
// commitment recorded for that player. A key with no commitment on file, or
// whose hash does not match, is rejected outright; nothing about a key is
// trusted until this check passes.
func (p *Protocol) ReceivePublicKey(i int, key *big.Int) error {
	if p.state != KeyReveal {
		return fmt.Errorf("%w: public key in %s", ErrWrongState, p.state)
	}
	if i < 0 || i >= p.numPlayers {
		return fmt.Errorf("%w: %d", ErrPlayerIndex, i)
	}
	if i == p.myPosition {
		return fmt.Errorf("%w: own key is already on file", ErrPlayerIndex)
	}
	if p.publicKeys[i] != nil {
		return fmt.Errorf("%w: public key for player %d", ErrDuplicate, i)
	}
	commit := p.commitments[i]
	if commit == nil {
		return fmt.Errorf("%w: player %d", ErrNoCommitment, i)
	}
	if key == nil || !sra.VerifyCommitment(key, *commit) {
		return fmt.Errorf("%w: player %d", ErrCommitmentMismatch, i)
	}
	p.publicKeys[i] = new(big.Int).Set(key)
	if p.AllPublicKeysReceived() {
		p.state = Shuffling
	}
	return nil
}

// PublicKey returns a player's verified encryption exponent, nil if not yet
// revealed. Used for post-hand audits of the shuffle.
func (p *Protocol) PublicKey(i int) *big.Int {
	if i < 0 || i >= p.numPlayers || p.publicKeys[i] == nil {
		return nil
	}
	return new(big.Int).Set(p.publicKeys[i])
}

// AllCommitmentsReceived reports whether every seat, this one included, has
// a commitment on file.
func (p *Protocol) AllCommitmentsReceived() bool {
	if p.state == Uninitialized {
		return false
	}
	for _, c := range p.commitments {
		if c == nil {
			return false
		}
	}
	return true
}

// AllPublicKeysReceived reports whether every commitment has been matched
// by a verified key.
func (p *Protocol) AllPublicKeysReceived() bool {
	if p.state == Uninitialized {
		return false
	}
	for _, k := range p.publicKeys {
		if k == nil {
			return false
		}
	}
	return true
}

func (p *Protocol) maybeAdvanceCommits() {
	if p.keyPair != nil && p.AllCommitmentsReceived() {
		p.state = KeyReveal
	}
}
