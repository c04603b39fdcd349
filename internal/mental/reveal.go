package mental

import (
	"fmt"
	"math/big"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
)

// revealState tracks one card's progress from ciphertext to plaintext.
// current always carries the ciphertext with every provided layer removed;
// each partial decryption replaces it.
type revealState struct {
	current  *big.Int
	provided []bool
	count    int
}

// ProvidePartialDecrypt removes this player's own layer from a card's
// current reveal value and returns the result for broadcast. Pure: the
// local bookkeeping only changes when the partial comes back through
// ReceivePartialDecrypt, the same path every peer takes.
func (p *Protocol) ProvidePartialDecrypt(cardIndex int) (*big.Int, error) {
	if p.state != Dealt && p.state != Revealing {
		return nil, fmt.Errorf("%w: partial decrypt in %s", ErrWrongState, p.state)
	}
	if cardIndex < 0 || cardIndex >= len(p.deck.Cards) {
		return nil, fmt.Errorf("%w: %d", ErrCardIndex, cardIndex)
	}
	current := p.deck.Cards[cardIndex].Ciphertext
	if rs := p.reveals[cardIndex]; rs != nil {
		if rs.provided[p.myPosition] {
			return nil, fmt.Errorf("%w: own layer already removed from card %d", ErrDuplicate, cardIndex)
		}
		current = rs.current
	}
	return p.keyPair.Decrypt(current), nil
}

// ReceivePartialDecrypt folds one player's partial decryption into a card's
// reveal state. Partials chain: each one must be computed over the value
// left by the previous one, which is exactly what every peer's bookkeeping
// holds. Once the last outstanding layer is removed the plaintext must
// decode as a card; if it does not, the partial is rejected and nothing is
// recorded.
func (p *Protocol) ReceivePartialDecrypt(cardIndex, playerIndex int, partial *big.Int) error {
	if p.state != Dealt && p.state != Revealing {
		return fmt.Errorf("%w: partial decrypt in %s", ErrWrongState, p.state)
	}
	if cardIndex < 0 || cardIndex >= len(p.deck.Cards) {
		return fmt.Errorf("%w: %d", ErrCardIndex, cardIndex)
	}
	if playerIndex < 0 || playerIndex >= p.numPlayers {
		return fmt.Errorf("%w: %d", ErrPlayerIndex, playerIndex)
	}
	if p.revealed[cardIndex] != nil {
		return fmt.Errorf("%w: card %d already revealed", ErrDuplicate, cardIndex)
	}
	if partial == nil || partial.Sign() <= 0 || partial.Cmp(p.session.N) >= 0 {
		return fmt.Errorf("%w: card %d player %d", ErrBadPartial, cardIndex, playerIndex)
	}
	inProvenance := false
	for _, pos := range p.deck.Cards[cardIndex].Encryptors {
		if pos == playerIndex {
			inProvenance = true
			break
		}
	}
	if !inProvenance {
		return fmt.Errorf("%w: player %d, card %d", ErrNotInProvenance, playerIndex, cardIndex)
	}

	rs := p.reveals[cardIndex]
	if rs == nil {
		rs = &revealState{
			current:  p.deck.Cards[cardIndex].Ciphertext,
			provided: make([]bool, p.numPlayers),
		}
	}
	if rs.provided[playerIndex] {
		return fmt.Errorf("%w: partial from player %d for card %d", ErrDuplicate, playerIndex, cardIndex)
	}

	// Validate to completion before committing anything, so a garbage final
	// partial cannot poison the accumulated state.
	complete := rs.count+1 == len(p.deck.Cards[cardIndex].Encryptors)
	var plain cards.Card
	if complete {
		card, err := sra.DecodeCard(partial)
		if err != nil {
			return fmt.Errorf("%w: card %d player %d: %v", ErrBadPartial, cardIndex, playerIndex, err)
		}
		plain = card
	}

	rs.provided[playerIndex] = true
	rs.count++
	rs.current = new(big.Int).Set(partial)
	p.reveals[cardIndex] = rs
	if complete {
		p.revealed[cardIndex] = &plain
	}
	p.state = Revealing
	return nil
}

// HasPartial reports whether playerIndex's layer has been removed from the
// card at cardIndex. Reveal relays use it to find the next position in the
// chain that still owes a partial.
func (p *Protocol) HasPartial(cardIndex, playerIndex int) bool {
	if p.reveals == nil || cardIndex < 0 || cardIndex >= len(p.reveals) {
		return false
	}
	if playerIndex < 0 || playerIndex >= p.numPlayers {
		return false
	}
	rs := p.reveals[cardIndex]
	return rs != nil && rs.provided[playerIndex]
}

// CardAt returns the plaintext at a deck position once every layer has been
// removed.
func (p *Protocol) CardAt(cardIndex int) (cards.Card, bool) {
	if p.revealed == nil || cardIndex < 0 || cardIndex >= len(p.revealed) {
		return 0, false
	}
	if c := p.revealed[cardIndex]; c != nil {
		return *c, true
	}
	return 0, false
}

// RevealedCount reports how many deck positions have reached plaintext.
func (p *Protocol) RevealedCount() int {
	n := 0
	for _, c := range p.revealed {
		if c != nil {
			n++
		}
	}
	return n
}
