package cards

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Deck is the full 52-card deck with a monotonic deal cursor.
type Deck struct {
	cards [DeckSize]Card
	next  int
}

// NewDeck returns an ordered deck with the cursor at the top.
func NewDeck() *Deck {
	d := &Deck{}
	d.Reset()
	return d
}

// Reset restores sorted order and rewinds the cursor.
func (d *Deck) Reset() {
	for i := range d.cards {
		d.cards[i] = Card(i)
	}
	d.next = 0
}

// Shuffle applies the deterministic permutation derived from seed and
// rewinds the cursor. Identical seeds produce identical permutations on
// every peer, which is what makes a jointly-derived seed auditable after
// the hand.
func (d *Deck) Shuffle(seed [32]byte) {
	perm := Permutation(seed, len(d.cards))
	var out [DeckSize]Card
	for i, from := range perm {
		out[i] = d.cards[from]
	}
	d.cards = out
	d.next = 0
}

// Permutation expands a 32-byte seed into a Fisher-Yates permutation of n
// elements via a sha256 feed-forward stream: at step i the digest of
// (seed || LE32(i)) selects the swap index and becomes the seed for the
// next step. out[i] names the input position that lands at position i.
// The same schedule shuffles plaintext decks and encrypted decks, so one
// revealed seed lets any peer replay either.
func Permutation(seed [32]byte, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	state := seed
	for i := n - 1; i > 0; i-- {
		buf := make([]byte, len(state)+4)
		copy(buf, state[:])
		binary.LittleEndian.PutUint32(buf[len(state):], uint32(i))
		digest := sha256.Sum256(buf)
		j := int(binary.BigEndian.Uint32(digest[:4]) % uint32(i+1))
		out[i], out[j] = out[j], out[i]
		state = digest
	}
	return out
}

// Deal returns the next card, or false once all 52 have been consumed.
func (d *Deck) Deal() (Card, bool) {
	if d.next >= len(d.cards) {
		return 0, false
	}
	c := d.cards[d.next]
	d.next++
	return c, true
}

// Burn discards the next card without returning it.
func (d *Deck) Burn() bool {
	if d.next >= len(d.cards) {
		return false
	}
	d.next++
	return true
}

// Remaining reports how many cards are still undealt.
func (d *Deck) Remaining() int {
	return len(d.cards) - d.next
}

// Dealt reports how many cards the cursor has consumed.
func (d *Deck) Dealt() int {
	return d.next
}

// RestoreDeck rebuilds a deck from a saved ordering and deal cursor. The
// ordering must be a permutation of the full deck.
func RestoreDeck(order []Card, dealt int) (*Deck, error) {
	if len(order) != DeckSize {
		return nil, fmt.Errorf("cards: deck ordering has %d cards", len(order))
	}
	if dealt < 0 || dealt > DeckSize {
		return nil, fmt.Errorf("cards: deal cursor %d out of range", dealt)
	}
	var seen [DeckSize]bool
	d := &Deck{next: dealt}
	for i, c := range order {
		if !c.Valid() || seen[c] {
			return nil, fmt.Errorf("cards: deck ordering is not a permutation")
		}
		seen[c] = true
		d.cards[i] = c
	}
	return d, nil
}

// Cards returns a copy of the current ordering, cursor-independent.
func (d *Deck) Cards() []Card {
	out := make([]Card, len(d.cards))
	copy(out, d.cards[:])
	return out
}
