package mental

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
)

// EncryptedCard is a ciphertext plus the ordered positions of every player
// whose layer is on it. A card is recoverable only after each listed player
// has removed their layer.
type EncryptedCard struct {
	Ciphertext *big.Int
	Encryptors []int
}

func (c *EncryptedCard) clone() EncryptedCard {
	return EncryptedCard{
		Ciphertext: new(big.Int).Set(c.Ciphertext),
		Encryptors: append([]int(nil), c.Encryptors...),
	}
}

// EncryptedDeck is the deck as it travels between players during the
// shuffle phase: 52 ciphertexts and the positions that have shuffled so
// far, in order.
type EncryptedDeck struct {
	Cards     []EncryptedCard
	Shufflers []int
}

// Clone deep-copies the deck; the shuffle chain never mutates its input.
func (d *EncryptedDeck) Clone() *EncryptedDeck {
	out := &EncryptedDeck{
		Cards:     make([]EncryptedCard, len(d.Cards)),
		Shufflers: append([]int(nil), d.Shufflers...),
	}
	for i := range d.Cards {
		out.Cards[i] = d.Cards[i].clone()
	}
	return out
}

// CreateInitialDeck encodes all 52 cards, applies this player's encryption
// layer to each, and shuffles with a locally drawn secret seed. The result
// travels to the next position; it is not installed locally until the full
// chain comes back via InstallDeck.
func (p *Protocol) CreateInitialDeck(random io.Reader) (*EncryptedDeck, error) {
	if p.state != Shuffling {
		return nil, fmt.Errorf("%w: create deck in %s", ErrWrongState, p.state)
	}
	if p.deck != nil {
		return nil, fmt.Errorf("%w: deck", ErrDuplicate)
	}
	d := &EncryptedDeck{
		Cards:     make([]EncryptedCard, cards.DeckSize),
		Shufflers: []int{p.myPosition},
	}
	for id := 0; id < cards.DeckSize; id++ {
		m, err := sra.EncodeCard(cards.Card(id))
		if err != nil {
			return nil, err
		}
		ct, err := p.keyPair.Encrypt(m)
		if err != nil {
			return nil, err
		}
		d.Cards[id] = EncryptedCard{Ciphertext: ct, Encryptors: []int{p.myPosition}}
	}
	if err := shuffleEncrypted(d, random); err != nil {
		return nil, err
	}
	return d, nil
}

// EncryptAndShuffle applies this player's layer on top of a deck received
// from the previous position and reshuffles it. The input deck is left
// untouched.
func (p *Protocol) EncryptAndShuffle(in *EncryptedDeck, random io.Reader) (*EncryptedDeck, error) {
	if p.state != Shuffling {
		return nil, fmt.Errorf("%w: shuffle in %s", ErrWrongState, p.state)
	}
	if err := p.checkDeck(in, false); err != nil {
		return nil, err
	}
	for _, pos := range in.Shufflers {
		if pos == p.myPosition {
			return nil, fmt.Errorf("%w: position %d already shuffled", ErrProvenance, pos)
		}
	}
	out := in.Clone()
	for i := range out.Cards {
		ct, err := p.keyPair.Encrypt(out.Cards[i].Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("mental: card %d: %w", i, err)
		}
		out.Cards[i].Ciphertext = ct
		out.Cards[i].Encryptors = append(out.Cards[i].Encryptors, p.myPosition)
	}
	out.Shufflers = append(out.Shufflers, p.myPosition)
	if err := shuffleEncrypted(out, random); err != nil {
		return nil, err
	}
	return out, nil
}

// InstallDeck accepts the fully layered deck: every position must appear in
// the shuffle chain exactly once. Moves the protocol to Dealt and arms the
// reveal bookkeeping.
func (p *Protocol) InstallDeck(d *EncryptedDeck) error {
	if p.state != Shuffling {
		return fmt.Errorf("%w: install deck in %s", ErrWrongState, p.state)
	}
	if p.deck != nil {
		return fmt.Errorf("%w: deck", ErrDuplicate)
	}
	if err := p.checkDeck(d, true); err != nil {
		return err
	}
	p.deck = d.Clone()
	p.reveals = make([]*revealState, cards.DeckSize)
	p.revealed = make([]*cards.Card, cards.DeckSize)
	p.state = Dealt
	return nil
}

// Deck returns the installed deck, nil before InstallDeck.
func (p *Protocol) Deck() *EncryptedDeck {
	if p.deck == nil {
		return nil
	}
	return p.deck.Clone()
}

// Encryptors returns the layer order on one card of the installed deck,
// nil when no deck is installed or the index is out of range.
func (p *Protocol) Encryptors(cardIndex int) []int {
	if p.deck == nil || cardIndex < 0 || cardIndex >= len(p.deck.Cards) {
		return nil
	}
	return append([]int(nil), p.deck.Cards[cardIndex].Encryptors...)
}

// checkDeck validates structure: 52 cards, sane ciphertexts, and a uniform
// provenance equal to the shuffle chain. With complete set, the chain must
// cover every position exactly once.
func (p *Protocol) checkDeck(d *EncryptedDeck, complete bool) error {
	if d == nil || len(d.Cards) != cards.DeckSize {
		return ErrDeckSize
	}
	if len(d.Shufflers) == 0 {
		return fmt.Errorf("%w: empty shuffle chain", ErrProvenance)
	}
	seen := make(map[int]bool, len(d.Shufflers))
	for _, pos := range d.Shufflers {
		if pos < 0 || pos >= p.numPlayers {
			return fmt.Errorf("%w: shuffler %d", ErrPlayerIndex, pos)
		}
		if seen[pos] {
			return fmt.Errorf("%w: shuffler %d listed twice", ErrProvenance, pos)
		}
		seen[pos] = true
	}
	if complete && len(d.Shufflers) != p.numPlayers {
		return fmt.Errorf("%w: %d of %d layers applied", ErrProvenance, len(d.Shufflers), p.numPlayers)
	}
	for i := range d.Cards {
		c := &d.Cards[i]
		if c.Ciphertext == nil || c.Ciphertext.Sign() <= 0 || c.Ciphertext.Cmp(p.session.N) >= 0 {
			return fmt.Errorf("mental: card %d: ciphertext out of range", i)
		}
		if len(c.Encryptors) != len(d.Shufflers) {
			return fmt.Errorf("%w: card %d has %d layers, chain has %d", ErrProvenance, i, len(c.Encryptors), len(d.Shufflers))
		}
		for j, pos := range c.Encryptors {
			if pos != d.Shufflers[j] {
				return fmt.Errorf("%w: card %d layer %d", ErrProvenance, i, j)
			}
		}
	}
	return nil
}

// shuffleEncrypted permutes the deck with a secret seed drawn from random.
// Each shuffler's permutation stays private; joint fairness comes from the
// composition of all of them.
func shuffleEncrypted(d *EncryptedDeck, random io.Reader) error {
	if random == nil {
		random = rand.Reader
	}
	var seed [32]byte
	if _, err := io.ReadFull(random, seed[:]); err != nil {
		return fmt.Errorf("mental: drawing shuffle seed: %w", err)
	}
	perm := cards.Permutation(seed, len(d.Cards))
	out := make([]EncryptedCard, len(d.Cards))
	for i, from := range perm {
		out[i] = d.Cards[from]
	}
	d.Cards = out
	return nil
}
