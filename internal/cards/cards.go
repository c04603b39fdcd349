package cards

import "fmt"

// Suit is one of the four French suits, ordered clubs < diamonds < hearts < spades.
type Suit uint8

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

func (s Suit) String() string {
	switch s {
	case Clubs:
		return "c"
	case Diamonds:
		return "d"
	case Hearts:
		return "h"
	case Spades:
		return "s"
	default:
		return "?"
	}
}

// Card is a 0..51 id, where:
// - rank = (id / 4) + 2  (2..14, 14 = ace)
// - suit = (id % 4)      (0..3)
//
// This is the wire representation: every card crosses the network as this
// single byte, so all peers agree on the mapping.
type Card uint8

const DeckSize = 52

// New builds a Card from a rank in 2..14 and a suit in 0..3.
func New(rank uint8, suit Suit) (Card, error) {
	if rank < 2 || rank > 14 {
		return 0, fmt.Errorf("cards: invalid rank %d", rank)
	}
	if suit > Spades {
		return 0, fmt.Errorf("cards: invalid suit %d", suit)
	}
	return Card(uint8(rank-2)*4 + uint8(suit)), nil
}

func (c Card) Rank() uint8 { // 2..14
	return uint8(c/4) + 2
}

func (c Card) Suit() Suit { // 0..3
	return Suit(c % 4)
}

// Valid reports whether the byte encodes a real card.
func (c Card) Valid() bool {
	return c < DeckSize
}

func (c Card) String() string {
	if !c.Valid() {
		return "??"
	}
	return string([]byte{rankChar(c.Rank())}) + c.Suit().String()
}

func rankChar(r uint8) byte {
	switch r {
	case 14:
		return 'A'
	case 13:
		return 'K'
	case 12:
		return 'Q'
	case 11:
		return 'J'
	case 10:
		return 'T'
	default:
		return byte('0' + r)
	}
}

// Parse reads the two-character form produced by String, e.g. "As", "Td", "2c".
func Parse(s string) (Card, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("cards: cannot parse %q", s)
	}
	var rank uint8
	switch s[0] {
	case 'A':
		rank = 14
	case 'K':
		rank = 13
	case 'Q':
		rank = 12
	case 'J':
		rank = 11
	case 'T':
		rank = 10
	default:
		if s[0] < '2' || s[0] > '9' {
			return 0, fmt.Errorf("cards: invalid rank char %q", s[0])
		}
		rank = s[0] - '0'
	}
	var suit Suit
	switch s[1] {
	case 'c':
		suit = Clubs
	case 'd':
		suit = Diamonds
	case 'h':
		suit = Hearts
	case 's':
		suit = Spades
	default:
		return 0, fmt.Errorf("cards: invalid suit char %q", s[1])
	}
	return New(rank, suit)
}

// MustParse is Parse for test fixtures and tables; it panics on bad input.
func MustParse(s string) Card {
	c, err := Parse(s)
	if err != nil {
		panic(err.Error())
	}
	return c
}
