package cards

import "strings"

// Hand is a mutable set of cards with a memoized evaluation. The cached
// value is invalidated by every mutation and recomputed lazily on the next
// Value or Rank call.
type Hand struct {
	cards     []Card
	memoValid bool
	memoValue uint32
}

func NewHand(cs ...Card) *Hand {
	h := &Hand{cards: make([]Card, 0, 7)}
	h.cards = append(h.cards, cs...)
	return h
}

func (h *Hand) AddCard(c Card) {
	h.cards = append(h.cards, c)
	h.memoValid = false
}

// RemoveCard removes the first occurrence of c and reports whether it was
// present.
func (h *Hand) RemoveCard(c Card) bool {
	for i, have := range h.cards {
		if have == c {
			h.cards = append(h.cards[:i], h.cards[i+1:]...)
			h.memoValid = false
			return true
		}
	}
	return false
}

func (h *Hand) Clear() {
	h.cards = h.cards[:0]
	h.memoValid = false
}

func (h *Hand) Len() int {
	return len(h.cards)
}

func (h *Hand) Contains(c Card) bool {
	for _, have := range h.cards {
		if have == c {
			return true
		}
	}
	return false
}

// Cards returns a copy; mutating it does not touch the hand.
func (h *Hand) Cards() []Card {
	return append([]Card(nil), h.cards...)
}

// Value evaluates the hand as a 5-card poker hand. Hands that are not
// exactly 5 cards evaluate to 0.
func (h *Hand) Value() uint32 {
	if !h.memoValid {
		h.memoValue = Value(h.cards)
		h.memoValid = true
	}
	return h.memoValue
}

func (h *Hand) Rank() HandRank {
	return HandRank(h.Value() >> 20)
}

func (h *Hand) String() string {
	parts := make([]string, 0, len(h.cards))
	for _, c := range h.cards {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " ")
}
