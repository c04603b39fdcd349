package mental

import (
	"fmt"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
)

// DealPlan pins every card of a hand to a deck position before any reveal
// is requested, so all peers ask for exactly the same indices. Hole cards
// take consecutive positions per seat in deal order; burns and board cards
// then consume positions from one shared cursor.
type DealPlan struct {
	holeBySeat map[int][]int
	next       int
}

// NewDealPlan allocates hole-card positions for the given seats, in order.
// seatOrder is the deal rotation, beginning with the seat left of the
// dealer.
func NewDealPlan(seatOrder []int, cardsPerSeat int) (*DealPlan, error) {
	if len(seatOrder) < 2 {
		return nil, fmt.Errorf("mental: deal plan needs at least 2 seats")
	}
	if cardsPerSeat < 1 {
		return nil, fmt.Errorf("mental: deal plan needs at least 1 card per seat")
	}
	if len(seatOrder)*cardsPerSeat > cards.DeckSize {
		return nil, fmt.Errorf("%w: %d seats x %d cards", ErrDeckExhausted, len(seatOrder), cardsPerSeat)
	}
	plan := &DealPlan{holeBySeat: make(map[int][]int, len(seatOrder))}
	for _, seat := range seatOrder {
		if _, dup := plan.holeBySeat[seat]; dup {
			return nil, fmt.Errorf("mental: seat %d listed twice in deal order", seat)
		}
		positions := make([]int, cardsPerSeat)
		for i := range positions {
			positions[i] = plan.next
			plan.next++
		}
		plan.holeBySeat[seat] = positions
	}
	return plan, nil
}

// HolePositions returns the deck positions backing a seat's hole cards.
func (p *DealPlan) HolePositions(seat int) []int {
	return append([]int(nil), p.holeBySeat[seat]...)
}

// Burn consumes one position that is never revealed and returns it.
func (p *DealPlan) Burn() (int, error) {
	if p.next >= cards.DeckSize {
		return 0, ErrDeckExhausted
	}
	pos := p.next
	p.next++
	return pos, nil
}

// Take consumes the next n positions, for community cards or draw
// replacements.
func (p *DealPlan) Take(n int) ([]int, error) {
	if n < 1 {
		return nil, fmt.Errorf("mental: take needs n >= 1")
	}
	if p.next+n > cards.DeckSize {
		return nil, ErrDeckExhausted
	}
	out := make([]int, n)
	for i := range out {
		out[i] = p.next
		p.next++
	}
	return out, nil
}

// Used reports how many deck positions have been consumed.
func (p *DealPlan) Used() int { return p.next }
