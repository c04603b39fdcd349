package game

import (
	"fmt"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
)

// MaxDrawDiscards caps a five-card-draw exchange.
const MaxDrawDiscards = 3

// beginDraw opens the replacement phase. Every seat still holding cards
// discards in turn, all-in seats included.
func (g *Game) beginDraw() {
	g.phase = PhaseDraw
	g.drawsDone = map[int]bool{}
	g.actingSeat = g.nextDrawSeat(g.dealerSeat)
	g.stampDeadline()
}

// nextDrawSeat walks clockwise to the next in-hand seat still owed its
// exchange; -1 once everyone has drawn.
func (g *Game) nextDrawSeat(from int) int {
	for step := 1; step <= g.cfg.MaxPlayers; step++ {
		s := (from + step) % g.cfg.MaxPlayers
		p := g.players[s]
		if p != nil && p.InHand() && !g.drawsDone[s] {
			return s
		}
	}
	return -1
}

// ProcessDiscard exchanges up to three of the acting seat's cards. An
// empty discard list stands pat. Each seat draws exactly once per hand.
func (g *Game) ProcessDiscard(key string, discards []int) error {
	return g.processDiscard(key, discards, false)
}

func (g *Game) processDiscard(key string, discards []int, auto bool) error {
	if g.phase != PhaseDraw {
		return fmt.Errorf("%w: no draw during %s", ErrWrongPhase, g.phase)
	}
	if len(g.pendingDraw) > 0 {
		return ErrAwaitingCards
	}
	p := g.Player(key)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, key)
	}
	if p.Seat != g.actingSeat {
		return fmt.Errorf("%w: draw is on seat %d", ErrNotYourTurn, g.actingSeat)
	}
	if len(discards) > MaxDrawDiscards {
		return fmt.Errorf("%w: at most %d cards", ErrBadDiscard, MaxDrawDiscards)
	}
	seen := map[int]bool{}
	for _, idx := range discards {
		if idx < 0 || idx >= p.HoleCount || seen[idx] {
			return fmt.Errorf("%w: index %d", ErrBadDiscard, idx)
		}
		seen[idx] = true
	}

	if len(discards) > 0 && len(p.HoleCards) == p.HoleCount {
		kept := make([]cards.Card, 0, len(p.HoleCards))
		for i, c := range p.HoleCards {
			if !seen[i] {
				kept = append(kept, c)
			}
		}
		p.HoleCards = kept
	}
	p.HoleCount -= len(discards)
	g.appendHistory(p.Seat, ActionDiscard, uint64(len(discards)), auto)

	if len(discards) == 0 {
		return g.advanceDrawTurn()
	}
	if g.external {
		if g.pendingDraw == nil {
			g.pendingDraw = map[int]int{}
		}
		g.pendingDraw[p.Seat] = len(discards)
		g.actionDeadline = 0
		return nil
	}
	// Replacements come straight off the deck; draw variants do not burn.
	for i := 0; i < len(discards); i++ {
		c, ok := g.deck.Deal()
		if !ok {
			return fmt.Errorf("game: deck exhausted on draw")
		}
		p.HoleCards = append(p.HoleCards, c)
	}
	p.HoleCount += len(discards)
	return g.advanceDrawTurn()
}

// ConfirmDraw supplies a seat's replacement cards in external mode. The
// local seat passes its decrypted cards; for opponents the contents stay
// hidden and only the count is restored.
func (g *Game) ConfirmDraw(seat int, replacements []cards.Card) error {
	n, ok := g.pendingDraw[seat]
	if !ok {
		return fmt.Errorf("%w: no draw outstanding for seat %d", ErrWrongPhase, seat)
	}
	p := g.players[seat]
	if replacements != nil {
		if len(replacements) != n {
			return fmt.Errorf("game: want %d replacements, got %d", n, len(replacements))
		}
		for _, c := range replacements {
			if !c.Valid() {
				return fmt.Errorf("game: invalid replacement card")
			}
		}
		p.HoleCards = append(p.HoleCards, replacements...)
	}
	p.HoleCount += n
	delete(g.pendingDraw, seat)
	return g.advanceDrawTurn()
}

// advanceDrawTurn marks the acting seat drawn and passes the turn; when
// everyone has drawn the second betting round opens.
func (g *Game) advanceDrawTurn() error {
	g.drawsDone[g.actingSeat] = true
	next := g.nextDrawSeat(g.actingSeat)
	if next >= 0 {
		g.actingSeat = next
		g.stampDeadline()
		return nil
	}
	g.actingSeat = -1
	g.actionDeadline = 0
	g.phase = PhaseSecondBet
	return g.openStreetRound()
}
