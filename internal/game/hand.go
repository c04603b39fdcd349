package game

import (
	"crypto/rand"
	"fmt"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
)

// BeginEscrow moves the table into its funding phase. Seating is closed
// from here on.
func (g *Game) BeginEscrow() error {
	if g.phase != PhaseWaiting {
		return fmt.Errorf("%w: escrow from %s", ErrWrongPhase, g.phase)
	}
	if len(g.eligibleSeats()) < 2 {
		return ErrNotEnoughPlayers
	}
	g.phase = PhaseEscrow
	return nil
}

// BeginShuffle opens the card ceremony for the next hand. Callable once
// escrow reports funded, and again between hands.
func (g *Game) BeginShuffle() error {
	switch g.phase {
	case PhaseEscrow, PhaseShowdown:
	default:
		return fmt.Errorf("%w: shuffle from %s", ErrWrongPhase, g.phase)
	}
	if g.esc != nil && !g.esc.IsFullyFunded() {
		return ErrEscrowNotFunded
	}
	g.phase = PhaseShuffle
	return nil
}

// StartNewHand deals the next hand. In local mode the deck is shuffled
// with a fresh random seed; in external mode cards come from the ceremony
// and the seed is unused.
func (g *Game) StartNewHand() error {
	var seed [32]byte
	if !g.external {
		if _, err := rand.Read(seed[:]); err != nil {
			return fmt.Errorf("game: deal seed: %w", err)
		}
	}
	return g.startHand(seed)
}

// StartNewHandWithSeed deals with a caller-chosen shuffle seed, so every
// peer holding the seed reproduces the same deck.
func (g *Game) StartNewHandWithSeed(seed [32]byte) error {
	return g.startHand(seed)
}

func (g *Game) startHand(seed [32]byte) error {
	switch g.phase {
	case PhaseWaiting, PhaseShuffle, PhaseShowdown:
	default:
		return fmt.Errorf("%w: deal during %s", ErrWrongPhase, g.phase)
	}
	if g.esc != nil && !g.esc.IsFullyFunded() {
		return ErrEscrowNotFunded
	}
	g.retireLeavers()
	elig := g.eligibleSeats()
	if len(elig) < 2 {
		return fmt.Errorf("%w: %d funded seats", ErrNotEnoughPlayers, len(elig))
	}

	g.handNumber++
	g.handLive = true
	g.result = nil
	g.community = nil
	g.pots = nil
	g.pendingBoard = 0
	g.pendingHoles = false
	g.pendingDraw = nil
	g.drawsDone = nil
	for _, s := range g.seatOrder() {
		p := g.players[s]
		p.resetForHand()
		if p.State == StateActive {
			p.Stats.HandsPlayed++
		}
	}

	if g.dealerSeat < 0 {
		g.dealerSeat = elig[0]
	} else {
		g.dealerSeat = g.nextEligibleSeat(g.dealerSeat)
	}

	// Heads-up the dealer posts the small blind and opens the preflop
	// action; multiway the blinds sit left of the dealer and action opens
	// past the big blind.
	headsUp := len(elig) == 2
	g.sbSeat = g.nextEligibleSeat(g.dealerSeat)
	if headsUp {
		g.sbSeat = g.dealerSeat
	}
	g.bbSeat = g.nextEligibleSeat(g.sbSeat)

	g.round = newBettingRound(g.cfg.BigBlind)
	g.postBlind(g.players[g.sbSeat], g.cfg.SmallBlind, ActionSmallBlind)
	g.postBlind(g.players[g.bbSeat], g.cfg.BigBlind, ActionBigBlind)
	g.round.CurrentBet = g.cfg.BigBlind

	g.phase = g.variant.FirstBettingPhase()
	if g.external {
		g.pendingHoles = true
		if g.variant.Draws() {
			g.phase = PhaseInitialDeal
		}
		g.actingSeat = -1
		g.actionDeadline = 0
		return nil
	}

	g.deck.Reset()
	g.deck.Shuffle(seed)
	if err := g.dealHoles(); err != nil {
		return err
	}
	return g.openPreflop()
}

// postBlind commits a forced bet, capped at the stack. Blind posts do not
// count as acting: the poster keeps the option to raise when the action
// returns unraised.
func (g *Game) postBlind(p *Player, amount uint64, record Action) {
	pay := amount
	if pay > p.Stack {
		pay = p.Stack
	}
	p.Stack -= pay
	p.CurrentBet += pay
	p.TotalBet += pay
	p.Stats.ChipsWagered += pay
	if p.Stack == 0 {
		p.State = StateAllIn
	}
	g.appendHistory(p.Seat, record, pay, false)
}

// dealHoles deals each in-hand seat its cards from the local deck,
// clockwise from the dealer's left, each seat's cards consecutive.
func (g *Game) dealHoles() error {
	n := g.variant.HoleCards()
	seat := g.dealerSeat
	for i := 0; i < g.countNotFolded(); i++ {
		seat = g.nextInHandSeat(seat)
		hole := make([]cards.Card, 0, n)
		for j := 0; j < n; j++ {
			c, ok := g.deck.Deal()
			if !ok {
				return fmt.Errorf("game: deck exhausted dealing seat %d", seat)
			}
			hole = append(hole, c)
		}
		g.players[seat].HoleCards = hole
		g.players[seat].HoleCount = n
	}
	return nil
}

// SetHoleCards records a seat's revealed hole cards in external mode: the
// local seat's own cards during the deal, opponents' at showdown.
func (g *Game) SetHoleCards(seat int, hole []cards.Card) error {
	if !g.external {
		return fmt.Errorf("game: hole cards are dealt locally")
	}
	p := g.players[seat]
	if p == nil {
		return fmt.Errorf("%w: seat %d", ErrUnknownPlayer, seat)
	}
	if !g.handLive || !p.InHand() {
		return fmt.Errorf("%w: seat %d not in hand", ErrNotActive, seat)
	}
	if len(hole) != g.variant.HoleCards() {
		return fmt.Errorf("game: want %d hole cards, got %d", g.variant.HoleCards(), len(hole))
	}
	seen := map[cards.Card]bool{}
	for _, c := range hole {
		if !c.Valid() || seen[c] {
			return fmt.Errorf("game: invalid hole cards for seat %d", seat)
		}
		seen[c] = true
	}
	p.HoleCards = append([]cards.Card(nil), hole...)
	p.HoleCount = len(hole)
	return nil
}

// ConfirmHolesDealt reports that the ceremony finished dealing hole cards,
// opening the first betting round in external mode. Opponents' cards stay
// hidden; only their counts are recorded.
func (g *Game) ConfirmHolesDealt() error {
	if !g.external || !g.handLive || !g.pendingHoles {
		return fmt.Errorf("%w: no deal outstanding", ErrWrongPhase)
	}
	g.pendingHoles = false
	for _, s := range g.seatOrder() {
		if g.players[s].InHand() {
			g.players[s].HoleCount = g.variant.HoleCards()
		}
	}
	if g.phase == PhaseInitialDeal {
		g.phase = PhaseFirstBet
	}
	return g.openPreflop()
}

// ApplyCommunity supplies the board cards a street is waiting on in
// external mode.
func (g *Game) ApplyCommunity(board []cards.Card) error {
	if !g.external || g.pendingBoard == 0 {
		return fmt.Errorf("%w: no board outstanding", ErrWrongPhase)
	}
	if len(board) != g.pendingBoard {
		return fmt.Errorf("game: want %d board cards, got %d", g.pendingBoard, len(board))
	}
	seen := map[cards.Card]bool{}
	for _, c := range g.community {
		seen[c] = true
	}
	for _, c := range board {
		if !c.Valid() || seen[c] {
			return fmt.Errorf("game: invalid board cards")
		}
		seen[c] = true
	}
	g.community = append(g.community, board...)
	g.pendingBoard = 0
	return g.openStreetRound()
}
