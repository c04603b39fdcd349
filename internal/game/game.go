// Package game is the deterministic poker state machine: seats, blinds,
// betting rounds, pots, phase transitions, showdown, and the settlement
// handoff. Every peer runs an identical copy and feeds it the same ordered
// actions, so all copies stay byte-identical; anything random (deck order)
// or secret (hole cards) comes in from outside through explicit inputs.
package game

import (
	"fmt"
	"sort"
	"time"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
)

// Phase is the table's position in the hand lifecycle. Values are
// wire-stable and ordered within a variant's sequence.
type Phase uint8

const (
	PhaseWaiting Phase = 0
	PhaseEscrow  Phase = 1
	PhaseShuffle Phase = 2

	PhasePreflop Phase = 10
	PhaseFlop    Phase = 11
	PhaseTurn    Phase = 12
	PhaseRiver   Phase = 13

	PhaseInitialDeal Phase = 20
	PhaseFirstBet    Phase = 21
	PhaseDraw        Phase = 22
	PhaseSecondBet   Phase = 23

	PhaseShowdown   Phase = 90
	PhaseSettlement Phase = 91
	PhaseComplete   Phase = 92
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseEscrow:
		return "escrow"
	case PhaseShuffle:
		return "shuffle"
	case PhasePreflop:
		return "preflop"
	case PhaseFlop:
		return "flop"
	case PhaseTurn:
		return "turn"
	case PhaseRiver:
		return "river"
	case PhaseInitialDeal:
		return "initial_deal"
	case PhaseFirstBet:
		return "first_bet"
	case PhaseDraw:
		return "draw"
	case PhaseSecondBet:
		return "second_bet"
	case PhaseShowdown:
		return "showdown"
	case PhaseSettlement:
		return "settlement"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// betting reports whether the phase accepts ProcessAction.
func (p Phase) betting() bool {
	switch p {
	case PhasePreflop, PhaseFlop, PhaseTurn, PhaseRiver, PhaseFirstBet, PhaseSecondBet:
		return true
	default:
		return false
	}
}

// Game is one table. Not safe for concurrent use; callers serialize access.
type Game struct {
	cfg     Config
	variant Variant

	phase      Phase
	handNumber uint64
	handLive   bool
	dealerSeat int
	sbSeat     int
	bbSeat     int

	players map[int]*Player

	deck      *cards.Deck
	community []cards.Card

	round *BettingRound
	pots  []Pot

	actingSeat     int
	actionDeadline int64

	// External-deal bookkeeping: cards owed by the shuffle ceremony rather
	// than the local deck.
	external     bool
	pendingHoles bool
	pendingBoard int
	pendingDraw  map[int]int

	drawsDone map[int]bool

	history []ActionRecord
	result  *HandResult
	outcome *escrow.SettlementOutcome

	esc escrow.Escrow

	clock func() int64
}

func NewGame(cfg Config) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Game{
		cfg:        cfg,
		variant:    variantFor(cfg.Variant),
		phase:      PhaseWaiting,
		dealerSeat: -1,
		sbSeat:     -1,
		bbSeat:     -1,
		actingSeat: -1,
		players:    map[int]*Player{},
		deck:       cards.NewDeck(),
		clock:      func() int64 { return time.Now().Unix() },
	}, nil
}

// SetClock replaces the time source; peers inject the engine's clock so
// timeout decisions replay identically.
func (g *Game) SetClock(fn func() int64) {
	if fn != nil {
		g.clock = fn
	}
}

// AttachEscrow binds the fund-custody collaborator. StartNewHand refuses to
// deal until it reports fully funded.
func (g *Game) AttachEscrow(e escrow.Escrow) { g.esc = e }

// SetExternalDeal switches the table to ceremony mode: hole and board cards
// arrive through SetHoleCards/ApplyCommunity/ConfirmDraw instead of the
// local deck. Must be set before the first hand.
func (g *Game) SetExternalDeal(on bool) { g.external = on }

func (g *Game) Config() Config        { return g.cfg }
func (g *Game) Phase() Phase          { return g.phase }
func (g *Game) HandNumber() uint64    { return g.handNumber }
func (g *Game) DealerSeat() int       { return g.dealerSeat }
func (g *Game) SmallBlindSeat() int   { return g.sbSeat }
func (g *Game) BigBlindSeat() int     { return g.bbSeat }
func (g *Game) ActingSeat() int       { return g.actingSeat }
func (g *Game) ActionDeadline() int64 { return g.actionDeadline }
func (g *Game) PendingBoard() int     { return g.pendingBoard }
func (g *Game) PendingHoles() bool    { return g.pendingHoles }
func (g *Game) PendingDraw() bool     { return len(g.pendingDraw) > 0 }
func (g *Game) HandLive() bool        { return g.handLive }

func (g *Game) Community() []cards.Card {
	return append([]cards.Card(nil), g.community...)
}

func (g *Game) Pots() []Pot {
	out := make([]Pot, len(g.pots))
	for i, p := range g.pots {
		out[i] = Pot{Amount: p.Amount, Eligible: append([]int(nil), p.Eligible...)}
	}
	return out
}

func (g *Game) Round() *BettingRound { return g.round }

func (g *Game) History() []ActionRecord {
	return append([]ActionRecord(nil), g.history...)
}

// Result returns the last completed hand's outcome, nil while a hand runs.
func (g *Game) Result() *HandResult { return g.result }

// Outcome returns the settlement distribution, nil before BeginSettlement.
func (g *Game) Outcome() *escrow.SettlementOutcome { return g.outcome }

// seatOrder returns occupied seats ascending; all deterministic iteration
// goes through this.
func (g *Game) seatOrder() []int {
	seats := make([]int, 0, len(g.players))
	for s := range g.players {
		seats = append(seats, s)
	}
	sort.Ints(seats)
	return seats
}

// Players returns the seats in ascending order.
func (g *Game) Players() []*Player {
	out := make([]*Player, 0, len(g.players))
	for _, s := range g.seatOrder() {
		out = append(out, g.players[s])
	}
	return out
}

// Player finds a seat by identity key.
func (g *Game) Player(key string) *Player {
	for _, s := range g.seatOrder() {
		if g.players[s].Key == key {
			return g.players[s]
		}
	}
	return nil
}

// PlayerBySeat returns the seat's player, nil if empty.
func (g *Game) PlayerBySeat(seat int) *Player { return g.players[seat] }

// AddPlayer seats a new identity with its buy-in. Joining is only possible
// before the escrowed session starts dealing.
func (g *Game) AddPlayer(key, name string, buyIn uint64) (int, error) {
	if g.phase != PhaseWaiting {
		return 0, fmt.Errorf("%w: join during %s", ErrWrongPhase, g.phase)
	}
	if key == "" {
		return 0, fmt.Errorf("game: empty player key")
	}
	if g.Player(key) != nil {
		return 0, fmt.Errorf("%w: %s", ErrDuplicatePlayer, key)
	}
	if len(g.players) >= g.cfg.MaxPlayers {
		return 0, ErrTableFull
	}
	if buyIn < g.cfg.MinBuyIn || buyIn > g.cfg.MaxBuyIn {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrBuyInBounds, buyIn, g.cfg.MinBuyIn, g.cfg.MaxBuyIn)
	}
	seat := 0
	for ; seat < g.cfg.MaxPlayers; seat++ {
		if g.players[seat] == nil {
			break
		}
	}
	g.players[seat] = &Player{
		Key:   key,
		Name:  name,
		Seat:  seat,
		Stack: buyIn,
		State: StateWaiting,
	}
	return seat, nil
}

// RemovePlayer handles an explicit leave. Before the session starts the
// seat is simply vacated; mid-hand the seat folds now and is retired when
// the hand ends, so pot accounting never loses chips. The leaver's stack
// stays in the settlement distribution either way.
func (g *Game) RemovePlayer(key string) error {
	p := g.Player(key)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, key)
	}
	if g.phase == PhaseWaiting {
		delete(g.players, p.Seat)
		return nil
	}
	p.Leaving = true
	if !g.handLive {
		p.State = StateSittingOut
		return nil
	}
	if !p.InHand() {
		return nil
	}
	wasActing := g.actingSeat == p.Seat
	if _, ok := g.pendingDraw[p.Seat]; ok {
		// Replacements owed to a leaver are abandoned with the fold.
		delete(g.pendingDraw, p.Seat)
		wasActing = true
	}
	g.applyFold(p)
	g.appendHistory(p.Seat, ActionFold, 0, false)
	if g.countNotFolded() <= 1 {
		return g.finishByFolds()
	}
	switch {
	case g.phase == PhaseDraw && wasActing:
		return g.advanceDrawTurn()
	case g.phase.betting() && wasActing:
		return g.afterAction()
	}
	return nil
}

// retireLeavers vacates seats flagged during the hand. Called between
// hands; their chips remain in the players map for settlement only if they
// still hold any, tracked under the seat until payout.
func (g *Game) retireLeavers() {
	for _, s := range g.seatOrder() {
		if g.players[s].Leaving {
			g.players[s].State = StateSittingOut
		}
	}
}

// eligibleSeats are seats that can be dealt in: funded and not leaving.
func (g *Game) eligibleSeats() []int {
	out := make([]int, 0, len(g.players))
	for _, s := range g.seatOrder() {
		p := g.players[s]
		if p.Stack > 0 && !p.Leaving {
			out = append(out, s)
		}
	}
	return out
}

// nextEligibleSeat walks clockwise to the next seat that can be dealt in.
func (g *Game) nextEligibleSeat(from int) int {
	for step := 1; step <= g.cfg.MaxPlayers; step++ {
		s := (from + step) % g.cfg.MaxPlayers
		p := g.players[s]
		if p != nil && p.Stack > 0 && !p.Leaving {
			return s
		}
	}
	return from
}

// nextInHandSeat walks clockwise to the next seat still holding cards.
func (g *Game) nextInHandSeat(from int) int {
	for step := 1; step <= g.cfg.MaxPlayers; step++ {
		s := (from + step) % g.cfg.MaxPlayers
		if p := g.players[s]; p != nil && p.InHand() {
			return s
		}
	}
	return from
}

func (g *Game) countNotFolded() int {
	n := 0
	for _, s := range g.seatOrder() {
		if g.players[s].InHand() {
			n++
		}
	}
	return n
}

func (g *Game) countCanAct() int {
	n := 0
	for _, s := range g.seatOrder() {
		if g.players[s].canAct() {
			n++
		}
	}
	return n
}

// TotalChips sums every chip the table knows about: stacks plus, while a
// hand runs, the amounts committed to it. Constant across any transition
// between AddPlayer and settlement.
func (g *Game) TotalChips() uint64 {
	var total uint64
	for _, s := range g.seatOrder() {
		total += g.players[s].Stack
		if g.handLive {
			total += g.players[s].TotalBet
		}
	}
	return total
}

func (g *Game) appendHistory(seat int, action Action, amount uint64, auto bool) {
	g.history = append(g.history, ActionRecord{
		HandNumber: g.handNumber,
		Seat:       seat,
		Action:     action,
		Amount:     amount,
		Auto:       auto,
	})
}
