package game

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
)

// snapshot is the serialized form of a table. Hole cards and the deck
// ordering appear only in the private (persistence) form; everything else
// is knowledge every peer shares.
type snapshot struct {
	Config       Config                    `json:"config"`
	Phase        Phase                     `json:"phase"`
	HandNumber   uint64                    `json:"handNumber"`
	HandLive     bool                      `json:"handLive"`
	External     bool                      `json:"external"`
	DealerSeat   int                       `json:"dealerSeat"`
	SBSeat       int                       `json:"smallBlindSeat"`
	BBSeat       int                       `json:"bigBlindSeat"`
	ActingSeat   int                       `json:"actingSeat"`
	Deadline     int64                     `json:"actionDeadline"`
	Players      []*Player                 `json:"players"`
	Community    []cards.Card              `json:"community,omitempty"`
	Pots         []Pot                     `json:"pots,omitempty"`
	Round        *BettingRound             `json:"round,omitempty"`
	PendingHoles bool                      `json:"pendingHoles,omitempty"`
	PendingBoard int                       `json:"pendingBoard,omitempty"`
	PendingDraw  map[int]int               `json:"pendingDraw,omitempty"`
	DrawsDone    map[int]bool              `json:"drawsDone,omitempty"`
	History      []ActionRecord            `json:"history,omitempty"`
	Result       *HandResult               `json:"result,omitempty"`
	Outcome      *escrow.SettlementOutcome `json:"outcome,omitempty"`
	DeckOrder    []cards.Card              `json:"deckOrder,omitempty"`
	DeckDealt    int                       `json:"deckDealt,omitempty"`
}

func (g *Game) buildSnapshot(private bool) *snapshot {
	s := &snapshot{
		Config:       g.cfg,
		Phase:        g.phase,
		HandNumber:   g.handNumber,
		HandLive:     g.handLive,
		External:     g.external,
		DealerSeat:   g.dealerSeat,
		SBSeat:       g.sbSeat,
		BBSeat:       g.bbSeat,
		ActingSeat:   g.actingSeat,
		Deadline:     g.actionDeadline,
		Community:    g.community,
		Pots:         g.pots,
		Round:        g.round,
		PendingHoles: g.pendingHoles,
		PendingBoard: g.pendingBoard,
		PendingDraw:  g.pendingDraw,
		DrawsDone:    g.drawsDone,
		History:      g.history,
		Result:       g.result,
		Outcome:      g.outcome,
	}
	for _, seat := range g.seatOrder() {
		p := *g.players[seat]
		if private {
			p.HoleCards = append([]cards.Card(nil), p.HoleCards...)
		} else {
			p.HoleCards = nil
		}
		s.Players = append(s.Players, &p)
	}
	if private && !g.external {
		s.DeckOrder = g.deck.Cards()
		s.DeckDealt = g.deck.Dealt()
	}
	return s
}

// Snapshot serializes the full table, hole cards and deck included, for
// local persistence.
func (g *Game) Snapshot() ([]byte, error) {
	return json.Marshal(g.buildSnapshot(true))
}

// PublicSnapshot serializes only what every peer can see.
func (g *Game) PublicSnapshot() ([]byte, error) {
	return json.Marshal(g.buildSnapshot(false))
}

// Hash is the sha256 of the public snapshot. Tables that processed the
// same actions report the same hash regardless of which hole cards they
// can see, which is what makes it usable as a divergence check.
func (g *Game) Hash() ([32]byte, error) {
	data, err := g.PublicSnapshot()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// Restore replaces the table state from a Snapshot. Collaborators that do
// not serialize (clock, escrow) are kept.
func (g *Game) Restore(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("game: restore: %w", err)
	}
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("game: restore: %w", err)
	}
	deck := cards.NewDeck()
	if len(s.DeckOrder) > 0 {
		var err error
		deck, err = cards.RestoreDeck(s.DeckOrder, s.DeckDealt)
		if err != nil {
			return fmt.Errorf("game: restore: %w", err)
		}
	}
	players := map[int]*Player{}
	for _, p := range s.Players {
		if p == nil {
			continue
		}
		if p.Seat < 0 || p.Seat >= s.Config.MaxPlayers {
			return fmt.Errorf("game: restore: seat %d out of range", p.Seat)
		}
		if _, dup := players[p.Seat]; dup {
			return fmt.Errorf("game: restore: seat %d duplicated", p.Seat)
		}
		players[p.Seat] = p
	}

	g.cfg = s.Config
	g.variant = variantFor(s.Config.Variant)
	g.phase = s.Phase
	g.handNumber = s.HandNumber
	g.handLive = s.HandLive
	g.external = s.External
	g.dealerSeat = s.DealerSeat
	g.sbSeat = s.SBSeat
	g.bbSeat = s.BBSeat
	g.actingSeat = s.ActingSeat
	g.actionDeadline = s.Deadline
	g.players = players
	g.deck = deck
	g.community = s.Community
	g.pots = s.Pots
	g.round = s.Round
	g.pendingHoles = s.PendingHoles
	g.pendingBoard = s.PendingBoard
	g.pendingDraw = s.PendingDraw
	g.drawsDone = s.DrawsDone
	g.history = s.History
	g.result = s.Result
	g.outcome = s.Outcome
	if g.round != nil && g.round.LastActed == nil {
		g.round.LastActed = map[int]int32{}
	}
	if g.phase == PhaseDraw && g.drawsDone == nil {
		g.drawsDone = map[int]bool{}
	}
	return nil
}
