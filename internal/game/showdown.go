package game

import (
	"encoding/hex"
	"fmt"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
)

// HandResult reasons.
const (
	ResultFolds    = "folds"
	ResultShowdown = "showdown"
)

// SeatWin is one seat's take from a finished hand.
type SeatWin struct {
	Seat   int    `json:"seat"`
	Amount uint64 `json:"amount"`
}

// HandResult summarizes a finished hand.
type HandResult struct {
	HandNumber uint64    `json:"handNumber"`
	Reason     string    `json:"reason"`
	Wins       []SeatWin `json:"wins"`

	// Showdown detail, absent on fold-outs.
	Values map[int]uint32       `json:"values,omitempty"`
	Best   map[int][]cards.Card `json:"best,omitempty"`
	Board  []cards.Card         `json:"board,omitempty"`
}

// enterShowdown is reached when the last street closes with two or more
// seats holding cards. Local tables settle immediately; ceremony tables
// wait for hole reveals and FinishShowdown.
func (g *Game) enterShowdown() error {
	g.phase = PhaseShowdown
	g.actingSeat = -1
	g.actionDeadline = 0
	if g.external {
		return nil
	}
	return g.settleShowdown()
}

// FinishShowdown settles a ceremony-mode hand once every live seat's hole
// cards have been revealed through SetHoleCards.
func (g *Game) FinishShowdown() error {
	if g.phase != PhaseShowdown || !g.handLive {
		return fmt.Errorf("%w: no showdown outstanding", ErrWrongPhase)
	}
	return g.settleShowdown()
}

// settleShowdown compares the live hands pot by pot and pays the winners.
// Each pot splits evenly among its best hands; the odd chips go to the
// first winner clockwise from the dealer.
func (g *Game) settleShowdown() error {
	values := map[int]uint32{}
	best := map[int][]cards.Card{}
	for _, s := range g.seatOrder() {
		p := g.players[s]
		if !p.InHand() {
			continue
		}
		if len(p.HoleCards) != g.variant.HoleCards() {
			return fmt.Errorf("%w: seat %d", ErrHolesUnknown, s)
		}
		if g.variant.Draws() {
			b := append([]cards.Card(nil), p.HoleCards...)
			values[s] = cards.Value(b)
			best[s] = b
		} else {
			b, v := cards.FindBestHand(p.HoleCards, g.community)
			values[s] = v
			best[s] = b
		}
	}

	order := g.clockwiseFromDealer()
	winsBySeat := map[int]uint64{}
	for _, pot := range g.pots {
		var winners []int
		var top uint32
		for _, s := range order {
			if !seatIn(pot.Eligible, s) {
				continue
			}
			v, live := values[s]
			if !live {
				continue
			}
			switch {
			case len(winners) == 0 || v > top:
				top = v
				winners = winners[:0]
				winners = append(winners, s)
			case v == top:
				winners = append(winners, s)
			}
		}
		if len(winners) == 0 {
			continue
		}
		share := pot.Amount / uint64(len(winners))
		remainder := pot.Amount % uint64(len(winners))
		for i, s := range winners {
			amt := share
			if i == 0 {
				amt += remainder
			}
			g.players[s].Stack += amt
			winsBySeat[s] += amt
		}
	}

	var wins []SeatWin
	for _, s := range g.seatOrder() {
		if amt, ok := winsBySeat[s]; ok && amt > 0 {
			wins = append(wins, SeatWin{Seat: s, Amount: amt})
			g.players[s].Stats.HandsWon++
		}
	}
	g.finishHand(&HandResult{
		HandNumber: g.handNumber,
		Reason:     ResultShowdown,
		Wins:       wins,
		Values:     values,
		Best:       best,
		Board:      g.Community(),
	})
	return nil
}

// finishHand closes the books: every chip is back in a stack, per-hand
// counters are cleared, and seats flagged as leaving are retired.
func (g *Game) finishHand(res *HandResult) {
	for _, s := range g.seatOrder() {
		p := g.players[s]
		p.CurrentBet = 0
		p.TotalBet = 0
	}
	g.pots = nil
	g.round = nil
	g.pendingHoles = false
	g.pendingBoard = 0
	g.pendingDraw = nil
	g.drawsDone = nil
	g.actingSeat = -1
	g.actionDeadline = 0
	g.result = res
	g.handLive = false
	g.phase = PhaseShowdown
	g.retireLeavers()
}

// clockwiseFromDealer lists occupied seats starting left of the dealer;
// the dealer comes last.
func (g *Game) clockwiseFromDealer() []int {
	out := make([]int, 0, len(g.players))
	for step := 1; step <= g.cfg.MaxPlayers; step++ {
		s := (g.dealerSeat + step) % g.cfg.MaxPlayers
		if g.players[s] != nil {
			out = append(out, s)
		}
	}
	return out
}

func seatIn(seats []int, seat int) bool {
	for _, s := range seats {
		if s == seat {
			return true
		}
	}
	return false
}

// BeginSettlement freezes play and produces the distribution that closes
// the escrow: every seat's final stack, summing to exactly what the table
// holds.
func (g *Game) BeginSettlement() (*escrow.SettlementOutcome, error) {
	if g.phase != PhaseShowdown || g.handLive {
		return nil, fmt.Errorf("%w: settle during %s", ErrWrongPhase, g.phase)
	}
	hash, err := g.Hash()
	if err != nil {
		return nil, err
	}
	out := &escrow.SettlementOutcome{
		GameHash:  hex.EncodeToString(hash[:]),
		Timestamp: g.clock(),
	}
	for _, s := range g.seatOrder() {
		p := g.players[s]
		out.Payouts = append(out.Payouts, escrow.PlayerPayout{
			PlayerKey: p.Key,
			Amount:    p.Stack,
		})
	}
	g.outcome = out
	g.phase = PhaseSettlement
	return out, nil
}

// ConfirmSettlement marks the settlement transaction accepted on chain.
func (g *Game) ConfirmSettlement() error {
	if g.phase != PhaseSettlement {
		return fmt.Errorf("%w: confirm during %s", ErrWrongPhase, g.phase)
	}
	g.phase = PhaseComplete
	return nil
}
