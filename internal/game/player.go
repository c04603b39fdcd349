package game

import (
	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
)

// PlayerState is a seat's lifecycle within the current hand.
type PlayerState uint8

const (
	StateWaiting PlayerState = iota
	StateActive
	StateFolded
	StateAllIn
	StateSittingOut
)

func (s PlayerState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateFolded:
		return "folded"
	case StateAllIn:
		return "all_in"
	case StateSittingOut:
		return "sitting_out"
	default:
		return "unknown"
	}
}

// PlayerStats accumulates across hands; settled with the game.
type PlayerStats struct {
	HandsPlayed  uint64 `json:"handsPlayed"`
	HandsWon     uint64 `json:"handsWon"`
	ChipsWagered uint64 `json:"chipsWagered"`
}

// Player is one seat. Created on join, reset (not destroyed) between hands,
// removed on explicit leave.
type Player struct {
	Key  string `json:"key"` // hex public key, the network identity
	Name string `json:"name"`
	Seat int    `json:"seat"`

	Stack      uint64      `json:"stack"`
	CurrentBet uint64      `json:"currentBet"` // this street
	TotalBet   uint64      `json:"totalBet"`   // this hand
	State      PlayerState `json:"state"`

	// HoleCards holds the cards this process can see: always populated in
	// local mode, only for known seats in ceremony mode. HoleCount is the
	// authoritative number of cards held and is tracked for every seat.
	HoleCards []cards.Card `json:"holeCards,omitempty"`
	HoleCount int          `json:"holeCount,omitempty"`

	// Leaving marks a mid-hand leave; the seat folds immediately and is
	// removed when the hand ends, keeping pot accounting intact.
	Leaving bool `json:"leaving,omitempty"`

	Stats PlayerStats `json:"stats"`
}

// resetForHand clears per-hand state. Seats without chips sit out.
func (p *Player) resetForHand() {
	p.CurrentBet = 0
	p.TotalBet = 0
	p.HoleCards = nil
	p.HoleCount = 0
	if p.Stack == 0 || p.Leaving {
		p.State = StateSittingOut
		return
	}
	p.State = StateActive
}

// canAct reports whether the seat may take a betting action.
func (p *Player) canAct() bool {
	return p.State == StateActive
}

// InHand reports whether the seat still has cards (active or all-in).
func (p *Player) InHand() bool {
	return p.State == StateActive || p.State == StateAllIn
}
