package game

// Action is a betting-turn move. Values are wire-stable.
type Action uint8

const (
	ActionFold  Action = 0
	ActionCheck Action = 1
	ActionCall  Action = 2
	ActionBet   Action = 3
	ActionRaise Action = 4
	ActionAllIn Action = 5

	// Record-only entries; never accepted by ProcessAction.
	ActionSmallBlind Action = 10
	ActionBigBlind   Action = 11
	ActionDiscard    Action = 12
)

func (a Action) String() string {
	switch a {
	case ActionFold:
		return "fold"
	case ActionCheck:
		return "check"
	case ActionCall:
		return "call"
	case ActionBet:
		return "bet"
	case ActionRaise:
		return "raise"
	case ActionAllIn:
		return "all_in"
	case ActionSmallBlind:
		return "small_blind"
	case ActionBigBlind:
		return "big_blind"
	case ActionDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// ParseAction reads the string form used on the wire.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "fold":
		return ActionFold, true
	case "check":
		return ActionCheck, true
	case "call":
		return ActionCall, true
	case "bet":
		return ActionBet, true
	case "raise":
		return ActionRaise, true
	case "all_in":
		return ActionAllIn, true
	default:
		return 0, false
	}
}

// ActionRecord is one applied action in the hand history. Timeout defaults
// applied by Tick carry Auto=true.
type ActionRecord struct {
	HandNumber uint64 `json:"handNumber"`
	Seat       int    `json:"seat"`
	Action     Action `json:"action"`
	Amount     uint64 `json:"amount"`
	Auto       bool   `json:"auto,omitempty"`
}

// BettingRound is the live betting state for one street. A new round opens
// per street and the previous one is swept into the pots.
type BettingRound struct {
	Actions []ActionRecord `json:"actions"`

	// CurrentBet is the street commitment required to stay in.
	CurrentBet uint64 `json:"currentBet"`

	// MinRaise is the smallest legal raise increment: the size of the last
	// full bet/raise, or the big blind before any.
	MinRaise uint64 `json:"minRaise"`

	// interval increments on every full bet/raise; a seat has acted for the
	// current price only if lastActed[seat] == interval.
	Interval  int32         `json:"interval"`
	LastActed map[int]int32 `json:"lastActed"`
}

func newBettingRound(bigBlind uint64) *BettingRound {
	return &BettingRound{
		MinRaise:  bigBlind,
		LastActed: map[int]int32{},
	}
}

// acted reports whether the seat has acted since the last full raise.
func (r *BettingRound) acted(seat int) bool {
	v, ok := r.LastActed[seat]
	return ok && v == r.Interval
}

func (r *BettingRound) markActed(seat int) {
	r.LastActed[seat] = r.Interval
}

// reopen starts a new betting interval after a full bet or raise; everyone
// else must act again at the new price.
func (r *BettingRound) reopen(seat int) {
	r.Interval++
	r.LastActed[seat] = r.Interval
}
