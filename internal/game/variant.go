package game

// Variant is the capability surface that distinguishes the supported rule
// sets. Game logic dispatches through it instead of branching on the tag.
type Variant interface {
	Tag() VariantTag

	// HoleCards is how many cards each seat is dealt.
	HoleCards() int

	// MaxSeats bounds the table so a full hand (holes, burns, board, draw
	// replacements) cannot exhaust the deck.
	MaxSeats() int

	// FirstBettingPhase is the phase entered once hole cards are out.
	FirstBettingPhase() Phase

	// NextPhase maps a completed betting phase to what follows it.
	// Returns PhaseShowdown after the final street.
	NextPhase(after Phase) Phase

	// BoardCards is how many community cards the given phase reveals
	// (after one burn). Zero for phases with no board dealing.
	BoardCards(phase Phase) int

	// Draws reports whether the variant has a discard/replacement phase.
	Draws() bool
}

func variantFor(tag VariantTag) Variant {
	switch tag {
	case VariantFiveCardDraw:
		return fiveCardDraw{}
	default:
		return holdem{}
	}
}

type holdem struct{}

func (holdem) Tag() VariantTag          { return VariantHoldem }
func (holdem) HoleCards() int           { return 2 }
func (holdem) MaxSeats() int            { return 9 }
func (holdem) FirstBettingPhase() Phase { return PhasePreflop }
func (holdem) Draws() bool              { return false }

func (holdem) NextPhase(after Phase) Phase {
	switch after {
	case PhasePreflop:
		return PhaseFlop
	case PhaseFlop:
		return PhaseTurn
	case PhaseTurn:
		return PhaseRiver
	default:
		return PhaseShowdown
	}
}

func (holdem) BoardCards(phase Phase) int {
	switch phase {
	case PhaseFlop:
		return 3
	case PhaseTurn, PhaseRiver:
		return 1
	default:
		return 0
	}
}

type fiveCardDraw struct{}

func (fiveCardDraw) Tag() VariantTag          { return VariantFiveCardDraw }
func (fiveCardDraw) HoleCards() int           { return 5 }
func (fiveCardDraw) MaxSeats() int            { return 6 }
func (fiveCardDraw) FirstBettingPhase() Phase { return PhaseFirstBet }
func (fiveCardDraw) Draws() bool              { return true }

func (fiveCardDraw) NextPhase(after Phase) Phase {
	switch after {
	case PhaseFirstBet:
		return PhaseDraw
	case PhaseDraw:
		return PhaseSecondBet
	default:
		return PhaseShowdown
	}
}

func (fiveCardDraw) BoardCards(Phase) int { return 0 }
