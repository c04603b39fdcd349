package game

import "fmt"

// VariantTag selects the rule set a table plays.
type VariantTag string

const (
	VariantHoldem       VariantTag = "holdem"
	VariantFiveCardDraw VariantTag = "five_card_draw"
)

const (
	DefaultMaxPlayers        = 9
	DefaultActionTimeoutSecs = 30
)

// Config fixes a table's rules. Immutable once the first hand starts.
type Config struct {
	Variant    VariantTag `json:"variant"`
	SmallBlind uint64     `json:"smallBlind"`
	BigBlind   uint64     `json:"bigBlind"`
	MinBuyIn   uint64     `json:"minBuyIn"`
	MaxBuyIn   uint64     `json:"maxBuyIn"`
	MaxPlayers int        `json:"maxPlayers"`

	// ActionTimeoutSecs bounds how long a betting turn may sit open before
	// Tick applies the default action (check if free, else fold). Zero
	// disables the timeout.
	ActionTimeoutSecs uint64 `json:"actionTimeoutSecs"`
}

// Rules returns the variant rule set the config selects.
func (c Config) Rules() Variant { return variantFor(c.Variant) }

func (c *Config) Validate() error {
	switch c.Variant {
	case VariantHoldem, VariantFiveCardDraw:
	default:
		return fmt.Errorf("game: unknown variant %q", c.Variant)
	}
	if c.BigBlind == 0 {
		return fmt.Errorf("game: big blind must be positive")
	}
	if c.SmallBlind == 0 || c.BigBlind < 2*c.SmallBlind {
		return fmt.Errorf("game: blinds must satisfy 0 < small <= big/2")
	}
	if c.MinBuyIn == 0 || c.MinBuyIn > c.MaxBuyIn {
		return fmt.Errorf("game: buy-in bounds must satisfy 0 < min <= max")
	}
	if c.MinBuyIn < c.BigBlind {
		return fmt.Errorf("game: min buy-in below big blind")
	}
	if c.MaxPlayers < 2 || c.MaxPlayers > DefaultMaxPlayers {
		return fmt.Errorf("game: max players must be in [2, %d]", DefaultMaxPlayers)
	}
	if v := variantFor(c.Variant); c.MaxPlayers > v.MaxSeats() {
		return fmt.Errorf("game: %s seats at most %d players", c.Variant, v.MaxSeats())
	}
	return nil
}
