package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
)

func holdemConfig() Config {
	return Config{
		Variant:           VariantHoldem,
		SmallBlind:        10,
		BigBlind:          20,
		MinBuyIn:          20,
		MaxBuyIn:          10_000,
		MaxPlayers:        9,
		ActionTimeoutSecs: 30,
	}
}

func drawConfig() Config {
	cfg := holdemConfig()
	cfg.Variant = VariantFiveCardDraw
	cfg.MaxPlayers = 6
	return cfg
}

var testNames = []string{"alice", "bob", "carol", "dave", "erin", "frank"}

// newTestGame seats one player per stack, keys "alice", "bob", ... in seat
// order.
func newTestGame(t *testing.T, cfg Config, stacks ...uint64) *Game {
	t.Helper()
	g, err := NewGame(cfg)
	require.NoError(t, err)
	for i, stack := range stacks {
		seat, err := g.AddPlayer(testNames[i], testNames[i], stack)
		require.NoError(t, err)
		require.Equal(t, i, seat)
	}
	return g
}

func testSeed(b byte) [32]byte {
	var s [32]byte
	s[0] = b
	return s
}

// cc parses a card list for test scripts.
func cc(t *testing.T, ss ...string) []cards.Card {
	t.Helper()
	out := make([]cards.Card, 0, len(ss))
	for _, s := range ss {
		c, err := cards.Parse(s)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

type stubEscrow struct {
	funded bool
}

func (s *stubEscrow) IsFullyFunded() bool                                    { return s.funded }
func (s *stubEscrow) CreateSettlementTransaction(escrow.SettlementOutcome) error { return nil }
func (s *stubEscrow) AddSettlementSignature(string, []byte) error            { return nil }
func (s *stubEscrow) IsSettlementFullySigned() bool                          { return false }
func (s *stubEscrow) GetSignedSettlementTransaction() ([]byte, error)        { return nil, nil }
func (s *stubEscrow) CanTriggerTimeout(int64) bool                           { return false }

func TestAddPlayer_Validation(t *testing.T) {
	cfg := holdemConfig()
	cfg.MaxPlayers = 2
	g := newTestGame(t, cfg, 1000)

	_, err := g.AddPlayer("alice", "again", 1000)
	require.ErrorIs(t, err, ErrDuplicatePlayer)

	_, err = g.AddPlayer("bob", "bob", 5)
	require.ErrorIs(t, err, ErrBuyInBounds)
	_, err = g.AddPlayer("bob", "bob", 20_000)
	require.ErrorIs(t, err, ErrBuyInBounds)

	seat, err := g.AddPlayer("bob", "bob", 1000)
	require.NoError(t, err)
	require.Equal(t, 1, seat)

	_, err = g.AddPlayer("carol", "carol", 1000)
	require.ErrorIs(t, err, ErrTableFull)

	require.NoError(t, g.StartNewHandWithSeed(testSeed(1)))
	_, err = g.AddPlayer("dave", "dave", 1000)
	require.ErrorIs(t, err, ErrWrongPhase)
}

func TestAddPlayer_ReusesLowestFreeSeat(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000, 1000)
	require.NoError(t, g.RemovePlayer("bob"))

	seat, err := g.AddPlayer("dave", "dave", 500)
	require.NoError(t, err)
	require.Equal(t, 1, seat)
}

func TestHeadsUpBlindsAndOption(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000)
	require.NoError(t, g.StartNewHandWithSeed(testSeed(2)))

	// Heads-up the dealer posts the small blind and opens preflop.
	require.Equal(t, 0, g.DealerSeat())
	require.Equal(t, 0, g.SmallBlindSeat())
	require.Equal(t, 1, g.BigBlindSeat())
	require.Equal(t, PhasePreflop, g.Phase())
	require.Equal(t, 0, g.ActingSeat())
	require.Equal(t, 4, g.deck.Dealt())

	a, b := g.PlayerBySeat(0), g.PlayerBySeat(1)
	require.Equal(t, uint64(990), a.Stack)
	require.Equal(t, uint64(10), a.CurrentBet)
	require.Equal(t, uint64(980), b.Stack)
	require.Equal(t, uint64(20), b.CurrentBet)
	require.Len(t, a.HoleCards, 2)
	require.Len(t, b.HoleCards, 2)

	// Small blind completes; the big blind still has its option.
	require.NoError(t, g.ProcessAction("alice", ActionCall, 0))
	require.Equal(t, PhasePreflop, g.Phase())
	require.Equal(t, 1, g.ActingSeat())

	require.NoError(t, g.ProcessAction("bob", ActionCheck, 0))
	require.Equal(t, PhaseFlop, g.Phase())
	require.Len(t, g.Community(), 3)
	// Four hole cards, one burn, three flop cards.
	require.Equal(t, 8, g.deck.Dealt())

	// Postflop the non-dealer acts first.
	require.Equal(t, 1, g.ActingSeat())

	pots := g.Pots()
	require.Len(t, pots, 1)
	require.Equal(t, uint64(40), pots[0].Amount)
	require.ElementsMatch(t, []int{0, 1}, pots[0].Eligible)
}

func TestMultiwayBlindSeats(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000, 1000)
	require.NoError(t, g.StartNewHandWithSeed(testSeed(3)))

	require.Equal(t, 0, g.DealerSeat())
	require.Equal(t, 1, g.SmallBlindSeat())
	require.Equal(t, 2, g.BigBlindSeat())
	// Action opens past the big blind, back at the dealer three-handed.
	require.Equal(t, 0, g.ActingSeat())
}

func TestDealerRotation(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000, 1000)

	foldOut := func() {
		t.Helper()
		for g.Phase().betting() {
			seat := g.ActingSeat()
			require.NoError(t, g.ProcessAction(g.PlayerBySeat(seat).Key, ActionFold, 0))
		}
		require.Equal(t, PhaseShowdown, g.Phase())
		require.Equal(t, ResultFolds, g.Result().Reason)
	}

	require.NoError(t, g.StartNewHandWithSeed(testSeed(4)))
	require.Equal(t, 0, g.DealerSeat())
	foldOut()

	require.NoError(t, g.StartNewHandWithSeed(testSeed(5)))
	require.Equal(t, 1, g.DealerSeat())
	foldOut()

	require.NoError(t, g.StartNewHandWithSeed(testSeed(6)))
	require.Equal(t, 2, g.DealerSeat())
}

func TestStartNewHand_Validation(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000)
	require.ErrorIs(t, g.StartNewHandWithSeed(testSeed(7)), ErrNotEnoughPlayers)

	_, err := g.AddPlayer("bob", "bob", 1000)
	require.NoError(t, err)
	require.NoError(t, g.StartNewHandWithSeed(testSeed(7)))

	// No dealing over a live hand.
	require.ErrorIs(t, g.StartNewHandWithSeed(testSeed(8)), ErrWrongPhase)
}

func TestEscrowGate(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000)
	esc := &stubEscrow{}
	g.AttachEscrow(esc)

	require.ErrorIs(t, g.StartNewHandWithSeed(testSeed(9)), ErrEscrowNotFunded)
	require.NoError(t, g.BeginEscrow())
	require.ErrorIs(t, g.BeginShuffle(), ErrEscrowNotFunded)

	esc.funded = true
	require.NoError(t, g.BeginShuffle())
	require.Equal(t, PhaseShuffle, g.Phase())
	require.NoError(t, g.StartNewHandWithSeed(testSeed(9)))
	require.Equal(t, PhasePreflop, g.Phase())
}

func TestRemovePlayer(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000, 1000)

	// Before the session starts the seat is simply vacated.
	require.NoError(t, g.RemovePlayer("carol"))
	require.Nil(t, g.Player("carol"))

	_, err := g.AddPlayer("carol", "carol", 1000)
	require.NoError(t, err)

	require.NoError(t, g.StartNewHandWithSeed(testSeed(10)))
	require.Equal(t, 0, g.ActingSeat())

	// A mid-hand leave folds the seat on the spot and passes the turn.
	require.NoError(t, g.RemovePlayer("alice"))
	a := g.Player("alice")
	require.Equal(t, StateFolded, a.State)
	require.True(t, a.Leaving)
	require.Equal(t, 1, g.ActingSeat())

	// The hand plays on heads-up; bob folds and carol takes the blinds.
	require.NoError(t, g.ProcessAction("bob", ActionFold, 0))
	require.Equal(t, PhaseShowdown, g.Phase())
	require.Equal(t, uint64(1010), g.Player("carol").Stack)

	// The leaver is retired, not deleted; the next hand excludes them.
	require.Equal(t, StateSittingOut, a.State)
	require.NoError(t, g.StartNewHandWithSeed(testSeed(11)))
	require.Equal(t, StateSittingOut, a.State)
	require.ErrorIs(t, g.ProcessAction("alice", ActionFold, 0), ErrNotYourTurn)

	require.ErrorIs(t, g.RemovePlayer("nobody"), ErrUnknownPlayer)
}

func TestChipConservation(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000, 1000, 1000)
	require.NoError(t, g.StartNewHandWithSeed(testSeed(12)))

	const total = uint64(4000)
	step := func(key string, a Action, amt uint64) {
		t.Helper()
		require.NoError(t, g.ProcessAction(key, a, amt))
		require.Equal(t, total, g.TotalChips())
	}
	require.Equal(t, total, g.TotalChips())

	// Preflop: dealer 0, blinds 1 and 2, action on 3.
	step("dave", ActionRaise, 40) // to 60
	step("alice", ActionCall, 0)
	step("bob", ActionFold, 0)
	step("carol", ActionCall, 0)
	require.Equal(t, PhaseFlop, g.Phase())

	step("carol", ActionCheck, 0)
	step("dave", ActionBet, 100)
	step("alice", ActionRaise, 150) // to 250
	step("carol", ActionFold, 0)
	step("dave", ActionCall, 0)
	require.Equal(t, PhaseTurn, g.Phase())

	step("dave", ActionCheck, 0)
	step("alice", ActionBet, 200)
	step("dave", ActionAllIn, 0) // 690 over a 200 bet, a full raise
	step("alice", ActionCall, 0) // exactly the remaining stack

	// Both all in: the river runs out and the hand settles.
	require.Equal(t, PhaseShowdown, g.Phase())
	res := g.Result()
	require.NotNil(t, res)
	require.Equal(t, ResultShowdown, res.Reason)

	var won uint64
	for _, w := range res.Wins {
		require.Contains(t, []int{0, 3}, w.Seat)
		won += w.Amount
	}
	require.Equal(t, uint64(2170), won)
	require.Equal(t, total, g.TotalChips())
}
