package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// playAllInThreeWay drives an external-deal hand to showdown with all
// three seats committed for their full stacks.
func playAllInThreeWay(t *testing.T, g *Game) {
	t.Helper()
	require.NoError(t, g.StartNewHand())
	require.NoError(t, g.ConfirmHolesDealt())

	require.NoError(t, g.ProcessAction("alice", ActionAllIn, 0))
	require.NoError(t, g.ProcessAction("bob", ActionAllIn, 0))
	require.NoError(t, g.ProcessAction("carol", ActionCall, 0))

	require.NoError(t, g.ApplyCommunity(cc(t, "2c", "7d", "9h")))
	require.Equal(t, PhaseTurn, g.Phase())
	require.NoError(t, g.ApplyCommunity(cc(t, "Js")))
	require.NoError(t, g.ApplyCommunity(cc(t, "Qd")))
	require.Equal(t, PhaseShowdown, g.Phase())
}

func TestSidePotShowdown(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 100, 250, 1000)
	g.SetExternalDeal(true)
	playAllInThreeWay(t, g)

	// Two pot layers: 300 everyone can win, 300 only the deeper stacks.
	pots := g.Pots()
	require.Len(t, pots, 2)
	require.Equal(t, uint64(300), pots[0].Amount)
	require.ElementsMatch(t, []int{0, 1, 2}, pots[0].Eligible)
	require.Equal(t, uint64(300), pots[1].Amount)
	require.ElementsMatch(t, []int{1, 2}, pots[1].Eligible)

	require.NoError(t, g.SetHoleCards(0, cc(t, "As", "Ad")))
	require.NoError(t, g.SetHoleCards(1, cc(t, "Ks", "Kd")))
	require.ErrorIs(t, g.FinishShowdown(), ErrHolesUnknown)

	require.NoError(t, g.SetHoleCards(2, cc(t, "3c", "4c")))
	require.NoError(t, g.FinishShowdown())

	// Aces take the main pot, kings the side pot, the caller keeps the
	// rest of their stack.
	require.Equal(t, uint64(300), g.Player("alice").Stack)
	require.Equal(t, uint64(300), g.Player("bob").Stack)
	require.Equal(t, uint64(750), g.Player("carol").Stack)
	require.Equal(t, uint64(1350), g.TotalChips())

	res := g.Result()
	require.Equal(t, ResultShowdown, res.Reason)
	require.ElementsMatch(t, []SeatWin{{Seat: 0, Amount: 300}, {Seat: 1, Amount: 300}}, res.Wins)
	require.NotEmpty(t, res.Values)
	require.Len(t, res.Best[0], 5)
}

func TestSplitPotOddChip(t *testing.T) {
	cfg := holdemConfig()
	cfg.SmallBlind = 1
	cfg.BigBlind = 2
	cfg.MinBuyIn = 2
	g := newTestGame(t, cfg, 101, 101, 101)
	g.SetExternalDeal(true)
	require.NoError(t, g.StartNewHand())
	require.NoError(t, g.ConfirmHolesDealt())

	// alice limps, the small blind folds, the big blind checks: a 5-chip
	// pot between seats 0 and 2.
	require.NoError(t, g.ProcessAction("alice", ActionCall, 0))
	require.NoError(t, g.ProcessAction("bob", ActionFold, 0))
	require.NoError(t, g.ProcessAction("carol", ActionCheck, 0))

	checkBoth := func() {
		t.Helper()
		require.NoError(t, g.ProcessAction("carol", ActionCheck, 0))
		require.NoError(t, g.ProcessAction("alice", ActionCheck, 0))
	}
	require.NoError(t, g.ApplyCommunity(cc(t, "Ts", "Js", "Qs")))
	checkBoth()
	require.NoError(t, g.ApplyCommunity(cc(t, "Ks")))
	checkBoth()
	require.NoError(t, g.ApplyCommunity(cc(t, "As")))
	checkBoth()

	// Both hands play the board; the odd chip goes to the first winner
	// clockwise from the dealer.
	require.NoError(t, g.SetHoleCards(0, cc(t, "2c", "3d")))
	require.NoError(t, g.SetHoleCards(2, cc(t, "2h", "4c")))
	require.NoError(t, g.FinishShowdown())

	require.Equal(t, uint64(102), g.Player("carol").Stack)
	require.Equal(t, uint64(101), g.Player("alice").Stack)
	require.Equal(t, uint64(100), g.Player("bob").Stack)

	res := g.Result()
	require.ElementsMatch(t, []SeatWin{{Seat: 2, Amount: 3}, {Seat: 0, Amount: 2}}, res.Wins)
	require.Equal(t, res.Values[0], res.Values[2])
}

func TestSettlementFlow(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 100, 250, 1000)
	g.SetExternalDeal(true)
	now := int64(55_555)
	g.SetClock(func() int64 { return now })

	_, err := g.BeginSettlement()
	require.ErrorIs(t, err, ErrWrongPhase)

	playAllInThreeWay(t, g)
	require.NoError(t, g.SetHoleCards(0, cc(t, "As", "Ad")))
	require.NoError(t, g.SetHoleCards(1, cc(t, "Ks", "Kd")))
	require.NoError(t, g.SetHoleCards(2, cc(t, "3c", "4c")))
	require.NoError(t, g.FinishShowdown())

	out, err := g.BeginSettlement()
	require.NoError(t, err)
	require.Equal(t, PhaseSettlement, g.Phase())
	require.Equal(t, now, out.Timestamp)
	require.Len(t, out.GameHash, 64)

	// The distribution is every seat's final stack and sums to exactly
	// what was escrowed.
	total, err := out.Total()
	require.NoError(t, err)
	require.Equal(t, uint64(1350), total)
	require.Equal(t, []string{"alice", "bob", "carol"}, []string{
		out.Payouts[0].PlayerKey, out.Payouts[1].PlayerKey, out.Payouts[2].PlayerKey,
	})

	// Frozen: no more hands, then the chain confirmation completes it.
	require.ErrorIs(t, g.StartNewHand(), ErrWrongPhase)
	require.NoError(t, g.ConfirmSettlement())
	require.Equal(t, PhaseComplete, g.Phase())
	require.ErrorIs(t, g.ConfirmSettlement(), ErrWrongPhase)
}

func TestRunoutDealsWholeBoard_Local(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 40, 1000)
	require.NoError(t, g.StartNewHandWithSeed(testSeed(30)))

	// Heads-up, alice all-in for her last chips, bob calls.
	require.NoError(t, g.ProcessAction("alice", ActionAllIn, 0))
	require.NoError(t, g.ProcessAction("bob", ActionCall, 0))

	require.Equal(t, PhaseShowdown, g.Phase())
	require.Len(t, g.Community(), 5)
	// Four hole cards plus three burns and five board cards.
	require.Equal(t, 12, g.deck.Dealt())
	require.Equal(t, uint64(1040), g.TotalChips())
	require.NotNil(t, g.Result())
}
