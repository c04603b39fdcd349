package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDrawHand_Local(t *testing.T) {
	g := newTestGame(t, drawConfig(), 1000, 1000, 1000)
	require.NoError(t, g.StartNewHandWithSeed(testSeed(40)))

	require.Equal(t, PhaseFirstBet, g.Phase())
	// Five cards each, no board, nothing burnt on the initial deal.
	require.Equal(t, 15, g.deck.Dealt())
	for seat := 0; seat < 3; seat++ {
		require.Len(t, g.PlayerBySeat(seat).HoleCards, 5)
	}
	require.Empty(t, g.Community())

	require.NoError(t, g.ProcessAction("alice", ActionCall, 0))
	require.NoError(t, g.ProcessAction("bob", ActionCall, 0))
	require.NoError(t, g.ProcessAction("carol", ActionCheck, 0))

	// Exchange runs clockwise from the dealer's left.
	require.Equal(t, PhaseDraw, g.Phase())
	require.Equal(t, 1, g.ActingSeat())

	require.ErrorIs(t, g.ProcessAction("bob", ActionCheck, 0), ErrWrongPhase)
	require.ErrorIs(t, g.ProcessDiscard("carol", nil), ErrNotYourTurn)

	before := g.deck.Dealt()
	require.NoError(t, g.ProcessDiscard("bob", []int{0, 2}))
	bob := g.Player("bob")
	require.Len(t, bob.HoleCards, 5)
	require.Equal(t, 5, bob.HoleCount)
	// Replacements come straight off the deck, no burn.
	require.Equal(t, before+2, g.deck.Dealt())

	// Standing pat is a zero-card draw.
	require.NoError(t, g.ProcessDiscard("carol", nil))
	require.Equal(t, 0, g.ActingSeat())
	require.NoError(t, g.ProcessDiscard("alice", []int{4}))

	// Everyone has drawn once; the second betting round opens.
	require.Equal(t, PhaseSecondBet, g.Phase())
	require.ErrorIs(t, g.ProcessDiscard("bob", nil), ErrWrongPhase)

	require.NoError(t, g.ProcessAction("bob", ActionCheck, 0))
	require.NoError(t, g.ProcessAction("carol", ActionCheck, 0))
	require.NoError(t, g.ProcessAction("alice", ActionCheck, 0))

	require.Equal(t, PhaseShowdown, g.Phase())
	res := g.Result()
	require.NotNil(t, res)
	require.Equal(t, ResultShowdown, res.Reason)
	var won uint64
	for _, w := range res.Wins {
		won += w.Amount
	}
	require.Equal(t, uint64(60), won)
	require.Equal(t, uint64(3000), g.TotalChips())
}

func TestDiscard_Validation(t *testing.T) {
	g := newTestGame(t, drawConfig(), 1000, 1000)
	require.NoError(t, g.StartNewHandWithSeed(testSeed(41)))

	require.NoError(t, g.ProcessAction("alice", ActionCall, 0))
	require.NoError(t, g.ProcessAction("bob", ActionCheck, 0))
	require.Equal(t, PhaseDraw, g.Phase())
	require.Equal(t, 1, g.ActingSeat())

	require.ErrorIs(t, g.ProcessDiscard("bob", []int{0, 1, 2, 3}), ErrBadDiscard)
	require.ErrorIs(t, g.ProcessDiscard("bob", []int{5}), ErrBadDiscard)
	require.ErrorIs(t, g.ProcessDiscard("bob", []int{-1}), ErrBadDiscard)
	require.ErrorIs(t, g.ProcessDiscard("bob", []int{1, 1}), ErrBadDiscard)
	require.ErrorIs(t, g.ProcessDiscard("nobody", nil), ErrUnknownPlayer)

	// Each seat draws exactly once.
	require.NoError(t, g.ProcessDiscard("bob", []int{0}))
	require.ErrorIs(t, g.ProcessDiscard("bob", []int{1}), ErrNotYourTurn)
}

func TestDrawExternal_ConfirmCycle(t *testing.T) {
	g := newTestGame(t, drawConfig(), 1000, 1000, 1000)
	g.SetExternalDeal(true)
	require.NoError(t, g.StartNewHand())

	// The deal phase blocks betting until the ceremony finishes.
	require.Equal(t, PhaseInitialDeal, g.Phase())
	require.ErrorIs(t, g.ProcessAction("alice", ActionCall, 0), ErrWrongPhase)

	require.NoError(t, g.ConfirmHolesDealt())
	require.Equal(t, PhaseFirstBet, g.Phase())
	for seat := 0; seat < 3; seat++ {
		require.Equal(t, 5, g.PlayerBySeat(seat).HoleCount)
	}

	// Our seat learns its own cards; the others stay hidden.
	require.NoError(t, g.SetHoleCards(1, cc(t, "As", "Ks", "Qs", "Js", "9d")))

	require.NoError(t, g.ProcessAction("alice", ActionCall, 0))
	require.NoError(t, g.ProcessAction("bob", ActionCall, 0))
	require.NoError(t, g.ProcessAction("carol", ActionCheck, 0))
	require.Equal(t, PhaseDraw, g.Phase())

	// bob (our seat) discards; replacements are owed by the ceremony and
	// nobody draws until they arrive.
	require.NoError(t, g.ProcessDiscard("bob", []int{4}))
	require.Equal(t, 4, g.Player("bob").HoleCount)
	require.ErrorIs(t, g.ProcessDiscard("carol", nil), ErrAwaitingCards)

	require.NoError(t, g.ConfirmDraw(1, cc(t, "Ts")))
	bob := g.Player("bob")
	require.Equal(t, 5, bob.HoleCount)
	require.Equal(t, cc(t, "As", "Ks", "Qs", "Js", "Ts"), bob.HoleCards)

	// carol draws two; we never see her cards, only the count comes back.
	require.NoError(t, g.ProcessDiscard("carol", []int{0, 1}))
	require.Equal(t, 3, g.Player("carol").HoleCount)
	require.NoError(t, g.ConfirmDraw(2, nil))
	require.Equal(t, 5, g.Player("carol").HoleCount)
	require.Empty(t, g.Player("carol").HoleCards)

	require.NoError(t, g.ProcessDiscard("alice", nil))
	require.Equal(t, PhaseSecondBet, g.Phase())
}

func TestDrawTimeout_StandsPat(t *testing.T) {
	g := newTestGame(t, drawConfig(), 1000, 1000)
	now := int64(10_000)
	g.SetClock(func() int64 { return now })
	require.NoError(t, g.StartNewHandWithSeed(testSeed(42)))

	require.NoError(t, g.ProcessAction("alice", ActionCall, 0))
	require.NoError(t, g.ProcessAction("bob", ActionCheck, 0))
	require.Equal(t, PhaseDraw, g.Phase())
	acting := g.ActingSeat()
	holes := g.PlayerBySeat(acting).HoleCount

	// Before the deadline nothing happens.
	applied, err := g.Tick(now + 29)
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = g.Tick(now + 30)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, holes, g.PlayerBySeat(acting).HoleCount, "timeout stands pat")

	recs := g.History()
	last := recs[len(recs)-1]
	require.Equal(t, ActionDiscard, last.Action)
	require.Equal(t, uint64(0), last.Amount)
	require.True(t, last.Auto)
}
