package cards

import (
	"testing"

	"github.com/paulhankin/poker"
	"github.com/stretchr/testify/require"
)

func hand(t *testing.T, s ...string) []Card {
	t.Helper()
	cs := make([]Card, 0, len(s))
	for _, one := range s {
		cs = append(cs, MustParse(one))
	}
	return cs
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		hand []Card
		want HandRank
	}{
		{"royal flush", hand(t, "As", "Ks", "Qs", "Js", "Ts"), RoyalFlush},
		{"straight flush", hand(t, "9h", "8h", "7h", "6h", "5h"), StraightFlush},
		{"steel wheel", hand(t, "Ad", "2d", "3d", "4d", "5d"), StraightFlush},
		{"four of a kind", hand(t, "As", "Ac", "Ad", "Ah", "Kd"), FourOfAKind},
		{"full house", hand(t, "Ts", "Tc", "Td", "4h", "4d"), FullHouse},
		{"flush", hand(t, "Kh", "Jh", "9h", "6h", "3h"), Flush},
		{"straight", hand(t, "9s", "8h", "7d", "6c", "5s"), Straight},
		{"wheel", hand(t, "As", "2h", "3d", "4c", "5s"), Straight},
		{"broadway", hand(t, "As", "Kh", "Qd", "Jc", "Ts"), Straight},
		{"three of a kind", hand(t, "7s", "7h", "7d", "Kc", "2s"), ThreeOfAKind},
		{"two pair", hand(t, "Qs", "Qd", "8c", "8h", "3s"), TwoPair},
		{"pair", hand(t, "9s", "9d", "As", "Kc", "4h"), OnePair},
		{"high card", hand(t, "As", "Jd", "9c", "6h", "2s"), HighCard},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.hand))
		})
	}
}

func TestValue_Packing(t *testing.T) {
	// Each classification places its tie-break ranks at fixed nibbles, so
	// expected values can be composed by hand.
	tests := []struct {
		name string
		hand []Card
		want uint32
	}{
		{
			"royal flush",
			hand(t, "As", "Ks", "Qs", "Js", "Ts"),
			uint32(RoyalFlush)<<20 | 14<<16,
		},
		{
			"steel wheel is a 5-high straight flush",
			hand(t, "Ad", "2d", "3d", "4d", "5d"),
			uint32(StraightFlush)<<20 | 5<<16,
		},
		{
			"quads with kicker",
			hand(t, "As", "Ac", "Ad", "Ah", "Kd"),
			uint32(FourOfAKind)<<20 | 14<<16 | 13<<12,
		},
		{
			"full house trips over pair",
			hand(t, "Ts", "Tc", "Td", "4h", "4d"),
			uint32(FullHouse)<<20 | 10<<16 | 4<<12,
		},
		{
			"flush ranks descending",
			hand(t, "Kh", "Jh", "9h", "6h", "3h"),
			uint32(Flush)<<20 | 13<<16 | 11<<12 | 9<<8 | 6<<4 | 3,
		},
		{
			"wheel straight is 5 high",
			hand(t, "As", "2h", "3d", "4c", "5s"),
			uint32(Straight)<<20 | 5<<16,
		},
		{
			"trips with kickers",
			hand(t, "7s", "7h", "7d", "Kc", "2s"),
			uint32(ThreeOfAKind)<<20 | 7<<16 | 13<<12 | 2<<8,
		},
		{
			"two pair high low kicker",
			hand(t, "Qs", "Qd", "8c", "8h", "3s"),
			uint32(TwoPair)<<20 | 12<<16 | 8<<12 | 3<<8,
		},
		{
			"pair with three kickers",
			hand(t, "9s", "9d", "As", "Kc", "4h"),
			uint32(OnePair)<<20 | 9<<16 | 14<<12 | 13<<8 | 4<<4,
		},
		{
			"high card five ranks",
			hand(t, "As", "Jd", "9c", "6h", "2s"),
			uint32(HighCard)<<20 | 14<<16 | 11<<12 | 9<<8 | 6<<4 | 2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Value(tc.hand))
		})
	}
}

func TestValue_Ordering(t *testing.T) {
	// Ascending by strength; packed values must be strictly increasing.
	ladder := [][]Card{
		hand(t, "As", "Jd", "9c", "6h", "2s"), // ace high
		hand(t, "2s", "2d", "5c", "7h", "9s"), // pair of twos
		hand(t, "9s", "9d", "As", "Kc", "4h"), // pair of nines
		hand(t, "Qs", "Qd", "8c", "8h", "3s"), // two pair
		hand(t, "7s", "7h", "7d", "Kc", "2s"), // trips
		hand(t, "As", "2h", "3d", "4c", "5s"), // wheel
		hand(t, "9s", "8h", "7d", "6c", "5s"), // nine-high straight
		hand(t, "2h", "5h", "8h", "Jh", "Kh"), // flush
		hand(t, "Ts", "Tc", "Td", "4h", "4d"), // full house
		hand(t, "As", "Ac", "Ad", "Ah", "Kd"), // quads
		hand(t, "9h", "8h", "7h", "6h", "5h"), // straight flush
		hand(t, "As", "Ks", "Qs", "Js", "Ts"), // royal flush
	}
	prev := Value(ladder[0])
	for i := 1; i < len(ladder); i++ {
		cur := Value(ladder[i])
		require.Greater(t, cur, prev, "hand %d must beat hand %d", i, i-1)
		prev = cur
	}
}

func TestValue_KickerBreaksTie(t *testing.T) {
	hi := Value(hand(t, "As", "Ad", "Kc", "Qd", "9h"))
	lo := Value(hand(t, "Ah", "Ac", "Kd", "Qh", "8s"))
	require.Greater(t, hi, lo)

	// Same ranks, different suits: identical value.
	a := Value(hand(t, "As", "Kd", "9c", "6h", "2s"))
	b := Value(hand(t, "Ah", "Kc", "9d", "6s", "2h"))
	require.Equal(t, a, b)
}

func TestValue_WrongSize(t *testing.T) {
	require.Equal(t, uint32(0), Value(nil))
	require.Equal(t, uint32(0), Value(hand(t, "As", "Ks")))
	require.Equal(t, uint32(0), Value(hand(t, "As", "Ks", "Qs", "Js", "Ts", "9s")))
}

func TestFindBestHand(t *testing.T) {
	hole := hand(t, "Ah", "Kh")
	board := hand(t, "Qh", "Jh", "Th", "2c", "2d")
	best, value := FindBestHand(hole, board)
	require.Equal(t, uint32(RoyalFlush)<<20|14<<16, value)
	require.ElementsMatch(t, hand(t, "Ah", "Kh", "Qh", "Jh", "Th"), best)

	// Board plays: the pocket pair is not part of the best five.
	hole = hand(t, "3c", "3d")
	board = hand(t, "As", "Ac", "Ad", "Ah", "Kd")
	best, value = FindBestHand(hole, board)
	require.Equal(t, uint32(FourOfAKind)<<20|14<<16|13<<12, value)
	require.ElementsMatch(t, board, best)
}

func TestFindBestHand_ExactlyFive(t *testing.T) {
	five := hand(t, "Qs", "Qd", "8c", "8h", "3s")
	best, value := FindBestHand(five, nil)
	require.Equal(t, Value(five), value)
	require.ElementsMatch(t, five, best)
}

func TestFindBestHand_TooFew(t *testing.T) {
	best, value := FindBestHand(hand(t, "As", "Ks"), hand(t, "Qs"))
	require.Nil(t, best)
	require.Equal(t, uint32(0), value)
}

func TestFindBestHand_SixCards(t *testing.T) {
	hole := hand(t, "9s", "9d")
	board := hand(t, "9c", "6h", "6s", "2d")
	_, value := FindBestHand(hole, board)
	require.Equal(t, uint32(FullHouse)<<20|9<<16|6<<12, value)
}

// libCard maps a card into the reference evaluator's encoding, which uses
// the same suit order but numbers aces 1 instead of 14.
func libCard(t *testing.T, c Card) poker.Card {
	t.Helper()
	rank := c.Rank()
	if rank == 14 {
		rank = 1
	}
	lc, err := poker.MakeCard(poker.Suit(c.Suit()), poker.Rank(rank))
	require.NoError(t, err)
	return lc
}

// TestFindBestHand_AgreesWithReferenceEvaluator deals pairs of 7-card hands
// from seeded shuffles and checks that our ordering matches an independent
// evaluator's ordering in every case, ties included.
func TestFindBestHand_AgreesWithReferenceEvaluator(t *testing.T) {
	for seed := byte(0); seed < 50; seed++ {
		d := NewDeck()
		d.Shuffle(seedOf(seed))

		deal := func(n int) []Card {
			cs := make([]Card, 0, n)
			for i := 0; i < n; i++ {
				c, ok := d.Deal()
				require.True(t, ok)
				cs = append(cs, c)
			}
			return cs
		}
		holeA := deal(2)
		holeB := deal(2)
		board := deal(5)

		_, valueA := FindBestHand(holeA, board)
		_, valueB := FindBestHand(holeB, board)

		var sevenA, sevenB [7]poker.Card
		for i, c := range append(append([]Card{}, holeA...), board...) {
			sevenA[i] = libCard(t, c)
		}
		for i, c := range append(append([]Card{}, holeB...), board...) {
			sevenB[i] = libCard(t, c)
		}
		refA := poker.Eval7(&sevenA)
		refB := poker.Eval7(&sevenB)

		require.Equal(t, refA > refB, valueA > valueB, "seed %d: %v vs %v on %v", seed, holeA, holeB, board)
		require.Equal(t, refA == refB, valueA == valueB, "seed %d: %v vs %v on %v", seed, holeA, holeB, board)
	}
}
