package cards

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seedOf(b byte) [32]byte {
	var s [32]byte
	s[0] = b
	return s
}

func TestNewDeck(t *testing.T) {
	d := NewDeck()
	require.Equal(t, DeckSize, d.Remaining())

	seen := map[Card]bool{}
	for i := 0; i < DeckSize; i++ {
		c, ok := d.Deal()
		require.True(t, ok)
		require.True(t, c.Valid())
		require.False(t, seen[c], "card %s dealt twice", c)
		seen[c] = true
	}
	_, ok := d.Deal()
	require.False(t, ok)
	require.Equal(t, 0, d.Remaining())
}

func TestShuffle_Deterministic(t *testing.T) {
	a, b := NewDeck(), NewDeck()
	a.Shuffle(seedOf(7))
	b.Shuffle(seedOf(7))
	require.Equal(t, a.Cards(), b.Cards())

	c := NewDeck()
	c.Shuffle(seedOf(8))
	require.NotEqual(t, a.Cards(), c.Cards())
}

func TestShuffle_IsPermutation(t *testing.T) {
	d := NewDeck()
	d.Shuffle(seedOf(42))

	seen := map[Card]bool{}
	for _, c := range d.Cards() {
		require.True(t, c.Valid())
		seen[c] = true
	}
	require.Len(t, seen, DeckSize)
}

func TestShuffle_ResetsCursor(t *testing.T) {
	d := NewDeck()
	for i := 0; i < 10; i++ {
		_, ok := d.Deal()
		require.True(t, ok)
	}
	require.Equal(t, DeckSize-10, d.Remaining())

	d.Shuffle(seedOf(1))
	require.Equal(t, DeckSize, d.Remaining())
}

func TestShuffle_SameSeedSameDealSequence(t *testing.T) {
	a, b := NewDeck(), NewDeck()
	a.Shuffle(seedOf(99))
	b.Shuffle(seedOf(99))
	for i := 0; i < DeckSize; i++ {
		ca, oka := a.Deal()
		cb, okb := b.Deal()
		require.True(t, oka)
		require.True(t, okb)
		require.Equal(t, ca, cb, "position %d", i)
	}
}

func TestPermutation(t *testing.T) {
	perm := Permutation(seedOf(5), DeckSize)
	require.Len(t, perm, DeckSize)

	seen := map[int]bool{}
	for _, p := range perm {
		require.GreaterOrEqual(t, p, 0)
		require.Less(t, p, DeckSize)
		seen[p] = true
	}
	require.Len(t, seen, DeckSize)

	// Shuffle is exactly the permutation applied to the current order.
	d := NewDeck()
	before := d.Cards()
	d.Shuffle(seedOf(5))
	after := d.Cards()
	for i, from := range perm {
		require.Equal(t, before[from], after[i])
	}
}

func TestReset(t *testing.T) {
	d := NewDeck()
	d.Shuffle(seedOf(3))
	d.Reset()
	require.Equal(t, DeckSize, d.Remaining())

	// Reset restores the canonical id order.
	for i := 0; i < DeckSize; i++ {
		c, ok := d.Deal()
		require.True(t, ok)
		require.Equal(t, Card(i), c)
	}
}

func TestBurn(t *testing.T) {
	d := NewDeck()
	require.True(t, d.Burn())
	require.Equal(t, DeckSize-1, d.Remaining())

	first, ok := d.Deal()
	require.True(t, ok)
	require.Equal(t, Card(1), first, "burn must consume the top card")

	for d.Remaining() > 0 {
		d.Burn()
	}
	require.False(t, d.Burn())
}
