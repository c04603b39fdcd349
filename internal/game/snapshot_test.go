package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotRestoreRoundtrip(t *testing.T) {
	now := int64(70_000)
	g := newTestGame(t, holdemConfig(), 1000, 1000, 1000)
	g.SetClock(func() int64 { return now })
	require.NoError(t, g.StartNewHandWithSeed(testSeed(70)))
	require.NoError(t, g.ProcessAction("alice", ActionRaise, 40))
	require.NoError(t, g.ProcessAction("bob", ActionCall, 0))

	data, err := g.Snapshot()
	require.NoError(t, err)

	restored, err := NewGame(holdemConfig())
	require.NoError(t, err)
	restored.SetClock(func() int64 { return now })
	require.NoError(t, restored.Restore(data))

	h1, err := g.Hash()
	require.NoError(t, err)
	h2, err := restored.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	// Both copies accept the same action and stay in lockstep, deck
	// included: the restored table deals the identical flop.
	require.NoError(t, g.ProcessAction("carol", ActionCall, 0))
	require.NoError(t, restored.ProcessAction("carol", ActionCall, 0))
	require.Equal(t, PhaseFlop, g.Phase())
	require.Equal(t, g.Phase(), restored.Phase())
	require.Equal(t, g.Community(), restored.Community())

	h1, err = g.Hash()
	require.NoError(t, err)
	h2, err = restored.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestPublicHashHidesHoleCards(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000)
	g.SetExternalDeal(true)
	now := int64(80_000)
	g.SetClock(func() int64 { return now })
	require.NoError(t, g.StartNewHand())
	require.NoError(t, g.ConfirmHolesDealt())

	before, err := g.Hash()
	require.NoError(t, err)
	require.NoError(t, g.SetHoleCards(0, cc(t, "As", "Kd")))
	after, err := g.Hash()
	require.NoError(t, err)
	require.Equal(t, before, after, "hole knowledge must not leak into the shared hash")

	private, err := g.Snapshot()
	require.NoError(t, err)
	public, err := g.PublicSnapshot()
	require.NoError(t, err)
	require.NotEqual(t, private, public)
	require.Contains(t, string(private), "holeCards")
	require.NotContains(t, string(public), "holeCards")
}

func TestRestore_Invalid(t *testing.T) {
	g := newTestGame(t, holdemConfig(), 1000, 1000)
	require.Error(t, g.Restore([]byte("{")))
	require.Error(t, g.Restore([]byte(`{"config":{"variant":"nope"}}`)))
}
