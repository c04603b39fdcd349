package escrow

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func testMembers(t *testing.T, n int) ([]string, map[string]ed25519.PrivateKey) {
	t.Helper()
	keys := make([]string, 0, n)
	privs := make(map[string]ed25519.PrivateKey, n)
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		k := hex.EncodeToString(pub)
		keys = append(keys, k)
		privs[k] = priv
	}
	return keys, privs
}

func fundedAccount(t *testing.T, members []string, buyIn uint64) *Account {
	t.Helper()
	a, err := Open("game-1", buyIn, members, 10)
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, a.Fund(m, buyIn))
	}
	require.True(t, a.IsFullyFunded())
	return a
}

func TestOpenValidation(t *testing.T) {
	members, _ := testMembers(t, 3)

	_, err := Open("", 100, members, 1)
	require.Error(t, err)

	_, err = Open("g", 0, members, 1)
	require.Error(t, err)

	_, err = Open("g", 100, members[:1], 1)
	require.Error(t, err)

	_, err = Open("g", 100, append(append([]string(nil), members...), members[0]), 1)
	require.Error(t, err)

	a, err := Open("g", 100, members, 7)
	require.NoError(t, err)
	require.Equal(t, StatusFunding, a.Status)
	require.Equal(t, int64(7), a.CreatedHeight)
	require.Equal(t, int64(DefaultTimeoutBlocks), a.TimeoutBlocks)
}

func TestFundingCompletion(t *testing.T) {
	members, _ := testMembers(t, 3)
	a, err := Open("g", 100, members, 1)
	require.NoError(t, err)

	require.NoError(t, a.Fund(members[0], 100))
	require.False(t, a.IsFullyFunded())

	// Non-member and double funding are rejected.
	require.ErrorIs(t, a.Fund("stranger", 100), ErrNotMember)
	require.ErrorIs(t, a.Fund(members[0], 100), ErrAlreadyFunded)

	// Below the buy-in floor.
	require.Error(t, a.Fund(members[1], 99))

	require.NoError(t, a.Fund(members[1], 150))
	require.NoError(t, a.Fund(members[2], 100))
	require.True(t, a.IsFullyFunded())
	require.Equal(t, StatusFunded, a.Status)
	require.Equal(t, uint64(350), a.Pot())

	// Funding is closed once complete.
	require.ErrorIs(t, a.Fund(members[2], 100), ErrBadStatus)
}

func TestSettlementTotalMustNotExceedPot(t *testing.T) {
	members, _ := testMembers(t, 2)
	a := fundedAccount(t, members, 100)

	err := a.CreateSettlementTransaction(SettlementOutcome{
		Payouts:  []PlayerPayout{{PlayerKey: members[0], Amount: 201}},
		GameHash: "abc",
	})
	require.Error(t, err)
	require.Equal(t, StatusFunded, a.Status)

	err = a.CreateSettlementTransaction(SettlementOutcome{})
	require.Error(t, err, "empty payouts rejected")

	err = a.CreateSettlementTransaction(SettlementOutcome{
		Payouts: []PlayerPayout{{PlayerKey: "stranger", Amount: 10}},
	})
	require.Error(t, err, "payout to non-member rejected")

	err = a.CreateSettlementTransaction(SettlementOutcome{
		Payouts: []PlayerPayout{
			{PlayerKey: members[0], Amount: 150},
			{PlayerKey: members[1], Amount: 50},
		},
		GameHash:  "abc",
		Timestamp: 42,
	})
	require.NoError(t, err)
	require.Equal(t, StatusSettling, a.Status)
	require.NotEmpty(t, a.SettlementTx)
}

func TestSettlementRequiresFullFunding(t *testing.T) {
	members, _ := testMembers(t, 2)
	a, err := Open("g", 100, members, 1)
	require.NoError(t, err)
	require.NoError(t, a.Fund(members[0], 100))

	err = a.CreateSettlementTransaction(SettlementOutcome{
		Payouts: []PlayerPayout{{PlayerKey: members[0], Amount: 100}},
	})
	require.ErrorIs(t, err, ErrNotFunded)
}

func TestNOfNSignatures(t *testing.T) {
	members, privs := testMembers(t, 3)
	a := fundedAccount(t, members, 100)

	require.NoError(t, a.CreateSettlementTransaction(SettlementOutcome{
		Payouts: []PlayerPayout{
			{PlayerKey: members[0], Amount: 300},
		},
		GameHash: "deadbeef",
	}))

	msg, err := a.SettlementSignBytes()
	require.NoError(t, err)

	_, err = a.GetSignedSettlementTransaction()
	require.ErrorIs(t, err, ErrNotFullySigned)

	for i, m := range members {
		sig := ed25519.Sign(privs[m], msg)
		require.NoError(t, a.AddSettlementSignature(m, sig))
		if i < len(members)-1 {
			require.False(t, a.IsSettlementFullySigned())
		}
	}
	require.True(t, a.IsSettlementFullySigned())

	require.ErrorIs(t, a.AddSettlementSignature(members[0], []byte{1}), ErrAlreadySigned)
	require.ErrorIs(t, a.AddSettlementSignature("stranger", []byte{1}), ErrNotMember)

	signed, err := a.GetSignedSettlementTransaction()
	require.NoError(t, err)
	require.Equal(t, StatusSettled, a.Status)

	var tx struct {
		Payload json.RawMessage   `json:"payload"`
		Sigs    map[string][]byte `json:"sigs"`
	}
	require.NoError(t, json.Unmarshal(signed, &tx))
	require.Len(t, tx.Sigs, 3)

	// Every attached signature verifies against the canonical sign bytes.
	for m, sig := range tx.Sigs {
		pub, err := hex.DecodeString(m)
		require.NoError(t, err)
		require.True(t, ed25519.Verify(ed25519.PublicKey(pub), SettleSignBytes(a.GameID, tx.Payload), sig))
	}

	// Settled accounts can no longer time out.
	require.False(t, a.CanTriggerTimeout(a.CreatedHeight+DefaultTimeoutBlocks+1))
}

func TestTimeoutGating(t *testing.T) {
	members, _ := testMembers(t, 2)
	a, err := Open("g", 100, members, 1000)
	require.NoError(t, err)
	require.NoError(t, a.Fund(members[0], 100))
	require.NoError(t, a.Fund(members[1], 120))

	require.False(t, a.CanTriggerTimeout(1000))
	require.False(t, a.CanTriggerTimeout(1000+DefaultTimeoutBlocks-1))
	_, err = a.Timeout(1000 + DefaultTimeoutBlocks - 1)
	require.ErrorIs(t, err, ErrTimeoutNotDue)

	require.True(t, a.CanTriggerTimeout(1000+DefaultTimeoutBlocks))
	refunds, err := a.Timeout(1000 + DefaultTimeoutBlocks)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, a.Status)
	require.Equal(t, uint64(100), refunds[members[0]])
	require.Equal(t, uint64(120), refunds[members[1]])

	_, err = a.Timeout(1000 + DefaultTimeoutBlocks)
	require.ErrorIs(t, err, ErrTimeoutForbidden)
}

func TestManager(t *testing.T) {
	members, _ := testMembers(t, 2)
	m := NewManager()

	a, err := m.Open("g1", 50, members, 1)
	require.NoError(t, err)
	_, err = m.Open("g1", 50, members, 1)
	require.Error(t, err, "duplicate game id")

	got, ok := m.Get("g1")
	require.True(t, ok)
	require.Same(t, a, got)

	_, ok = m.Get("missing")
	require.False(t, ok)

	_, err = m.Open("g2", 50, members, 5)
	require.NoError(t, err)

	// g1 unlocks at 1+144, g2 at 5+144.
	swept := m.CheckTimeouts(1 + DefaultTimeoutBlocks)
	require.Equal(t, []string{"g1"}, swept)

	swept = m.CheckTimeouts(5 + DefaultTimeoutBlocks)
	require.Equal(t, []string{"g2"}, swept)

	swept = m.CheckTimeouts(10_000)
	require.Empty(t, swept, "refunded accounts are not swept twice")
}

func TestOutcomeTotalOverflow(t *testing.T) {
	o := SettlementOutcome{Payouts: []PlayerPayout{
		{PlayerKey: "a", Amount: ^uint64(0)},
		{PlayerKey: "b", Amount: 1},
	}}
	_, err := o.Total()
	require.Error(t, err)
}
