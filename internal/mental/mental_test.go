package mental

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/cards"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
)

const testBits = 256

// ceremony builds n protocols and walks them through key generation,
// commitment exchange, and key reveal, leaving every table in Shuffling.
func ceremony(t *testing.T, n int) []*Protocol {
	t.Helper()
	tables := make([]*Protocol, n)
	commits := make([][sra.CommitmentSize]byte, n)

	for i := range tables {
		tables[i] = NewProtocol()
		require.NoError(t, tables[i].Initialize(n, i))
	}

	c0, err := tables[0].GenerateKeysAndCommit(rand.Reader, testBits)
	require.NoError(t, err)
	commits[0] = c0
	sess := tables[0].Session()
	require.NotNil(t, sess)

	for i := 1; i < n; i++ {
		require.NoError(t, tables[i].SetSession(sess))
		ci, err := tables[i].GenerateKeysAndCommit(rand.Reader, testBits)
		require.NoError(t, err)
		commits[i] = ci
	}

	for i := range tables {
		for j := range tables {
			if i == j {
				continue
			}
			require.NoError(t, tables[j].ReceiveCommitment(i, commits[i]))
		}
	}
	for _, table := range tables {
		require.True(t, table.AllCommitmentsReceived())
		require.Equal(t, KeyReveal, table.State())
	}

	for i := range tables {
		key := tables[i].PublicKey(i)
		require.NotNil(t, key)
		for j := range tables {
			if i == j {
				continue
			}
			require.NoError(t, tables[j].ReceivePublicKey(i, key))
		}
	}
	for _, table := range tables {
		require.True(t, table.AllPublicKeysReceived())
		require.Equal(t, Shuffling, table.State())
	}
	return tables
}

// dealDeck runs the shuffle chain in position order and installs the result
// everywhere.
func dealDeck(t *testing.T, tables []*Protocol) {
	t.Helper()
	deck, err := tables[0].CreateInitialDeck(rand.Reader)
	require.NoError(t, err)
	for i := 1; i < len(tables); i++ {
		deck, err = tables[i].EncryptAndShuffle(deck, rand.Reader)
		require.NoError(t, err)
	}
	for _, table := range tables {
		require.NoError(t, table.InstallDeck(deck))
		require.Equal(t, Dealt, table.State())
	}
}

// revealPosition chains partial decryptions in shuffle order and fans each
// one out to every table, the way broadcasts do on the wire.
func revealPosition(t *testing.T, tables []*Protocol, pos int) cards.Card {
	t.Helper()
	order := tables[0].Deck().Shufflers
	for _, provider := range order {
		partial, err := tables[provider].ProvidePartialDecrypt(pos)
		require.NoError(t, err)
		for _, table := range tables {
			require.NoError(t, table.ReceivePartialDecrypt(pos, provider, partial))
		}
	}
	card, ok := tables[0].CardAt(pos)
	require.True(t, ok)
	for _, table := range tables {
		got, ok := table.CardAt(pos)
		require.True(t, ok)
		require.Equal(t, card, got, "tables disagree on position %d", pos)
	}
	return card
}

func TestInitialize(t *testing.T) {
	p := NewProtocol()
	require.Equal(t, Uninitialized, p.State())
	require.NoError(t, p.Initialize(3, 1))
	require.Equal(t, CommitCollection, p.State())
	require.Equal(t, 3, p.NumPlayers())
	require.Equal(t, 1, p.MyPosition())

	require.ErrorIs(t, p.Initialize(3, 1), ErrWrongState)
}

func TestInitialize_Invalid(t *testing.T) {
	require.ErrorContains(t, NewProtocol().Initialize(1, 0), "at least 2")
	require.ErrorIs(t, NewProtocol().Initialize(3, 3), ErrPlayerIndex)
	require.ErrorIs(t, NewProtocol().Initialize(3, -1), ErrPlayerIndex)
}

func TestGenerateKeysAndCommit_NonCreatorNeedsSession(t *testing.T) {
	p := NewProtocol()
	require.NoError(t, p.Initialize(2, 1))
	_, err := p.GenerateKeysAndCommit(rand.Reader, testBits)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestFullDeckCeremony(t *testing.T) {
	tables := ceremony(t, 3)
	dealDeck(t, tables)

	seen := map[cards.Card]bool{}
	for pos := 0; pos < cards.DeckSize; pos++ {
		c := revealPosition(t, tables, pos)
		require.True(t, c.Valid())
		require.False(t, seen[c], "card %s at two positions", c)
		seen[c] = true
	}
	require.Len(t, seen, cards.DeckSize)
	for _, table := range tables {
		require.Equal(t, cards.DeckSize, table.RevealedCount())
	}
}

func TestReceivePublicKey_RejectsMismatch(t *testing.T) {
	a, b := NewProtocol(), NewProtocol()
	require.NoError(t, a.Initialize(2, 0))
	require.NoError(t, b.Initialize(2, 1))
	ca, err := a.GenerateKeysAndCommit(rand.Reader, testBits)
	require.NoError(t, err)
	require.NoError(t, b.SetSession(a.Session()))
	cb, err := b.GenerateKeysAndCommit(rand.Reader, testBits)
	require.NoError(t, err)
	require.NoError(t, a.ReceiveCommitment(1, cb))
	require.NoError(t, b.ReceiveCommitment(0, ca))

	real := a.PublicKey(0)
	tampered := new(big.Int).Add(real, big.NewInt(1))
	require.ErrorIs(t, b.ReceivePublicKey(0, tampered), ErrCommitmentMismatch)
	require.ErrorIs(t, b.ReceivePublicKey(0, nil), ErrCommitmentMismatch)
	require.False(t, b.AllPublicKeysReceived())

	// The rejection must not consume the slot.
	require.NoError(t, b.ReceivePublicKey(0, real))
	require.True(t, b.AllPublicKeysReceived())
}

func TestReceivePublicKey_WrongState(t *testing.T) {
	p := NewProtocol()
	require.NoError(t, p.Initialize(2, 0))
	err := p.ReceivePublicKey(1, big.NewInt(7))
	require.ErrorIs(t, err, ErrWrongState)
}

func TestReceiveCommitment_Validation(t *testing.T) {
	p := NewProtocol()
	require.NoError(t, p.Initialize(3, 0))
	_, err := p.GenerateKeysAndCommit(rand.Reader, testBits)
	require.NoError(t, err)

	var c [sra.CommitmentSize]byte
	c[0] = 1
	require.ErrorIs(t, p.ReceiveCommitment(3, c), ErrPlayerIndex)
	require.ErrorIs(t, p.ReceiveCommitment(-1, c), ErrPlayerIndex)
	require.ErrorIs(t, p.ReceiveCommitment(0, c), ErrPlayerIndex)

	require.NoError(t, p.ReceiveCommitment(1, c))
	require.ErrorIs(t, p.ReceiveCommitment(1, c), ErrDuplicate)
}

func TestEncryptAndShuffle_Validation(t *testing.T) {
	tables := ceremony(t, 3)

	deck, err := tables[0].CreateInitialDeck(rand.Reader)
	require.NoError(t, err)

	// A player cannot layer the same deck twice.
	_, err = tables[0].EncryptAndShuffle(deck, rand.Reader)
	require.ErrorIs(t, err, ErrProvenance)

	_, err = tables[1].EncryptAndShuffle(nil, rand.Reader)
	require.ErrorIs(t, err, ErrDeckSize)

	short := deck.Clone()
	short.Cards = short.Cards[:51]
	_, err = tables[1].EncryptAndShuffle(short, rand.Reader)
	require.ErrorIs(t, err, ErrDeckSize)

	// Input deck must be left untouched by a successful shuffle.
	before := deck.Cards[0].Ciphertext.String()
	_, err = tables[1].EncryptAndShuffle(deck, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, before, deck.Cards[0].Ciphertext.String())
}

func TestInstallDeck_RejectsIncompleteChain(t *testing.T) {
	tables := ceremony(t, 3)
	deck, err := tables[0].CreateInitialDeck(rand.Reader)
	require.NoError(t, err)

	err = tables[0].InstallDeck(deck)
	require.ErrorIs(t, err, ErrProvenance)
	require.Equal(t, Shuffling, tables[0].State())
}

func TestReveal_Validation(t *testing.T) {
	tables := ceremony(t, 2)
	dealDeck(t, tables)

	_, err := tables[0].ProvidePartialDecrypt(-1)
	require.ErrorIs(t, err, ErrCardIndex)
	_, err = tables[0].ProvidePartialDecrypt(52)
	require.ErrorIs(t, err, ErrCardIndex)

	partial, err := tables[0].ProvidePartialDecrypt(0)
	require.NoError(t, err)

	require.ErrorIs(t, tables[1].ReceivePartialDecrypt(52, 0, partial), ErrCardIndex)
	require.ErrorIs(t, tables[1].ReceivePartialDecrypt(0, 5, partial), ErrPlayerIndex)
	require.ErrorIs(t, tables[1].ReceivePartialDecrypt(0, 0, nil), ErrBadPartial)
	require.ErrorIs(t, tables[1].ReceivePartialDecrypt(0, 0, big.NewInt(0)), ErrBadPartial)
	require.ErrorIs(t, tables[1].ReceivePartialDecrypt(0, 0, tables[1].Session().N), ErrBadPartial)

	require.NoError(t, tables[1].ReceivePartialDecrypt(0, 0, partial))
	require.ErrorIs(t, tables[1].ReceivePartialDecrypt(0, 0, partial), ErrDuplicate)

	_, ok := tables[1].CardAt(0)
	require.False(t, ok, "one layer still outstanding")
}

func TestReveal_GarbageFinalPartialRejected(t *testing.T) {
	tables := ceremony(t, 2)
	dealDeck(t, tables)
	order := tables[0].Deck().Shufflers

	first, second := order[0], order[1]
	partial, err := tables[first].ProvidePartialDecrypt(7)
	require.NoError(t, err)
	for _, table := range tables {
		require.NoError(t, table.ReceivePartialDecrypt(7, first, partial))
	}

	// The closing partial must decode to a card; junk is rejected and the
	// slot stays open.
	err = tables[0].ReceivePartialDecrypt(7, second, big.NewInt(1000))
	require.ErrorIs(t, err, ErrBadPartial)
	_, ok := tables[0].CardAt(7)
	require.False(t, ok)

	good, err := tables[second].ProvidePartialDecrypt(7)
	require.NoError(t, err)
	for _, table := range tables {
		require.NoError(t, table.ReceivePartialDecrypt(7, second, good))
	}
	c, ok := tables[0].CardAt(7)
	require.True(t, ok)
	require.True(t, c.Valid())
}

func TestProvidePartialDecrypt_OwnLayerOnce(t *testing.T) {
	tables := ceremony(t, 2)
	dealDeck(t, tables)

	partial, err := tables[0].ProvidePartialDecrypt(3)
	require.NoError(t, err)
	for _, table := range tables {
		require.NoError(t, table.ReceivePartialDecrypt(3, 0, partial))
	}
	_, err = tables[0].ProvidePartialDecrypt(3)
	require.ErrorIs(t, err, ErrDuplicate)
}
