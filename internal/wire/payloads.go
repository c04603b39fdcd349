package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/game"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/mental"
	"github.com/j-c-b-s-t-w-s-k/coral/internal/sra"
)

// AnnouncePayload advertises a table looking for players. The game id is
// not a field: it is derived from the payload itself, so an announcement
// cannot be replayed under a different id.
type AnnouncePayload struct {
	Nonce     string      `json:"nonce"`
	HostName  string      `json:"hostName"`
	Config    game.Config `json:"config"`
	CreatedAt int64       `json:"createdAt"`
}

// DeriveGameID hashes the canonical JSON form of the announcement. Every
// receiver derives the same id from the same announcement.
func (p AnnouncePayload) DeriveGameID() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("wire: derive game id: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// JoinPayload asks the host for a seat.
type JoinPayload struct {
	Name  string `json:"name"`
	BuyIn uint64 `json:"buyIn"`
}

// MemberInfo is one accepted seat in the host's table roster.
type MemberInfo struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Seat  int    `json:"seat"`
	BuyIn uint64 `json:"buyIn"`
}

// AcceptPayload closes seating: the host publishes the final roster and the
// shared cipher session every member will derive keys from. Seat order in
// Members fixes the ceremony order for every hand of the game.
type AcceptPayload struct {
	Config     game.Config  `json:"config"`
	Members    []MemberInfo `json:"members"`
	SessionN   []byte       `json:"sessionN"`
	SessionPhi []byte       `json:"sessionPhi"`
}

// NewAcceptPayload captures the session parameters alongside the roster.
func NewAcceptPayload(cfg game.Config, members []MemberInfo, sess *sra.Session) AcceptPayload {
	return AcceptPayload{
		Config:     cfg,
		Members:    members,
		SessionN:   sess.N.Bytes(),
		SessionPhi: sess.Phi.Bytes(),
	}
}

// Session rebuilds the shared cipher session from the payload bytes.
func (p AcceptPayload) Session() (*sra.Session, error) {
	return sra.NewSessionFromParts(
		new(big.Int).SetBytes(p.SessionN),
		new(big.Int).SetBytes(p.SessionPhi),
	)
}

// Ready scopes. Table readiness gates the first deal; hole readiness
// confirms a seat has decrypted its own cards and betting may open.
const (
	ReadyScopeTable = "table"
	ReadyScopeHoles = "holes"
)

// ReadyPayload signals one member's readiness within a scope.
type ReadyPayload struct {
	Scope string `json:"scope"`
	Hand  uint64 `json:"hand,omitempty"`
}

// StartPayload is the host's signal that a hand begins. Dealer rotation and
// blind seats follow deterministically from the shared table state.
type StartPayload struct {
	Hand uint64 `json:"hand"`
}

// KeyCommitPayload carries a player's hash commitment to the encryption
// key they will use this hand. Commit first, key later; a key that does not
// match its commitment is rejected by every honest peer.
type KeyCommitPayload struct {
	Hand       uint64 `json:"hand"`
	Commitment []byte `json:"commitment"`
}

// KeyRevealPayload opens the commitment: the player's public encryption
// exponent in big-endian bytes.
type KeyRevealPayload struct {
	Hand uint64 `json:"hand"`
	Key  []byte `json:"key"`
}

// DeckPayload moves the deck along the shuffle chain, and announces the
// final deck when the chain is complete. Per-card provenance is not carried:
// a well-formed deck's layers always equal its shuffle chain.
type DeckPayload struct {
	Hand        uint64   `json:"hand"`
	Ciphertexts [][]byte `json:"ciphertexts"`
	Shufflers   []int    `json:"shufflers"`
}

// NewDeckPayload flattens an encrypted deck for transport.
func NewDeckPayload(hand uint64, d *mental.EncryptedDeck) DeckPayload {
	p := DeckPayload{
		Hand:        hand,
		Ciphertexts: make([][]byte, len(d.Cards)),
		Shufflers:   append([]int(nil), d.Shufflers...),
	}
	for i := range d.Cards {
		p.Ciphertexts[i] = d.Cards[i].Ciphertext.Bytes()
	}
	return p
}

// Deck rebuilds the encrypted deck. Structural validation (card count,
// ciphertext ranges, provenance completeness) happens where the deck is
// consumed.
func (p DeckPayload) Deck() *mental.EncryptedDeck {
	d := &mental.EncryptedDeck{
		Cards:     make([]mental.EncryptedCard, len(p.Ciphertexts)),
		Shufflers: append([]int(nil), p.Shufflers...),
	}
	for i, raw := range p.Ciphertexts {
		d.Cards[i] = mental.EncryptedCard{
			Ciphertext: new(big.Int).SetBytes(raw),
			Encryptors: append([]int(nil), p.Shufflers...),
		}
	}
	return d
}

// PartialReveal is one player's layer removal for one deck position.
type PartialReveal struct {
	Pos     int    `json:"pos"`
	Partial []byte `json:"partial"`
}

// CardRevealPayload carries the sender's partial decryptions for a batch of
// deck positions: one street's community cards, or both of a seat's hole
// cards at showdown.
type CardRevealPayload struct {
	Hand    uint64          `json:"hand"`
	Reveals []PartialReveal `json:"reveals"`
}

// ActionPayload is a betting or draw turn. Action uses the table's string
// form; "discard" carries the card indexes to exchange in Discards.
type ActionPayload struct {
	Hand     uint64 `json:"hand"`
	Action   string `json:"action"`
	Amount   uint64 `json:"amount,omitempty"`
	Discards []int  `json:"discards,omitempty"`
}

// StateSyncPayload offers a peer's public table snapshot for catch-up.
// Receivers adopt it only when strictly newer than their own state and only
// when Hash matches the snapshot bytes.
type StateSyncPayload struct {
	HandNumber uint64 `json:"handNumber"`
	Phase      uint8  `json:"phase"`
	Hash       []byte `json:"hash"`
	Snapshot   []byte `json:"snapshot"`
}

// SettlePayload carries one member's settlement signature. Timestamp is the
// initiator's settlement time; every member stamps the same value into its
// outcome so the canonical transaction bytes agree. OutcomeHash is the
// sha256 of that transaction; a sig for a different outcome than the local
// one is rejected without recording.
type SettlePayload struct {
	Timestamp   int64  `json:"timestamp"`
	OutcomeHash []byte `json:"outcomeHash"`
	Sig         []byte `json:"sig"`
}

// LeavePayload announces a departure from the table.
type LeavePayload struct {
	Reason string `json:"reason,omitempty"`
}
