// Package wire defines the signed envelope peers exchange. Every message a
// node emits is wrapped, timestamped, and ed25519-signed over
// domain-separated bytes; receivers verify the signature against the sender
// key carried in the envelope before any payload is decoded. The sender key
// doubles as the player identity at the table, so a verified envelope is
// also a claim of seat ownership.
package wire

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type names one protocol message. Values are wire-stable.
type Type string

const (
	TypeAnnounce   Type = "announce"
	TypeJoin       Type = "join"
	TypeAccept     Type = "accept"
	TypeReady      Type = "ready"
	TypeStart      Type = "start"
	TypeKeyCommit  Type = "key_commit"
	TypeKeyReveal  Type = "key_reveal"
	TypeDeck       Type = "deck"
	TypeCardReveal Type = "card_reveal"
	TypeAction     Type = "action"
	TypeStateSync  Type = "state_sync"
	TypeSettle     Type = "settle"
	TypeLeave      Type = "leave"
)

// Known reports whether t is one of the protocol message types.
func (t Type) Known() bool {
	switch t {
	case TypeAnnounce, TypeJoin, TypeAccept, TypeReady, TypeStart,
		TypeKeyCommit, TypeKeyReveal, TypeDeck, TypeCardReveal,
		TypeAction, TypeStateSync, TypeSettle, TypeLeave:
		return true
	}
	return false
}

const msgDomainV0 = "coral/msg/v0"

// Acceptance window for envelope timestamps, in seconds. Old messages are
// replays or leftovers from a dead session; future ones are clock abuse.
const (
	maxAgeSecs  int64 = 3600
	maxSkewSecs int64 = 60
)

var (
	ErrUnknownType  = errors.New("wire: unknown message type")
	ErrBadSender    = errors.New("wire: sender is not a valid public key")
	ErrNoSignature  = errors.New("wire: missing signature")
	ErrBadSignature = errors.New("wire: signature verification failed")
	ErrExpired      = errors.New("wire: message too old")
	ErrFromFuture   = errors.New("wire: message timestamp in the future")
)

// Envelope frames one protocol message. Sender is the hex-encoded ed25519
// public key of the emitting node; Sig covers SignBytes, so type, game,
// sender, timestamp, and payload are all tamper-evident.
type Envelope struct {
	Type      Type            `json:"type"`
	GameID    string          `json:"gameId,omitempty"`
	Sender    string          `json:"sender"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Sig       []byte          `json:"sig,omitempty"`
}

// NewEnvelope frames a payload for signing. The sender field is filled in
// by Sign.
func NewEnvelope(typ Type, gameID string, payload any, now time.Time) (*Envelope, error) {
	if !typ.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s payload: %w", typ, err)
	}
	return &Envelope{
		Type:      typ,
		GameID:    gameID,
		Payload:   raw,
		Timestamp: now.Unix(),
	}, nil
}

// SignBytes renders the bytes the envelope signature covers.
func (e *Envelope) SignBytes() []byte {
	// signBytes = DOMAIN || 0x00 || type || 0x00 || gameId || 0x00 || sender || 0x00 || LE64(timestamp) || sha256(payload)
	sum := sha256.Sum256(e.Payload)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(e.Timestamp))
	out := make([]byte, 0, len(msgDomainV0)+1+len(e.Type)+1+len(e.GameID)+1+len(e.Sender)+1+len(ts)+sha256.Size)
	out = append(out, msgDomainV0...)
	out = append(out, 0)
	out = append(out, e.Type...)
	out = append(out, 0)
	out = append(out, e.GameID...)
	out = append(out, 0)
	out = append(out, e.Sender...)
	out = append(out, 0)
	out = append(out, ts[:]...)
	out = append(out, sum[:]...)
	return out
}

// Sign stamps the envelope with the node identity: the sender field becomes
// the hex public key of priv and the signature covers SignBytes.
func (e *Envelope) Sign(priv ed25519.PrivateKey) error {
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("wire: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	e.Sender = hex.EncodeToString(priv.Public().(ed25519.PublicKey))
	e.Sig = ed25519.Sign(priv, e.SignBytes())
	return nil
}

// Verify checks the signature against the sender key the envelope carries.
// Whether that key belongs at the table is the dispatcher's question, not
// this one.
func (e *Envelope) Verify() error {
	pub, err := hex.DecodeString(e.Sender)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: %q", ErrBadSender, e.Sender)
	}
	if len(e.Sig) == 0 {
		return ErrNoSignature
	}
	if len(e.Sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes", ErrBadSignature, len(e.Sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), e.SignBytes(), e.Sig) {
		return ErrBadSignature
	}
	return nil
}

// CheckTimestamp enforces the receive window: at most maxAgeSecs old, at
// most maxSkewSecs ahead of local time. Both edges are inclusive.
func (e *Envelope) CheckTimestamp(now time.Time) error {
	age := now.Unix() - e.Timestamp
	if age > maxAgeSecs {
		return fmt.Errorf("%w: %ds", ErrExpired, age)
	}
	if -age > maxSkewSecs {
		return fmt.Errorf("%w: %ds ahead", ErrFromFuture, -age)
	}
	return nil
}

// DecodePayload unmarshals the payload into v. A failure poisons only this
// message; the envelope itself stays valid.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// SenderKey decodes the sender field into a usable public key.
func (e *Envelope) SenderKey() (ed25519.PublicKey, error) {
	pub, err := hex.DecodeString(e.Sender)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %q", ErrBadSender, e.Sender)
	}
	return ed25519.PublicKey(pub), nil
}
