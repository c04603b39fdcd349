package chain

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/j-c-b-s-t-w-s-k/coral/internal/escrow"
)

// TxEnvelope is the v0 transaction container.
//
// CometBFT transactions are opaque bytes; for the v0 localnet they are
// JSON-encoded envelopes. This is NOT the final protocol encoding.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// Tx auth:
	// - Nonce: decimal uint64, must strictly increase per signer.
	// - Signer: account name.
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// NewTx encodes an unauthenticated transaction. Only the v0 faucet
// (bank/mint) accepts these.
func NewTx(typ string, msg any) ([]byte, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("chain: encode %s value: %w", typ, err)
	}
	return json.Marshal(TxEnvelope{Type: typ, Value: value})
}

// NewSignedTx encodes a transaction signed by the account's registered key.
// Nonces must strictly increase per signer.
func NewSignedTx(typ string, msg any, signer string, nonce uint64, priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("chain: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("chain: encode %s value: %w", typ, err)
	}
	env := TxEnvelope{
		Type:   typ,
		Value:  value,
		Nonce:  strconv.FormatUint(nonce, 10),
		Signer: signer,
	}
	env.Sig = ed25519.Sign(priv, txAuthSignBytesV0(env.Type, env.Value, env.Nonce, env.Signer))
	return json.Marshal(env)
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth ----

// AuthRegisterKeyTx binds an ed25519 public key to an account name. It is
// self-signed: the signature must verify against the embedded key.
type AuthRegisterKeyTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // 32 bytes (base64 in JSON)
}

// ---- Escrow ----

type EscrowOpenTx struct {
	GameID  string   `json:"gameId"`
	Opener  string   `json:"opener"`
	BuyIn   uint64   `json:"buyIn"`
	Members []string `json:"members"`
	// TimeoutBlocks overrides the default refund delay when positive.
	TimeoutBlocks int64 `json:"timeoutBlocks,omitempty"`
}

type EscrowFundTx struct {
	GameID string `json:"gameId"`
	Player string `json:"player"`
	Amount uint64 `json:"amount"`
}

type EscrowSettleTx struct {
	GameID   string                   `json:"gameId"`
	Proposer string                   `json:"proposer"`
	Outcome  escrow.SettlementOutcome `json:"outcome"`
}

type EscrowSignTx struct {
	GameID string `json:"gameId"`
	Player string `json:"player"`
	Sig    []byte `json:"sig"` // over escrow.SettleSignBytes(gameId, settlementTx)
}

// EscrowTimeoutTx pokes the refund path; anyone may submit it once the
// timeout height has passed.
type EscrowTimeoutTx struct {
	GameID string `json:"gameId"`
}
