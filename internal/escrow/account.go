package escrow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status tracks an account through fund → settle (or refund).
type Status string

const (
	// StatusFunding means the account is open and waiting for stakes.
	StatusFunding Status = "FUNDING"
	// StatusFunded means every member's stake has landed.
	StatusFunded Status = "FUNDED"
	// StatusSettling means a settlement transaction exists and is collecting
	// signatures.
	StatusSettling Status = "SETTLING"
	// StatusSettled means the fully signed settlement was released.
	StatusSettled Status = "SETTLED"
	// StatusRefunded means the timeout path returned every stake.
	StatusRefunded Status = "REFUNDED"
)

// DefaultTimeoutBlocks is how many blocks must pass after creation before
// the refund path unlocks.
const DefaultTimeoutBlocks = 144

var (
	ErrNotMember        = errors.New("escrow: player is not an account member")
	ErrAlreadyFunded    = errors.New("escrow: player already funded")
	ErrNotFunded        = errors.New("escrow: account not fully funded")
	ErrBadStatus        = errors.New("escrow: operation not valid in current status")
	ErrNoSettlement     = errors.New("escrow: no settlement transaction created")
	ErrAlreadySigned    = errors.New("escrow: player already signed")
	ErrNotFullySigned   = errors.New("escrow: settlement not fully signed")
	ErrTimeoutNotDue    = errors.New("escrow: timeout height not reached")
	ErrTimeoutForbidden = errors.New("escrow: account already released")
)

// Account holds the stakes for one game. Members are identified by the same
// player keys the game core uses. Fields are exported for JSON persistence;
// all mutation goes through the methods, and the owner serializes access.
type Account struct {
	GameID        string            `json:"gameId"`
	BuyIn         uint64            `json:"buyIn"` // minimum stake per member
	Members       []string          `json:"members"`
	Funded        map[string]uint64 `json:"funded,omitempty"`
	Status        Status            `json:"status"`
	CreatedHeight int64             `json:"createdHeight"`
	TimeoutBlocks int64             `json:"timeoutBlocks"`

	Outcome      *SettlementOutcome `json:"outcome,omitempty"`
	SettlementTx json.RawMessage    `json:"settlementTx,omitempty"`
	Sigs         map[string][]byte  `json:"sigs,omitempty"`
}

// Open creates a FUNDING account for 2-9 distinct members. buyIn is the
// minimum stake each member must deposit.
func Open(gameID string, buyIn uint64, members []string, height int64) (*Account, error) {
	if gameID == "" {
		return nil, fmt.Errorf("escrow: missing game id")
	}
	if buyIn == 0 {
		return nil, fmt.Errorf("escrow: buy-in must be positive")
	}
	if len(members) < 2 || len(members) > 9 {
		return nil, fmt.Errorf("escrow: need 2-9 members, got %d", len(members))
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m == "" {
			return nil, fmt.Errorf("escrow: empty member key")
		}
		if seen[m] {
			return nil, fmt.Errorf("escrow: duplicate member %q", m)
		}
		seen[m] = true
	}
	return &Account{
		GameID:        gameID,
		BuyIn:         buyIn,
		Members:       append([]string(nil), members...),
		Funded:        map[string]uint64{},
		Status:        StatusFunding,
		CreatedHeight: height,
		TimeoutBlocks: DefaultTimeoutBlocks,
		Sigs:          map[string][]byte{},
	}, nil
}

// IsMember reports whether key is one of the account members.
func (a *Account) IsMember(key string) bool {
	for _, m := range a.Members {
		if m == key {
			return true
		}
	}
	return false
}

// Fund records one member's stake. Each member funds exactly once with at
// least the buy-in; the account flips to FUNDED when the last stake lands.
func (a *Account) Fund(player string, amount uint64) error {
	if a.Status != StatusFunding {
		return ErrBadStatus
	}
	if !a.IsMember(player) {
		return ErrNotMember
	}
	if _, ok := a.Funded[player]; ok {
		return ErrAlreadyFunded
	}
	if amount < a.BuyIn {
		return fmt.Errorf("escrow: stake %d below buy-in %d", amount, a.BuyIn)
	}
	if a.Funded == nil {
		a.Funded = map[string]uint64{}
	}
	pot := a.Pot()
	if pot > ^uint64(0)-amount {
		return fmt.Errorf("escrow: pot overflows uint64")
	}
	a.Funded[player] = amount
	if len(a.Funded) == len(a.Members) {
		a.Status = StatusFunded
	}
	return nil
}

// Pot is the sum of all deposited stakes.
func (a *Account) Pot() uint64 {
	var total uint64
	for _, amt := range a.Funded {
		total += amt
	}
	return total
}

// IsFullyFunded reports whether every member's stake has landed and is
// still held.
func (a *Account) IsFullyFunded() bool {
	if a.Status == StatusFunding || a.Status == StatusRefunded {
		return false
	}
	return len(a.Funded) == len(a.Members)
}

// CreateSettlementTransaction pins the outcome and builds the canonical
// release payload. The payouts must be non-empty and must not exceed the pot.
func (a *Account) CreateSettlementTransaction(outcome SettlementOutcome) error {
	if a.Status != StatusFunded {
		if a.Status == StatusFunding {
			return ErrNotFunded
		}
		return ErrBadStatus
	}
	if len(outcome.Payouts) == 0 {
		return fmt.Errorf("escrow: settlement has no payouts")
	}
	total, err := outcome.Total()
	if err != nil {
		return err
	}
	if total > a.Pot() {
		return fmt.Errorf("escrow: settlement total %d exceeds pot %d", total, a.Pot())
	}
	for _, p := range outcome.Payouts {
		if !a.IsMember(p.PlayerKey) {
			return fmt.Errorf("escrow: payout to non-member %q", p.PlayerKey)
		}
	}
	tx, err := json.Marshal(struct {
		GameID  string            `json:"gameId"`
		Outcome SettlementOutcome `json:"outcome"`
	}{GameID: a.GameID, Outcome: outcome})
	if err != nil {
		return fmt.Errorf("escrow: encode settlement: %w", err)
	}
	o := outcome
	a.Outcome = &o
	a.SettlementTx = tx
	a.Sigs = map[string][]byte{}
	a.Status = StatusSettling
	return nil
}

// SettlementSignBytes returns the domain-separated digest members sign.
func (a *Account) SettlementSignBytes() ([]byte, error) {
	if len(a.SettlementTx) == 0 {
		return nil, ErrNoSettlement
	}
	return SettleSignBytes(a.GameID, a.SettlementTx), nil
}

// AddSettlementSignature records one member's signature over the settlement
// transaction. Verification against the member's public key is the caller's
// responsibility; the account enforces membership and once-each.
func (a *Account) AddSettlementSignature(playerKey string, sig []byte) error {
	if a.Status != StatusSettling {
		return ErrBadStatus
	}
	if !a.IsMember(playerKey) {
		return ErrNotMember
	}
	if len(sig) == 0 {
		return fmt.Errorf("escrow: empty signature")
	}
	if _, ok := a.Sigs[playerKey]; ok {
		return ErrAlreadySigned
	}
	if a.Sigs == nil {
		a.Sigs = map[string][]byte{}
	}
	a.Sigs[playerKey] = append([]byte(nil), sig...)
	return nil
}

// IsSettlementFullySigned reports whether all N members have signed.
func (a *Account) IsSettlementFullySigned() bool {
	if a.Status != StatusSettling && a.Status != StatusSettled {
		return false
	}
	return len(a.Sigs) == len(a.Members)
}

// GetSignedSettlementTransaction returns the release transaction with every
// member's signature attached and marks the account SETTLED.
func (a *Account) GetSignedSettlementTransaction() ([]byte, error) {
	if !a.IsSettlementFullySigned() {
		return nil, ErrNotFullySigned
	}
	signed, err := json.Marshal(struct {
		Payload json.RawMessage   `json:"payload"`
		Sigs    map[string][]byte `json:"sigs"`
	}{Payload: a.SettlementTx, Sigs: a.Sigs})
	if err != nil {
		return nil, fmt.Errorf("escrow: encode signed settlement: %w", err)
	}
	a.Status = StatusSettled
	return signed, nil
}

// CanTriggerTimeout reports whether the refund path has unlocked: enough
// blocks have passed and the funds have not already been released.
func (a *Account) CanTriggerTimeout(height int64) bool {
	if a.Status == StatusSettled || a.Status == StatusRefunded {
		return false
	}
	return height-a.CreatedHeight >= a.TimeoutBlocks
}

// Timeout refunds every deposited stake after the timeout height. It returns
// the refund amounts keyed by member.
func (a *Account) Timeout(height int64) (map[string]uint64, error) {
	if a.Status == StatusSettled || a.Status == StatusRefunded {
		return nil, ErrTimeoutForbidden
	}
	if height-a.CreatedHeight < a.TimeoutBlocks {
		return nil, ErrTimeoutNotDue
	}
	refunds := make(map[string]uint64, len(a.Funded))
	for player, amt := range a.Funded {
		refunds[player] = amt
	}
	a.Status = StatusRefunded
	return refunds, nil
}
