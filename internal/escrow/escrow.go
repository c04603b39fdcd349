// Package escrow holds staked funds for a game and releases them on a
// jointly signed settlement or, failing that, a block-height timeout
// refund. The game core never constructs or signs transactions; it hands a
// SettlementOutcome to this package and polls the signing state.
package escrow

import "fmt"

// PlayerPayout is one player's share of a settlement.
type PlayerPayout struct {
	PlayerKey string `json:"playerKey"`
	Amount    uint64 `json:"amount"`
}

// SettlementOutcome is produced at showdown: the full distribution of the
// escrowed funds, a hash of the final game state for auditability, and the
// settlement time.
type SettlementOutcome struct {
	Payouts   []PlayerPayout `json:"payouts"`
	GameHash  string         `json:"gameHash"`
	Timestamp int64          `json:"timestamp"`
}

// Total sums the payouts with overflow checking.
func (o *SettlementOutcome) Total() (uint64, error) {
	var total uint64
	for _, p := range o.Payouts {
		if total > ^uint64(0)-p.Amount {
			return 0, fmt.Errorf("escrow: payout total overflows uint64")
		}
		total += p.Amount
	}
	return total, nil
}

// Escrow is the fund-custody collaborator the game core depends on.
type Escrow interface {
	// IsFullyFunded reports whether every participant's stake has landed.
	IsFullyFunded() bool

	// CreateSettlementTransaction builds the release transaction for an
	// outcome. Fails if the outcome pays out more than was escrowed.
	CreateSettlementTransaction(outcome SettlementOutcome) error

	// AddSettlementSignature records one participant's signature over the
	// settlement transaction.
	AddSettlementSignature(playerKey string, sig []byte) error

	// IsSettlementFullySigned reports whether every participant has signed.
	IsSettlementFullySigned() bool

	// GetSignedSettlementTransaction returns the fully signed release
	// transaction for broadcast.
	GetSignedSettlementTransaction() ([]byte, error)

	// CanTriggerTimeout reports whether the refund path has unlocked at the
	// given block height.
	CanTriggerTimeout(height int64) bool
}
