package escrow

import "crypto/sha256"

const settleDomainV0 = "coral/settle/v0"

// SettleSignBytes builds the canonical message a member signs to approve a
// settlement.
//
//	signBytes = DOMAIN || 0x00 || gameId || 0x00 || sha256(payload)
func SettleSignBytes(gameID string, payload []byte) []byte {
	sum := sha256.Sum256(payload)
	out := make([]byte, 0, len(settleDomainV0)+1+len(gameID)+1+sha256.Size)
	out = append(out, []byte(settleDomainV0)...)
	out = append(out, 0)
	out = append(out, []byte(gameID)...)
	out = append(out, 0)
	out = append(out, sum[:]...)
	return out
}
