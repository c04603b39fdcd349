package mental

import "errors"

var (
	ErrWrongState         = errors.New("mental: operation not valid in current state")
	ErrPlayerIndex        = errors.New("mental: player index out of range")
	ErrNoSession          = errors.New("mental: no session established")
	ErrSessionFixed       = errors.New("mental: session already established")
	ErrNoCommitment       = errors.New("mental: no commitment recorded for player")
	ErrCommitmentMismatch = errors.New("mental: public key does not match commitment")
	ErrDuplicate          = errors.New("mental: already recorded")
	ErrCardIndex          = errors.New("mental: card index out of range")
	ErrDeckSize           = errors.New("mental: deck must hold exactly 52 cards")
	ErrProvenance         = errors.New("mental: encryption provenance mismatch")
	ErrNotInProvenance    = errors.New("mental: player holds no layer on this card")
	ErrRevealIncomplete   = errors.New("mental: decryption layers still outstanding")
	ErrBadPartial         = errors.New("mental: invalid partial decryption")
	ErrDeckExhausted      = errors.New("mental: no deck positions left")
)
