package game

import "errors"

var (
	ErrWrongPhase       = errors.New("game: operation not valid in current phase")
	ErrTableFull        = errors.New("game: table is full")
	ErrDuplicatePlayer  = errors.New("game: player already seated")
	ErrUnknownPlayer    = errors.New("game: no such player")
	ErrBuyInBounds      = errors.New("game: buy-in outside configured bounds")
	ErrNotEnoughPlayers = errors.New("game: not enough players with chips")
	ErrNotYourTurn      = errors.New("game: not this player's turn")
	ErrNotActive        = errors.New("game: player cannot act")
	ErrIllegalAction    = errors.New("game: action not legal now")
	ErrBadAmount        = errors.New("game: illegal amount")
	ErrAwaitingCards    = errors.New("game: waiting for cards to be dealt")
	ErrHolesUnknown     = errors.New("game: hole cards not known for showdown")
	ErrEscrowNotFunded  = errors.New("game: escrow not fully funded")
	ErrBadDiscard       = errors.New("game: illegal discard")
	ErrNoHand           = errors.New("game: no hand in progress")
)
