package game

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a Table operation wraps exactly one of
// these, so callers can classify failures with errors.Is.
var (
	ErrInvalidAction     = errors.New("invalid action")
	ErrInsufficientChips = errors.New("insufficient chips")
	ErrSeatConflict      = errors.New("seat conflict")
	ErrTableUnavailable  = errors.New("table unavailable")
)

var (
	ErrNotYourTurn       = fmt.Errorf("%w: not your turn", ErrInvalidAction)
	ErrWrongPhase        = fmt.Errorf("%w: wrong phase", ErrInvalidAction)
	ErrIllegalAmount     = fmt.Errorf("%w: illegal amount", ErrInvalidAction)
	ErrInvalidSeat       = fmt.Errorf("%w: no such seat", ErrInvalidAction)
	ErrInvalidBuyIn      = fmt.Errorf("%w: buy-in outside table limits", ErrInvalidAction)
	ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrInvalidAction)
	ErrNotSeated         = fmt.Errorf("%w: player is not seated", ErrInvalidAction)
	ErrNotEnoughPlayers  = fmt.Errorf("%w: at least two active seats are required", ErrInvalidAction)

	ErrSeatTaken     = fmt.Errorf("%w: seat is taken", ErrSeatConflict)
	ErrAlreadySeated = fmt.Errorf("%w: player already holds a seat", ErrSeatConflict)

	// ErrCorruptSnapshot is returned by RestoreTable when a snapshot fails validation.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)
