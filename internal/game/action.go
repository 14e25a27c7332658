package game

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind is a player decision or a forced post recorded in the action history.
type ActionKind uint8

const (
	Fold ActionKind = iota
	Check
	Call
	Bet
	Raise
	AllIn

	PostAnte
	PostSmallBlind
	PostBigBlind
	PostDeadBlind
)

var actionNames = [...]string{
	Fold:           "fold",
	Check:          "check",
	Call:           "call",
	Bet:            "bet",
	Raise:          "raise",
	AllIn:          "allin",
	PostAnte:       "post_ante",
	PostSmallBlind: "post_small_blind",
	PostBigBlind:   "post_big_blind",
	PostDeadBlind:  "post_dead_blind",
}

func (a ActionKind) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", a)
}

// IsDecision reports whether a player may submit a as a turn.
func (a ActionKind) IsDecision() bool {
	return a <= AllIn
}

func (a ActionKind) MarshalText() ([]byte, error) {
	if int(a) >= len(actionNames) {
		return nil, fmt.Errorf("invalid action kind %d", a)
	}
	return []byte(a.String()), nil
}

func (a *ActionKind) UnmarshalText(text []byte) error {
	for i, name := range actionNames {
		if name == string(text) {
			*a = ActionKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown action kind %q", text)
}

// ParseAction converts client input into a decision. It accepts the common
// spellings "all-in" and "all_in" for AllIn.
func ParseAction(s string) (ActionKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "all-in", "all_in":
		return AllIn, nil
	}
	var a ActionKind
	if err := a.UnmarshalText([]byte(s)); err != nil || !a.IsDecision() {
		return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, s)
	}
	return a, nil
}

// ActionRecord is one entry of a hand's append-only action history.
type ActionRecord struct {
	Seq      int        `json:"seq"`
	Street   Phase      `json:"street"`
	Seat     int        `json:"seat"`
	PlayerID string     `json:"playerId"`
	Kind     ActionKind `json:"kind"`
	// Amount is the chips moved from the stack into the pot by this entry.
	Amount int `json:"amount"`
	// BetTo is the seat's street contribution after the entry.
	BetTo    int       `json:"betTo"`
	PotAfter int       `json:"potAfter"`
	Forced   bool      `json:"forced,omitempty"`
	At       time.Time `json:"at"`
}

// ValidAction describes one legal decision for the current actor. For Bet and
// Raise, Min and Max bound the "raise to" amount; for Call and AllIn they are
// the chips that would be committed.
type ValidAction struct {
	Kind ActionKind `json:"kind"`
	Min  int        `json:"min,omitempty"`
	Max  int        `json:"max,omitempty"`
}
