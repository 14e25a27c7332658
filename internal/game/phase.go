package game

import "fmt"

// Phase is the position of a table in the hand lifecycle.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseDealing
	PhasePreflop
	PhaseFlop
	PhaseTurn
	PhaseRiver
	PhaseShowdown
	PhaseHandComplete
)

var phaseNames = [...]string{
	PhaseIdle:         "idle",
	PhaseDealing:      "dealing",
	PhasePreflop:      "preflop",
	PhaseFlop:         "flop",
	PhaseTurn:         "turn",
	PhaseRiver:        "river",
	PhaseShowdown:     "showdown",
	PhaseHandComplete: "hand_complete",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", p)
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return int(p) < len(phaseNames)
}

// IsBetting reports whether p is one of the four betting streets.
func (p Phase) IsBetting() bool {
	return p >= PhasePreflop && p <= PhaseRiver
}

// BoardSize is the number of community cards dealt by the time p is reached.
func (p Phase) BoardSize() int {
	switch p {
	case PhaseFlop:
		return 3
	case PhaseTurn:
		return 4
	case PhaseRiver, PhaseShowdown:
		return 5
	default:
		return 0
	}
}

// Next returns the phase that follows p in an uninterrupted hand.
func (p Phase) Next() Phase {
	if p == PhaseHandComplete {
		return PhaseIdle
	}
	return p + 1
}

// Transition validates moving from p to next. Besides the linear order a
// betting street may jump straight to HandComplete when all but one player
// has folded.
func (p Phase) Transition(next Phase) (Phase, error) {
	if !p.Valid() || !next.Valid() {
		return p, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p, next)
	}
	if next == p.Next() || (p.IsBetting() && next == PhaseHandComplete) {
		return next, nil
	}
	return p, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p, next)
}

func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid phase %d", p)
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}
