package game

import (
	"fmt"
	"time"
)

// SeatState is the occupancy of a seat.
type SeatState uint8

const (
	SeatEmpty SeatState = iota
	SeatReserved
	SeatOccupied
)

var seatStateNames = [...]string{"empty", "reserved", "occupied"}

func (s SeatState) String() string {
	if int(s) < len(seatStateNames) {
		return seatStateNames[s]
	}
	return fmt.Sprintf("SeatState(%d)", s)
}

func (s SeatState) MarshalText() ([]byte, error) {
	if int(s) >= len(seatStateNames) {
		return nil, fmt.Errorf("invalid seat state %d", s)
	}
	return []byte(seatStateNames[s]), nil
}

func (s *SeatState) UnmarshalText(text []byte) error {
	for i, name := range seatStateNames {
		if name == string(text) {
			*s = SeatState(i)
			return nil
		}
	}
	return fmt.Errorf("invalid seat state %q", text)
}

// Seat is one position at the table.
type Seat struct {
	Index    int       `json:"index"`
	State    SeatState `json:"state"`
	PlayerID string    `json:"playerId,omitempty"`
	Stack    int       `json:"stack"`
	// SittingOut seats keep their chips but are not dealt in.
	SittingOut      bool `json:"sittingOut,omitempty"`
	PostedDeadBlind bool `json:"postedDeadBlind,omitempty"`
	// PendingLeave marks an all-in player who left mid-hand; the seat is
	// vacated when the hand completes.
	PendingLeave  bool      `json:"pendingLeave,omitempty"`
	ReservedUntil time.Time `json:"reservedUntil,omitzero"`
}

func (s *Seat) occupied() bool { return s.State == SeatOccupied }

// reservedFor reports whether the seat is held for someone other than playerID at now.
func (s *Seat) reservedFor(playerID string, now time.Time) bool {
	return s.State == SeatReserved && s.PlayerID != playerID && now.Before(s.ReservedUntil)
}

// available reports whether playerID may sit here.
func (s *Seat) available(playerID string, now time.Time) bool {
	switch s.State {
	case SeatEmpty:
		return true
	case SeatReserved:
		return !s.reservedFor(playerID, now)
	}
	return false
}

// dealable reports whether the seat is dealt into the next hand.
func (s *Seat) dealable() bool {
	return s.occupied() && !s.SittingOut && !s.PendingLeave && s.Stack > 0
}

// between reports whether x lies strictly after from and strictly before to,
// walking clockwise around n seats.
func between(from, to, x, n int) bool {
	if from == to || x == from || x == to {
		return false
	}
	d := func(a int) int { return ((a-from)%n + n) % n }
	return d(x) < d(to)
}
