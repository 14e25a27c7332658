package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
)

// ScheduleMode selects how blind levels progress.
type ScheduleMode uint8

const (
	// CashGame blinds never change on their own.
	CashGame ScheduleMode = iota
	// Tournament blinds step through levels as each level's duration elapses.
	Tournament
)

func (m ScheduleMode) String() string {
	if m == Tournament {
		return "tournament"
	}
	return "cash"
}

func (m ScheduleMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ScheduleMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "cash", "":
		*m = CashGame
	case "tournament":
		*m = Tournament
	default:
		return fmt.Errorf("unknown schedule mode %q", text)
	}
	return nil
}

// ParseScheduleMode parses "cash" or "tournament".
func ParseScheduleMode(s string) (ScheduleMode, error) {
	var m ScheduleMode
	err := m.UnmarshalText([]byte(s))
	return m, err
}

// BlindLevel is one step of a blind schedule. Duration is zero in cash games.
type BlindLevel struct {
	Level      int           `json:"level"`
	SmallBlind int           `json:"smallBlind"`
	BigBlind   int           `json:"bigBlind"`
	Ante       int           `json:"ante"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// BlindOwed is which blind a dead-blind obligation covers.
type BlindOwed uint8

const (
	OweSmall BlindOwed = iota + 1
	OweBig
	OweBoth
)

func (o BlindOwed) String() string {
	switch o {
	case OweSmall:
		return "small"
	case OweBig:
		return "big"
	case OweBoth:
		return "both"
	}
	return "none"
}

func (o BlindOwed) small() bool { return o == OweSmall || o == OweBoth }
func (o BlindOwed) big() bool   { return o == OweBig || o == OweBoth }

// ObligationReason is why a dead blind is owed.
type ObligationReason uint8

const (
	ReasonSeatChange ObligationReason = iota + 1
	ReasonLateEntry
	ReasonMissedBlind
)

func (r ObligationReason) String() string {
	switch r {
	case ReasonSeatChange:
		return "seat_change"
	case ReasonLateEntry:
		return "late_entry"
	case ReasonMissedBlind:
		return "missed_blind"
	}
	return "unknown"
}

// DeadBlindObligation is a blind a player must post outside the normal rotation.
type DeadBlindObligation struct {
	ID         int              `json:"id"`
	PlayerID   string           `json:"playerId"`
	Owed       BlindOwed        `json:"owed"`
	Reason     ObligationReason `json:"reason"`
	Satisfied  bool             `json:"satisfied"`
	IncurredAt time.Time        `json:"incurredAt"`
}

// BlindSummary is the read-only report of a schedule's state.
type BlindSummary struct {
	Mode              string        `json:"mode"`
	Level             int           `json:"level"`
	SmallBlind        int           `json:"smallBlind"`
	BigBlind          int           `json:"bigBlind"`
	Ante              int           `json:"ante"`
	TimeRemaining     time.Duration `json:"timeRemaining"`
	Next              *BlindLevel   `json:"next,omitempty"`
	HandsAtLevel      int           `json:"handsAtLevel"`
	PendingDeadBlinds int           `json:"pendingDeadBlinds"`
}

// ScheduleState is the serialisable form of a BlindSchedule.
type ScheduleState struct {
	Mode             ScheduleMode           `json:"mode"`
	Levels           []BlindLevel           `json:"levels"`
	Current          int                    `json:"current"`
	Elapsed          time.Duration          `json:"elapsed"`
	HandsAtLevel     int                    `json:"handsAtLevel"`
	Obligations      []*DeadBlindObligation `json:"obligations,omitempty"`
	NextObligationID int                    `json:"nextObligationId"`
}

// BlindSchedule tracks the active blind level and outstanding dead blinds.
//
// Level changes never touch a hand in progress: a Hand copies the level it
// starts with. In tournament mode the owner arms a timer with ArmTimer and
// feeds expiries back through Expire from the table's serialized goroutine.
type BlindSchedule struct {
	mode         ScheduleMode
	levels       []BlindLevel
	current      int
	levelStarted time.Time
	handsAtLevel int
	obligations  []*DeadBlindObligation
	nextID       int
	clock        quartz.Clock

	timer    *quartz.Timer
	timerGen uint64
}

var errNoLevels = errors.New("blind schedule needs at least one level")

// NewCashSchedule returns a fixed-level schedule.
func NewCashSchedule(level BlindLevel, clock quartz.Clock) *BlindSchedule {
	level.Level = 1
	level.Duration = 0
	return &BlindSchedule{
		mode:         CashGame,
		levels:       []BlindLevel{level},
		levelStarted: clock.Now(),
		clock:        clock,
	}
}

// NewTournamentSchedule returns a schedule that advances through levels.
// The last level never expires.
func NewTournamentSchedule(levels []BlindLevel, clock quartz.Clock) (*BlindSchedule, error) {
	if len(levels) == 0 {
		return nil, errNoLevels
	}
	ls := make([]BlindLevel, len(levels))
	for i, l := range levels {
		if err := validateLevel(l); err != nil {
			return nil, fmt.Errorf("level %d: %w", i+1, err)
		}
		if l.Duration <= 0 && i < len(levels)-1 {
			return nil, fmt.Errorf("level %d: tournament levels need a duration", i+1)
		}
		l.Level = i + 1
		ls[i] = l
	}
	return &BlindSchedule{
		mode:         Tournament,
		levels:       ls,
		levelStarted: clock.Now(),
		clock:        clock,
	}, nil
}

func validateLevel(l BlindLevel) error {
	if l.SmallBlind <= 0 || l.BigBlind < l.SmallBlind || l.Ante < 0 {
		return fmt.Errorf("invalid blinds %d/%d ante %d", l.SmallBlind, l.BigBlind, l.Ante)
	}
	return nil
}

// RestoreSchedule rebuilds a schedule from its saved state. Elapsed time on the
// current level carries over.
func RestoreSchedule(st ScheduleState, clock quartz.Clock) (*BlindSchedule, error) {
	if len(st.Levels) == 0 {
		return nil, errNoLevels
	}
	if st.Current < 0 || st.Current >= len(st.Levels) {
		return nil, fmt.Errorf("current level %d out of range", st.Current)
	}
	return &BlindSchedule{
		mode:         st.Mode,
		levels:       append([]BlindLevel(nil), st.Levels...),
		current:      st.Current,
		levelStarted: clock.Now().Add(-st.Elapsed),
		handsAtLevel: st.HandsAtLevel,
		obligations:  cloneObligations(st.Obligations),
		nextID:       st.NextObligationID,
		clock:        clock,
	}, nil
}

// Mode returns the schedule mode.
func (s *BlindSchedule) Mode() ScheduleMode { return s.mode }

// Current returns the active level.
func (s *BlindSchedule) Current() BlindLevel {
	return s.levels[s.current]
}

// TimeRemaining is how long until the current level expires. It is zero in
// cash games and on the final level.
func (s *BlindSchedule) TimeRemaining() time.Duration {
	if !s.expires() {
		return 0
	}
	left := s.levels[s.current].Duration - s.clock.Since(s.levelStarted)
	return max(left, 0)
}

func (s *BlindSchedule) expires() bool {
	return s.mode == Tournament && s.current < len(s.levels)-1
}

// Advance moves to the next level, if any, and restarts the level clock.
func (s *BlindSchedule) Advance() (BlindLevel, bool) {
	if s.current >= len(s.levels)-1 {
		return s.Current(), false
	}
	s.current++
	s.levelStarted = s.clock.Now()
	s.handsAtLevel = 0
	return s.Current(), true
}

// SetLevel jumps directly to level n (1-based).
func (s *BlindSchedule) SetLevel(n int) error {
	if n < 1 || n > len(s.levels) {
		return fmt.Errorf("%w: level %d out of range 1-%d", ErrInvalidAction, n, len(s.levels))
	}
	s.current = n - 1
	s.levelStarted = s.clock.Now()
	s.handsAtLevel = 0
	return nil
}

// HandStarted counts a hand against the current level.
func (s *BlindSchedule) HandStarted() {
	s.handsAtLevel++
}

// ArmTimer (re)starts the level-expiry timer. fire runs on the clock's
// goroutine with the generation it was armed for; pass that back to Expire.
// Arming again or calling StopTimer makes earlier generations stale.
func (s *BlindSchedule) ArmTimer(fire func(gen uint64)) {
	s.StopTimer()
	if !s.expires() {
		return
	}
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(s.TimeRemaining(), func() { fire(gen) }, "blinds")
}

// StopTimer cancels any pending level-expiry timer.
func (s *BlindSchedule) StopTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Expire advances the level if gen is the current timer generation. Stale
// firings are ignored.
func (s *BlindSchedule) Expire(gen uint64) (BlindLevel, bool) {
	if gen != s.timerGen || !s.expires() {
		return s.Current(), false
	}
	s.timer = nil
	return s.Advance()
}

// AddObligation records a dead blind owed by playerID. Missed-blind
// obligations are not stacked: a player owes at most one unsatisfied missed
// small blind and one missed big blind.
func (s *BlindSchedule) AddObligation(playerID string, owed BlindOwed, reason ObligationReason) *DeadBlindObligation {
	if reason == ReasonMissedBlind {
		for _, o := range s.obligations {
			if o.PlayerID == playerID && !o.Satisfied && o.Reason == ReasonMissedBlind && o.Owed == owed {
				return o
			}
		}
	}
	s.nextID++
	o := &DeadBlindObligation{
		ID:         s.nextID,
		PlayerID:   playerID,
		Owed:       owed,
		Reason:     reason,
		IncurredAt: s.clock.Now(),
	}
	s.obligations = append(s.obligations, o)
	return o
}

// Pending returns playerID's unsatisfied obligations in the order incurred.
func (s *BlindSchedule) Pending(playerID string) []*DeadBlindObligation {
	var out []*DeadBlindObligation
	for _, o := range s.obligations {
		if o.PlayerID == playerID && !o.Satisfied {
			out = append(out, o)
		}
	}
	return out
}

// PendingCount is the number of unsatisfied obligations across all players.
func (s *BlindSchedule) PendingCount() int {
	n := 0
	for _, o := range s.obligations {
		if !o.Satisfied {
			n++
		}
	}
	return n
}

// Satisfy marks o as resolved and drops resolved obligations from the ledger.
func (s *BlindSchedule) Satisfy(o *DeadBlindObligation) {
	o.Satisfied = true
	s.compact()
}

// Cancel drops every obligation owed by playerID.
func (s *BlindSchedule) Cancel(playerID string) {
	for _, o := range s.obligations {
		if o.PlayerID == playerID {
			o.Satisfied = true
		}
	}
	s.compact()
}

func (s *BlindSchedule) compact() {
	kept := s.obligations[:0]
	for _, o := range s.obligations {
		if !o.Satisfied {
			kept = append(kept, o)
		}
	}
	clear(s.obligations[len(kept):])
	s.obligations = kept
}

// Summary reports the schedule for display and monitoring.
func (s *BlindSchedule) Summary() BlindSummary {
	cur := s.Current()
	sum := BlindSummary{
		Mode:              s.mode.String(),
		Level:             cur.Level,
		SmallBlind:        cur.SmallBlind,
		BigBlind:          cur.BigBlind,
		Ante:              cur.Ante,
		TimeRemaining:     s.TimeRemaining(),
		HandsAtLevel:      s.handsAtLevel,
		PendingDeadBlinds: s.PendingCount(),
	}
	if s.current+1 < len(s.levels) {
		next := s.levels[s.current+1]
		sum.Next = &next
	}
	return sum
}

// State captures the schedule for persistence.
func (s *BlindSchedule) State() ScheduleState {
	return ScheduleState{
		Mode:             s.mode,
		Levels:           append([]BlindLevel(nil), s.levels...),
		Current:          s.current,
		Elapsed:          s.clock.Since(s.levelStarted),
		HandsAtLevel:     s.handsAtLevel,
		Obligations:      cloneObligations(s.obligations),
		NextObligationID: s.nextID,
	}
}

func cloneObligations(in []*DeadBlindObligation) []*DeadBlindObligation {
	if len(in) == 0 {
		return nil
	}
	out := make([]*DeadBlindObligation, len(in))
	for i, o := range in {
		c := *o
		out[i] = &c
	}
	return out
}
