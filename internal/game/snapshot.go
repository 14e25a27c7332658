package game

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/lox/holdemtable/poker"
)

// Snapshot is an immutable, serialisable copy of a table's full state,
// including hidden cards. It is sufficient to rebuild the table with
// RestoreTable.
type Snapshot struct {
	TableID     string        `json:"tableId"`
	Config      TableConfig   `json:"config"`
	Seq         uint64        `json:"seq"`
	Phase       Phase         `json:"phase"`
	Seats       []Seat        `json:"seats"`
	Button      int           `json:"button"`
	LastSB      int           `json:"lastSmallBlind"`
	LastBB      int           `json:"lastBigBlind"`
	HandCount   int           `json:"handCount"`
	Schedule    ScheduleState `json:"schedule"`
	Blinds      BlindSummary  `json:"blinds"`
	Hand        *Hand         `json:"hand,omitempty"`
	Observers   []string      `json:"observers,omitempty"`
	BoughtIn    int           `json:"boughtIn"`
	CashedOut   int           `json:"cashedOut"`
	Unavailable string        `json:"unavailable,omitempty"`
	Injected    []poker.Card  `json:"injected,omitempty"`
	TakenAt     time.Time     `json:"takenAt"`
}

// Snapshot captures the table's current state.
func (t *Table) Snapshot() *Snapshot {
	s := &Snapshot{
		TableID:     t.id,
		Config:      t.cfg,
		Phase:       t.Phase(),
		Seats:       make([]Seat, len(t.seats)),
		Button:      t.button,
		LastSB:      t.lastSB,
		LastBB:      t.lastBB,
		HandCount:   t.handCount,
		Schedule:    t.schedule.State(),
		Blinds:      t.schedule.Summary(),
		Hand:        t.hand.clone(),
		Observers:   slices.Sorted(maps.Keys(t.observers)),
		BoughtIn:    t.boughtIn,
		CashedOut:   t.cashedOut,
		Unavailable: t.unavailable,
		TakenAt:     t.clock.Now(),
	}
	for i, seat := range t.seats {
		s.Seats[i] = *seat
	}
	if t.injected != nil {
		s.Injected = t.injected.Remaining()
	}
	return s
}

// RestoreTable rebuilds a table from a snapshot. Any inconsistency is reported
// as ErrCorruptSnapshot and no table is returned.
func RestoreTable(s *Snapshot, opts ...Option) (*Table, error) {
	t, err := restoreTable(s, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: table %s: %w", ErrCorruptSnapshot, s.TableID, err)
	}
	return t, nil
}

func restoreTable(s *Snapshot, opts []Option) (*Table, error) {
	if err := s.Config.Validate(); err != nil {
		return nil, err
	}
	if len(s.Seats) != s.Config.Seats {
		return nil, fmt.Errorf("%d seats for a %d-seat table", len(s.Seats), s.Config.Seats)
	}

	t := &Table{
		id:          s.TableID,
		cfg:         s.Config,
		seats:       make([]*Seat, len(s.Seats)),
		button:      s.Button,
		lastSB:      s.LastSB,
		lastBB:      s.LastBB,
		handCount:   s.HandCount,
		observers:   make(map[string]bool),
		boughtIn:    s.BoughtIn,
		cashedOut:   s.CashedOut,
		unavailable: s.Unavailable,
		settled:     true,
	}
	t.applyOptions(opts)

	players := make(map[string]bool)
	for i, seat := range s.Seats {
		if seat.Index != i || seat.State > SeatOccupied || seat.Stack < 0 {
			return nil, fmt.Errorf("seat %d is malformed", i)
		}
		if seat.State == SeatOccupied {
			if seat.PlayerID == "" || players[seat.PlayerID] {
				return nil, fmt.Errorf("seat %d has a missing or duplicate player", i)
			}
			players[seat.PlayerID] = true
		}
		t.seats[i] = &seat
	}
	for _, id := range s.Observers {
		t.observers[id] = true
	}

	schedule, err := RestoreSchedule(s.Schedule, t.clock)
	if err != nil {
		return nil, err
	}
	t.schedule = schedule

	if len(s.Injected) > 0 {
		if t.injected, err = poker.NewDeckWithOrder(s.Injected, t.rng); err != nil {
			return nil, err
		}
	}

	if s.Hand != nil {
		h, err := t.restoreHand(s.Hand)
		if err != nil {
			return nil, fmt.Errorf("hand %d: %w", s.Hand.Number, err)
		}
		t.hand = h
	}
	if err := t.CheckConservation(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) restoreHand(src *Hand) (*Hand, error) {
	h := src.clone()
	h.Deck = nil
	h.now = func() time.Time { return t.clock.Now() }

	if h.Phase == PhaseHandComplete {
		for _, p := range h.Players {
			p.seat = &Seat{Index: p.Seat, PlayerID: p.PlayerID}
		}
		return h, nil
	}
	if !h.Phase.IsBetting() {
		return nil, fmt.Errorf("cannot resume a hand in phase %s", h.Phase)
	}
	if h.Round == nil {
		return nil, fmt.Errorf("betting phase %s without a round", h.Phase)
	}
	if len(h.Board) != h.Phase.BoardSize() {
		return nil, fmt.Errorf("%d board cards on the %s", len(h.Board), h.Phase)
	}

	var used poker.Hand
	add := func(c poker.Card) error {
		if !c.Valid() || used.HasCard(c) {
			return fmt.Errorf("card %s is invalid or duplicated", c)
		}
		used.AddCard(c)
		return nil
	}
	for i, p := range h.Players {
		if i > 0 && p.Seat <= h.Players[i-1].Seat {
			return nil, fmt.Errorf("players out of seat order")
		}
		if p.Seat < 0 || p.Seat >= len(t.seats) || len(p.Hole) != 2 {
			return nil, fmt.Errorf("participant at seat %d is malformed", p.Seat)
		}
		seat := t.seats[p.Seat]
		switch {
		case seat.occupied() && seat.PlayerID == p.PlayerID:
			p.seat = seat
		case p.Folded:
			// Left the table after folding.
			p.seat = &Seat{Index: p.Seat, PlayerID: p.PlayerID}
		default:
			return nil, fmt.Errorf("live participant %s is not seated at %d", p.PlayerID, p.Seat)
		}
		for _, c := range p.Hole {
			if err := add(c); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range h.Board {
		if err := add(c); err != nil {
			return nil, err
		}
	}
	for _, c := range src.Deck {
		if err := add(c); err != nil {
			return nil, err
		}
	}
	burned := 0
	if h.Phase != PhasePreflop {
		burned = int(h.Phase - PhasePreflop)
	}
	if used.CountCards()+burned != 52 {
		return nil, fmt.Errorf("%d cards accounted for, want 52", used.CountCards()+burned)
	}

	deck, err := poker.RestoreDeck(src.Deck, t.rng)
	if err != nil {
		return nil, err
	}
	h.deck = deck

	if p := h.player(h.Actor); p == nil || !p.canAct() {
		return nil, fmt.Errorf("actor seat %d cannot act", h.Actor)
	}
	return h, nil
}

// SeatView is the public state of a seat.
type SeatView struct {
	Index           int       `json:"index"`
	State           SeatState `json:"state"`
	PlayerID        string    `json:"playerId,omitempty"`
	Stack           int       `json:"stack"`
	SittingOut      bool      `json:"sittingOut,omitempty"`
	PostedDeadBlind bool      `json:"postedDeadBlind,omitempty"`
}

// PlayerView is one participant of a hand as seen by a viewer.
type PlayerView struct {
	Seat     int          `json:"seat"`
	PlayerID string       `json:"playerId"`
	Hole     []poker.Card `json:"hole,omitempty"`
	Bet      int          `json:"bet"`
	Total    int          `json:"total"`
	Folded   bool         `json:"folded,omitempty"`
	AllIn    bool         `json:"allIn,omitempty"`
}

// HandView is a hand as seen by a viewer.
type HandView struct {
	ID        string         `json:"id"`
	Number    int            `json:"number"`
	Phase     Phase          `json:"phase"`
	Button    int            `json:"button"`
	Board     []poker.Card   `json:"board"`
	Players   []PlayerView   `json:"players"`
	Actor     int            `json:"actor"`
	ActorID   string         `json:"actorId,omitempty"`
	BetToCall int            `json:"betToCall"`
	MinRaise  int            `json:"minRaise"`
	Pots      []Pot          `json:"pots,omitempty"`
	PotTotal  int            `json:"potTotal"`
	History   []ActionRecord `json:"history"`
	Results   []PotResult    `json:"results,omitempty"`
	Shown     []ShownHand    `json:"shown,omitempty"`
}

// TableView is the full state a viewer is allowed to see. Hole cards are
// visible only to their owner or once shown, and ValidActions is filled only
// for the player whose turn it is.
type TableView struct {
	TableID      string        `json:"tableId"`
	Name         string        `json:"name"`
	Seq          uint64        `json:"seq"`
	Phase        Phase         `json:"phase"`
	Button       int           `json:"button"`
	Seats        []SeatView    `json:"seats"`
	Blinds       BlindSummary  `json:"blinds"`
	Hand         *HandView     `json:"hand,omitempty"`
	ValidActions []ValidAction `json:"validActions,omitempty"`
	Unavailable  string        `json:"unavailable,omitempty"`
}

// View renders the snapshot for viewer. An empty viewer sees only public state.
func (s *Snapshot) View(viewer string) *TableView {
	v := &TableView{
		TableID:     s.TableID,
		Name:        s.Config.Name,
		Seq:         s.Seq,
		Phase:       s.Phase,
		Button:      s.Button,
		Seats:       make([]SeatView, len(s.Seats)),
		Blinds:      s.Blinds,
		Unavailable: s.Unavailable,
	}
	for i, seat := range s.Seats {
		v.Seats[i] = SeatView{
			Index:           seat.Index,
			State:           seat.State,
			PlayerID:        seat.PlayerID,
			Stack:           seat.Stack,
			SittingOut:      seat.SittingOut,
			PostedDeadBlind: seat.PostedDeadBlind,
		}
	}
	if s.Hand == nil {
		return v
	}

	h := s.Hand
	hv := &HandView{
		ID:       h.ID,
		Number:   h.Number,
		Phase:    h.Phase,
		Button:   h.Button,
		Board:    h.Board,
		Actor:    h.Actor,
		Pots:     h.Pots(),
		PotTotal: h.PotTotal(),
		History:  h.History,
		Results:  h.Results,
		Shown:    h.Shown,
	}
	if h.Round != nil && h.Live() {
		hv.BetToCall = h.Round.BetToCall
		hv.MinRaise = max(h.Round.MinRaise, h.Level.BigBlind)
	}
	shown := make(map[int]bool, len(h.Shown))
	for _, sh := range h.Shown {
		shown[sh.Seat] = true
	}
	for _, p := range h.Players {
		pv := PlayerView{
			Seat:     p.Seat,
			PlayerID: p.PlayerID,
			Bet:      p.Bet,
			Total:    p.Total,
			Folded:   p.Folded,
			AllIn:    p.AllIn,
		}
		if viewer != "" && p.PlayerID == viewer || shown[p.Seat] {
			pv.Hole = p.Hole
		}
		hv.Players = append(hv.Players, pv)
	}
	if id, ok := h.ActorID(); ok {
		hv.ActorID = id
		if id == viewer {
			v.ValidActions = s.validActions()
		}
	}
	v.Hand = hv
	return v
}

// validActions recomputes the actor's options from the snapshot's copy of the
// hand, which carries no stack pointers.
func (s *Snapshot) validActions() []ValidAction {
	h := *s.Hand
	h.Players = make([]*HandSeat, len(s.Hand.Players))
	for i, p := range s.Hand.Players {
		cp := *p
		if p.Seat >= 0 && p.Seat < len(s.Seats) {
			seat := s.Seats[p.Seat]
			cp.seat = &seat
		} else {
			cp.seat = &Seat{}
		}
		h.Players[i] = &cp
	}
	return h.ValidActions()
}
