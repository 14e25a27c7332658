package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/lox/holdemtable/internal/randutil"
	"github.com/lox/holdemtable/poker"
)

// MaxSeats is the largest table the engine deals for.
const MaxSeats = 10

// TableConfig is the fixed configuration of a table.
type TableConfig struct {
	Name     string `json:"name"`
	Seats    int    `json:"seats"`
	MinBuyIn int    `json:"minBuyIn"`
	MaxBuyIn int    `json:"maxBuyIn"`
}

// Validate checks the configuration.
func (c TableConfig) Validate() error {
	if c.Seats < 2 || c.Seats > MaxSeats {
		return fmt.Errorf("seats must be between 2 and %d, got %d", MaxSeats, c.Seats)
	}
	if c.MinBuyIn <= 0 || c.MaxBuyIn < c.MinBuyIn {
		return fmt.Errorf("invalid buy-in range %d-%d", c.MinBuyIn, c.MaxBuyIn)
	}
	return nil
}

// Option configures a Table.
type Option func(*Table)

// WithRNG sets the shuffle source for every deck the table creates.
func WithRNG(rng *rand.Rand) Option {
	return func(t *Table) { t.rng = rng }
}

// WithClock sets the clock used for timestamps and reservations.
func WithClock(clock quartz.Clock) Option {
	return func(t *Table) { t.clock = clock }
}

// Table owns the seats, stacks and blind schedule of one table and drives at
// most one hand at a time. It is not safe for concurrent use.
type Table struct {
	id       string
	cfg      TableConfig
	seats    []*Seat
	schedule *BlindSchedule

	button    int
	lastSB    int
	lastBB    int
	handCount int

	hand      *Hand
	settled   bool
	completed []*Hand

	observers map[string]bool
	boughtIn  int
	cashedOut int

	unavailable string
	injected    *poker.Deck

	rng   *rand.Rand
	clock quartz.Clock
}

// NewTable creates an empty table.
func NewTable(id string, cfg TableConfig, schedule *BlindSchedule, opts ...Option) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("table %s has no blind schedule", id)
	}
	t := &Table{
		id:        id,
		cfg:       cfg,
		seats:     make([]*Seat, cfg.Seats),
		schedule:  schedule,
		button:    -1,
		lastSB:    -1,
		lastBB:    -1,
		observers: make(map[string]bool),
	}
	for i := range t.seats {
		t.seats[i] = &Seat{Index: i}
	}
	t.applyOptions(opts)
	return t, nil
}

func (t *Table) applyOptions(opts []Option) {
	for _, opt := range opts {
		opt(t)
	}
	if t.clock == nil {
		t.clock = quartz.NewReal()
	}
	if t.rng == nil {
		t.rng = randutil.NewSecure()
	}
}

func (t *Table) ID() string               { return t.id }
func (t *Table) Config() TableConfig      { return t.cfg }
func (t *Table) Schedule() *BlindSchedule { return t.schedule }
func (t *Table) HandCount() int           { return t.handCount }

// Phase is the phase of the hand in progress, or PhaseIdle.
func (t *Table) Phase() Phase {
	if t.hand.Live() {
		return t.hand.Phase
	}
	return PhaseIdle
}

// Seat returns a copy of seat i.
func (t *Table) Seat(i int) (Seat, bool) {
	if i < 0 || i >= len(t.seats) {
		return Seat{}, false
	}
	return *t.seats[i], true
}

// SeatOf returns the seat index occupied by playerID.
func (t *Table) SeatOf(playerID string) (int, bool) {
	s := t.seatOf(playerID)
	if s == nil {
		return -1, false
	}
	return s.Index, true
}

func (t *Table) seatOf(playerID string) *Seat {
	for _, s := range t.seats {
		if s.occupied() && s.PlayerID == playerID {
			return s
		}
	}
	return nil
}

func (t *Table) seatAt(i int) (*Seat, error) {
	if i < 0 || i >= len(t.seats) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeat, i)
	}
	return t.seats[i], nil
}

func (t *Table) checkAvailable() error {
	if t.unavailable != "" {
		return fmt.Errorf("%w: %s", ErrTableUnavailable, t.unavailable)
	}
	return nil
}

// MarkUnavailable stops the table from starting new hands.
func (t *Table) MarkUnavailable(reason string) {
	if t.unavailable == "" {
		t.unavailable = reason
	}
}

// Unavailable returns the reason the table was taken out of play.
func (t *Table) Unavailable() (string, bool) {
	return t.unavailable, t.unavailable != ""
}

// Join registers playerID as an observer.
func (t *Table) Join(playerID string) {
	t.observers[playerID] = true
}

// ReserveSeat holds seat for playerID until ttl elapses.
func (t *Table) ReserveSeat(playerID string, seat int, ttl time.Duration) error {
	if err := t.checkAvailable(); err != nil {
		return err
	}
	s, err := t.seatAt(seat)
	if err != nil {
		return err
	}
	if t.seatOf(playerID) != nil {
		return ErrAlreadySeated
	}
	now := t.clock.Now()
	if !s.available(playerID, now) {
		return fmt.Errorf("%w: seat %d", ErrSeatTaken, seat)
	}
	t.releaseReservations(playerID)
	*s = Seat{Index: seat, State: SeatReserved, PlayerID: playerID, ReservedUntil: now.Add(ttl)}
	return nil
}

func (t *Table) releaseReservations(playerID string) {
	for i, s := range t.seats {
		if s.State == SeatReserved && s.PlayerID == playerID {
			t.seats[i] = &Seat{Index: i}
		}
	}
}

// TakeSeat seats playerID at seat with buyIn chips.
func (t *Table) TakeSeat(playerID string, seat, buyIn int) error {
	if err := t.checkAvailable(); err != nil {
		return err
	}
	s, err := t.seatAt(seat)
	if err != nil {
		return err
	}
	if t.seatOf(playerID) != nil {
		return ErrAlreadySeated
	}
	if !s.available(playerID, t.clock.Now()) {
		return fmt.Errorf("%w: seat %d", ErrSeatTaken, seat)
	}
	if buyIn < t.cfg.MinBuyIn || buyIn > t.cfg.MaxBuyIn {
		return fmt.Errorf("%w: %d not in %d-%d", ErrInvalidBuyIn, buyIn, t.cfg.MinBuyIn, t.cfg.MaxBuyIn)
	}

	t.releaseReservations(playerID)
	t.seats[seat] = &Seat{Index: seat, State: SeatOccupied, PlayerID: playerID, Stack: buyIn}
	t.boughtIn += buyIn
	t.observers[playerID] = true
	if t.inBlindShadow(seat) {
		t.schedule.AddObligation(playerID, OweBig, ReasonLateEntry)
	}
	return nil
}

// inBlindShadow reports whether seat lies between the last button and the
// last big blind, where a newcomer would otherwise skip the blinds.
func (t *Table) inBlindShadow(seat int) bool {
	return t.handCount > 0 && between(t.button, t.lastBB, seat, len(t.seats))
}

// LeaveSeat removes playerID from the table and returns the chips cashed out.
// A player still live in the hand is folded first; an all-in player keeps the
// seat until the hand completes and is cashed out then.
func (t *Table) LeaveSeat(playerID string) (int, error) {
	s := t.seatOf(playerID)
	if s == nil {
		return 0, ErrNotSeated
	}
	if t.hand.Live() && t.unavailable == "" {
		if p := t.hand.playerByID(playerID); p != nil && !p.Folded {
			if p.AllIn {
				s.PendingLeave = true
				return 0, nil
			}
			if err := t.hand.foldOutOfTurn(p); err != nil {
				return 0, err
			}
			t.settle()
		}
	}
	return t.vacate(s), nil
}

func (t *Table) vacate(s *Seat) int {
	cash := s.Stack
	s.Stack = 0
	t.cashedOut += cash
	t.schedule.Cancel(s.PlayerID)
	delete(t.observers, s.PlayerID)
	t.seats[s.Index] = &Seat{Index: s.Index}
	return cash
}

// ChangeSeat moves a seated player who is not in the current hand to an empty
// seat. Moving into the blind shadow incurs a big-blind obligation.
func (t *Table) ChangeSeat(playerID string, to int) error {
	if err := t.checkAvailable(); err != nil {
		return err
	}
	s := t.seatOf(playerID)
	if s == nil {
		return fmt.Errorf("%w: %s is not seated", ErrInvalidTransition, playerID)
	}
	if to < 0 || to >= len(t.seats) {
		return fmt.Errorf("%w: no seat %d", ErrInvalidTransition, to)
	}
	if to == s.Index || !t.seats[to].available(playerID, t.clock.Now()) {
		return fmt.Errorf("%w: seat %d is not free", ErrInvalidTransition, to)
	}
	if t.hand.Live() && t.hand.playerByID(playerID) != nil {
		return fmt.Errorf("%w: %s is in the current hand", ErrInvalidTransition, playerID)
	}

	moved := *s
	moved.Index = to
	moved.ReservedUntil = time.Time{}
	t.seats[s.Index] = &Seat{Index: s.Index}
	t.seats[to] = &moved
	if t.inBlindShadow(to) {
		t.schedule.AddObligation(playerID, OweBig, ReasonSeatChange)
	}
	return nil
}

// SitOut keeps playerID's seat but stops dealing them in from the next hand.
func (t *Table) SitOut(playerID string) error {
	s := t.seatOf(playerID)
	if s == nil {
		return ErrNotSeated
	}
	s.SittingOut = true
	return nil
}

// SitIn deals playerID back in from the next hand.
func (t *Table) SitIn(playerID string) error {
	s := t.seatOf(playerID)
	if s == nil {
		return ErrNotSeated
	}
	if s.Stack == 0 {
		return fmt.Errorf("%w: stack is empty", ErrInsufficientChips)
	}
	s.SittingOut = false
	return nil
}

// Ready reports whether a new hand could start now.
func (t *Table) Ready() bool {
	return t.unavailable == "" && !t.hand.Live() && len(t.dealable()) >= 2
}

func (t *Table) dealable() []*Seat {
	var out []*Seat
	for _, s := range t.seats {
		if s.dealable() {
			out = append(out, s)
		}
	}
	return out
}

// nextDealable returns the first dealable seat clockwise after from.
func nextDealable(seats []*Seat, from int) *Seat {
	for _, s := range seats {
		if s.Index > from {
			return s
		}
	}
	return seats[0]
}

// StartHand moves the button, posts antes, blinds and dead blinds, deals hole
// cards and opens preflop betting.
func (t *Table) StartHand() error {
	if err := t.checkAvailable(); err != nil {
		return err
	}
	if t.hand.Live() {
		return fmt.Errorf("%w: hand %d is in progress", ErrWrongPhase, t.hand.Number)
	}
	seats := t.dealable()
	if len(seats) < 2 {
		return ErrNotEnoughPlayers
	}

	button := seats[0]
	if t.handCount > 0 {
		button = nextDealable(seats, t.button)
	}
	sb, bb := button, nextDealable(seats, button.Index)
	if len(seats) > 2 {
		sb = bb
		bb = nextDealable(seats, sb.Index)
	}

	if t.handCount > 0 {
		t.recordMissedBlinds(sb.Index, bb.Index)
	}

	deck := t.injected
	t.injected = nil
	if deck == nil {
		deck = poker.NewDeck(t.rng)
	}

	level := t.schedule.Current()
	t.schedule.HandStarted()
	t.handCount++
	t.button, t.lastSB, t.lastBB = button.Index, sb.Index, bb.Index

	h := &Hand{
		ID:             uuid.NewString(),
		Number:         t.handCount,
		Phase:          PhaseIdle,
		Button:         button.Index,
		SmallBlindSeat: sb.Index,
		BigBlindSeat:   bb.Index,
		Level:          level,
		Actor:          -1,
		StartedAt:      t.clock.Now(),
		deck:           deck,
		now: func() time.Time { return t.clock.Now() },
	}
	for _, s := range seats {
		s.PostedDeadBlind = false
		h.Players = append(h.Players, &HandSeat{Seat: s.Index, PlayerID: s.PlayerID, seat: s})
	}
	t.hand = h
	t.settled = false

	if err := h.setPhase(PhaseDealing); err != nil {
		return err
	}
	for _, p := range h.clockwise(h.Button) {
		h.post(p, level.Ante, false, PostAnte)
	}
	h.post(h.player(sb.Index), level.SmallBlind, true, PostSmallBlind)
	h.post(h.player(bb.Index), level.BigBlind, true, PostBigBlind)
	t.postDeadBlinds(h)

	if err := h.dealHoleCards(); err != nil {
		return err
	}
	if err := h.setPhase(PhasePreflop); err != nil {
		return err
	}
	h.Round = NewBettingRound(PhasePreflop, level.BigBlind)
	h.Round.BetToCall = level.BigBlind
	h.Actor = bb.Index
	if err := h.progressFromPosts(); err != nil {
		return err
	}
	t.settle()
	return nil
}

// progressFromPosts finds the first preflop actor, or runs the hand out when
// the posts alone left nobody able to bet.
func (h *Hand) progressFromPosts() error {
	if h.roundComplete() {
		return h.endStreet()
	}
	h.Actor = h.nextPending(h.BigBlindSeat)
	return nil
}

// recordMissedBlinds charges sitting-out players whom the blinds passed over
// since the previous hand.
func (t *Table) recordMissedBlinds(sb, bb int) {
	n := len(t.seats)
	for _, s := range t.seats {
		if !s.occupied() || !s.SittingOut {
			continue
		}
		if between(t.lastSB, sb, s.Index, n) {
			t.schedule.AddObligation(s.PlayerID, OweSmall, ReasonMissedBlind)
		}
		if between(t.lastBB, bb, s.Index, n) {
			t.schedule.AddObligation(s.PlayerID, OweBig, ReasonMissedBlind)
		}
	}
}

// postDeadBlinds settles outstanding obligations of everyone dealt in, in the
// order they were incurred. The first big blind owed is live; the rest is dead.
func (t *Table) postDeadBlinds(h *Hand) {
	for _, p := range h.clockwise(h.Button) {
		pending := t.schedule.Pending(p.PlayerID)
		if len(pending) == 0 {
			continue
		}
		natural := p.Seat == h.SmallBlindSeat || p.Seat == h.BigBlindSeat
		liveBig := false
		for _, o := range pending {
			if !natural {
				if o.Owed.big() {
					h.post(p, h.Level.BigBlind, !liveBig, PostDeadBlind)
					liveBig = true
				}
				if o.Owed.small() {
					h.post(p, h.Level.SmallBlind, false, PostDeadBlind)
				}
				p.seat.PostedDeadBlind = true
			}
			t.schedule.Satisfy(o)
		}
	}
}

// settle archives a hand that just completed and vacates seats whose players
// left while all-in.
func (t *Table) settle() {
	if t.hand == nil || t.hand.Phase != PhaseHandComplete || t.settled {
		return
	}
	t.settled = true
	t.completed = append(t.completed, t.hand)
	for _, s := range t.seats {
		if s.PendingLeave {
			t.vacate(s)
		}
	}
}

// TakeCompletedHands returns hands finished since the last call.
func (t *Table) TakeCompletedHands() []*Hand {
	out := t.completed
	t.completed = nil
	return out
}

// Turn identifies a pending decision.
type Turn struct {
	HandID   string
	Seq      int
	Seat     int
	PlayerID string
}

// CurrentTurn returns the pending decision, if a hand is waiting on one.
func (t *Table) CurrentTurn() (Turn, bool) {
	id, ok := t.hand.ActorID()
	if !ok {
		return Turn{}, false
	}
	return Turn{HandID: t.hand.ID, Seq: len(t.hand.History), Seat: t.hand.Actor, PlayerID: id}, true
}

// Act applies playerID's decision. amount is the "raise to" total for bets
// and raises and is ignored otherwise.
func (t *Table) Act(playerID string, kind ActionKind, amount int) error {
	return t.act(playerID, kind, amount, false)
}

func (t *Table) act(playerID string, kind ActionKind, amount int, forced bool) error {
	if err := t.checkAvailable(); err != nil {
		return err
	}
	if !t.hand.Live() {
		return fmt.Errorf("%w: no hand in progress", ErrWrongPhase)
	}
	if err := t.hand.Act(playerID, kind, amount, forced); err != nil {
		return err
	}
	t.settle()
	return nil
}

// ForceDefault applies the default action for playerID, who must be the
// current actor: check if free, else fold.
func (t *Table) ForceDefault(playerID string) (ActionKind, error) {
	if !t.hand.Live() {
		return 0, fmt.Errorf("%w: no hand in progress", ErrWrongPhase)
	}
	kind := t.hand.DefaultAction()
	return kind, t.act(playerID, kind, 0, true)
}

// ValidActions lists playerID's legal actions; it is empty unless it is their turn.
func (t *Table) ValidActions(playerID string) []ValidAction {
	if id, ok := t.hand.ActorID(); !ok || id != playerID {
		return nil
	}
	return t.hand.ValidActions()
}

// InjectDeck fixes the top of the next hand's deck. Cards are dealt one at a
// time clockwise from the seat after the button, then burn and board cards
// follow in dealing order.
func (t *Table) InjectDeck(cards []poker.Card) error {
	d, err := poker.NewDeckWithOrder(cards, t.rng)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	t.injected = d
	return nil
}

// SetBlindLevel jumps the schedule to level n (1-based). A running hand keeps
// its blinds.
func (t *Table) SetBlindLevel(n int) error {
	return t.schedule.SetLevel(n)
}

// ForceStreetCompletion drives every pending decision on the current street
// with a check, or a call when facing a bet, until the street ends.
func (t *Table) ForceStreetCompletion() error {
	if !t.hand.Live() || !t.hand.Phase.IsBetting() {
		return fmt.Errorf("%w: no betting street in progress", ErrWrongPhase)
	}
	street, number := t.hand.Phase, t.hand.Number
	for t.hand.Number == number && t.hand.Phase == street {
		id, ok := t.hand.ActorID()
		if !ok {
			break
		}
		kind := Check
		if t.hand.DefaultAction() == Fold {
			kind = Call
		}
		if err := t.act(id, kind, 0, true); err != nil {
			return err
		}
	}
	return nil
}

// ErrConservation is reported when chips were created or destroyed.
var ErrConservation = errors.New("chip conservation violated")

// CheckConservation verifies that every chip bought in is either in a stack,
// in the pot, or cashed out.
func (t *Table) CheckConservation() error {
	stacks := 0
	for _, s := range t.seats {
		if s.occupied() {
			stacks += s.Stack
		}
	}
	pot := t.hand.PotTotal()
	if want := t.boughtIn - t.cashedOut; stacks+pot != want {
		return fmt.Errorf("%w: stacks %d + pot %d != bought in %d - cashed out %d",
			ErrConservation, stacks, pot, t.boughtIn, t.cashedOut)
	}
	return nil
}
