package game

import (
	"fmt"
	"slices"
	"time"

	"github.com/lox/holdemtable/poker"
)

// HandSeat is one participant's state within a hand. The chip stack itself
// stays on the table's Seat and is debited in place, so a chip is always
// either in exactly one stack or in the pot.
type HandSeat struct {
	Seat     int          `json:"seat"`
	PlayerID string       `json:"playerId"`
	Hole     []poker.Card `json:"hole"`
	// Bet is the contribution on the current street, Total for the whole hand.
	Bet    int  `json:"bet"`
	Total  int  `json:"total"`
	Folded bool `json:"folded"`
	AllIn  bool `json:"allIn"`

	seat *Seat
}

func (p *HandSeat) canAct() bool { return !p.Folded && !p.AllIn }

// ShownHand is a hand revealed at showdown.
type ShownHand struct {
	Seat     int           `json:"seat"`
	PlayerID string        `json:"playerId"`
	Hole     []poker.Card  `json:"hole"`
	Ranking  poker.Ranking `json:"ranking"`
	Describe string        `json:"describe"`
}

// Hand is one deal from the shuffle to the payout.
type Hand struct {
	ID             string         `json:"id"`
	Number         int            `json:"number"`
	Phase          Phase          `json:"phase"`
	Button         int            `json:"button"`
	SmallBlindSeat int            `json:"smallBlindSeat"`
	BigBlindSeat   int            `json:"bigBlindSeat"`
	Level          BlindLevel     `json:"level"`
	Players        []*HandSeat    `json:"players"`
	Board          []poker.Card   `json:"board"`
	Actor          int            `json:"actor"`
	Round          *BettingRound  `json:"round,omitempty"`
	History        []ActionRecord `json:"history"`
	Results        []PotResult    `json:"results,omitempty"`
	Shown          []ShownHand    `json:"shown,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	EndedAt        time.Time      `json:"endedAt,omitzero"`
	// Deck holds the undealt cards in snapshots only.
	Deck []poker.Card `json:"deck,omitempty"`

	deck *poker.Deck
	now  func() time.Time
}

// Live reports whether the hand still has chips in play.
func (h *Hand) Live() bool {
	return h != nil && h.Phase != PhaseHandComplete && h.Phase != PhaseIdle
}

// PotTotal is the sum of all contributions not yet paid out.
func (h *Hand) PotTotal() int {
	if !h.Live() {
		return 0
	}
	total := 0
	for _, p := range h.Players {
		total += p.Total
	}
	return total
}

// Pots partitions the current contributions into main and side pots.
func (h *Hand) Pots() []Pot {
	if !h.Live() {
		return nil
	}
	return BuildPots(h.contributions())
}

func (h *Hand) contributions() []Contribution {
	out := make([]Contribution, len(h.Players))
	for i, p := range h.Players {
		out[i] = Contribution{Seat: p.Seat, Amount: p.Total, Folded: p.Folded}
	}
	return out
}

func (h *Hand) player(seat int) *HandSeat {
	for _, p := range h.Players {
		if p.Seat == seat {
			return p
		}
	}
	return nil
}

func (h *Hand) playerByID(id string) *HandSeat {
	for _, p := range h.Players {
		if p.PlayerID == id {
			return p
		}
	}
	return nil
}

// ActorID returns the player whose turn it is.
func (h *Hand) ActorID() (string, bool) {
	if h == nil || !h.Phase.IsBetting() {
		return "", false
	}
	if p := h.player(h.Actor); p != nil {
		return p.PlayerID, true
	}
	return "", false
}

func (h *Hand) setPhase(next Phase) error {
	p, err := h.Phase.Transition(next)
	if err != nil {
		return err
	}
	h.Phase = p
	if p == PhaseHandComplete {
		h.Actor = -1
		h.EndedAt = h.now()
	}
	return nil
}

func (h *Hand) record(p *HandSeat, kind ActionKind, amount int, forced bool) {
	h.History = append(h.History, ActionRecord{
		Seq:      len(h.History) + 1,
		Street:   h.Phase,
		Seat:     p.Seat,
		PlayerID: p.PlayerID,
		Kind:     kind,
		Amount:   amount,
		BetTo:    p.Bet,
		PotAfter: h.PotTotal(),
		Forced:   forced,
		At:       h.now(),
	})
}

// commit moves up to amount chips from p's stack into the pot. Live chips
// also count toward the street bet. It returns the chips actually moved.
func (h *Hand) commit(p *HandSeat, amount int, live bool) int {
	amt := min(amount, p.seat.Stack)
	p.seat.Stack -= amt
	p.Total += amt
	if live {
		p.Bet += amt
	}
	if p.seat.Stack == 0 {
		p.AllIn = true
	}
	return amt
}

// post records a forced contribution. Posts never mark a seat as having acted.
func (h *Hand) post(p *HandSeat, amount int, live bool, kind ActionKind) {
	if amount <= 0 || p.seat.Stack == 0 {
		return
	}
	amt := h.commit(p, amount, live)
	h.record(p, kind, amt, true)
}

// clockwise returns participants in seat order starting after seat from.
func (h *Hand) clockwise(from int) []*HandSeat {
	idx := len(h.Players)
	for i, p := range h.Players {
		if p.Seat > from {
			idx = i
			break
		}
	}
	out := make([]*HandSeat, 0, len(h.Players))
	out = append(out, h.Players[idx:]...)
	return append(out, h.Players[:idx]...)
}

func (h *Hand) nextToAct(from int) int {
	for _, p := range h.clockwise(from) {
		if p.canAct() {
			return p.Seat
		}
	}
	return -1
}

// nextPending returns the first seat clockwise after from that still owes a
// decision on this street.
func (h *Hand) nextPending(from int) int {
	for _, p := range h.clockwise(from) {
		if p.canAct() && (!h.Round.Acted[p.Seat] || p.Bet != h.Round.BetToCall) {
			return p.Seat
		}
	}
	return -1
}

func (h *Hand) liveCount() int {
	n := 0
	for _, p := range h.Players {
		if !p.Folded {
			n++
		}
	}
	return n
}

func (h *Hand) canActCount() int {
	n := 0
	for _, p := range h.Players {
		if p.canAct() {
			n++
		}
	}
	return n
}

// roundComplete reports whether the street's betting is over: every seat that
// can still act has matched the bet and acted since the last full raise. A
// lone seat that can act and faces no bet has nobody left to act against.
func (h *Hand) roundComplete() bool {
	br := h.Round
	var open []*HandSeat
	for _, p := range h.Players {
		if p.canAct() {
			if p.Bet != br.BetToCall {
				return false
			}
			open = append(open, p)
		}
	}
	if len(open) <= 1 {
		return true
	}
	for _, p := range open {
		if !br.Acted[p.Seat] {
			return false
		}
	}
	return true
}

func (h *Hand) dealHoleCards() error {
	order := h.clockwise(h.Button)
	for range 2 {
		for _, p := range order {
			c, err := h.deck.DealOne()
			if err != nil {
				return err
			}
			p.Hole = append(p.Hole, c)
		}
	}
	return nil
}

// dealNextStreet burns one card and deals the next street's community cards.
func (h *Hand) dealNextStreet() error {
	if err := h.setPhase(h.Phase.Next()); err != nil {
		return err
	}
	if err := h.deck.Burn(); err != nil {
		return err
	}
	cards, err := h.deck.Deal(h.Phase.BoardSize() - len(h.Board))
	if err != nil {
		return err
	}
	h.Board = append(h.Board, cards...)
	return nil
}

// Act applies a decision by the current actor. Rejected actions leave the hand
// untouched.
func (h *Hand) Act(playerID string, kind ActionKind, amount int, forced bool) error {
	if !h.Phase.IsBetting() {
		return fmt.Errorf("%w: no betting in %s", ErrWrongPhase, h.Phase)
	}
	p := h.player(h.Actor)
	if p == nil || p.PlayerID != playerID {
		return ErrNotYourTurn
	}
	if !kind.IsDecision() {
		return fmt.Errorf("%w: %s is not a decision", ErrInvalidAction, kind)
	}
	debit, err := h.validate(p, kind, amount)
	if err != nil {
		return err
	}

	if kind == Fold {
		p.Folded = true
		h.Round.Acted[p.Seat] = true
	} else {
		h.commit(p, debit, true)
		h.Round.recordContribution(p.Seat, p.Bet)
	}
	h.record(p, kind, debit, forced)
	return h.progress()
}

func (h *Hand) validate(p *HandSeat, kind ActionKind, amount int) (int, error) {
	br := h.Round
	stack := p.seat.Stack
	toCall := br.BetToCall - p.Bet

	switch kind {
	case Fold:
		return 0, nil

	case Check:
		if toCall > 0 {
			return 0, fmt.Errorf("%w: cannot check, %d to call", ErrIllegalAmount, toCall)
		}
		return 0, nil

	case Call:
		if toCall <= 0 {
			return 0, fmt.Errorf("%w: nothing to call", ErrIllegalAmount)
		}
		return min(toCall, stack), nil

	case Bet, Raise:
		if kind == Bet && br.BetToCall > 0 {
			return 0, fmt.Errorf("%w: facing a bet of %d, raise instead", ErrInvalidAction, br.BetToCall)
		}
		if kind == Raise && br.BetToCall == 0 {
			return 0, fmt.Errorf("%w: nothing to raise, bet instead", ErrInvalidAction)
		}
		if br.Capped[p.Seat] {
			return 0, fmt.Errorf("%w: betting was not reopened, call or fold", ErrInvalidAction)
		}
		debit := amount - p.Bet
		if debit > stack {
			return 0, fmt.Errorf("%w: %s to %d needs %d, stack is %d", ErrInsufficientChips, kind, amount, debit, stack)
		}
		if amount <= br.BetToCall {
			return 0, fmt.Errorf("%w: %s must exceed %d", ErrIllegalAmount, kind, br.BetToCall)
		}
		if minTo := h.minRaiseTo(); amount < minTo && debit < stack {
			return 0, fmt.Errorf("%w: minimum %s is to %d", ErrIllegalAmount, kind, minTo)
		}
		return debit, nil

	case AllIn:
		if stack == 0 {
			return 0, fmt.Errorf("%w: no chips behind", ErrIllegalAmount)
		}
		if br.Capped[p.Seat] && p.Bet+stack > br.BetToCall {
			return 0, fmt.Errorf("%w: betting was not reopened, call or fold", ErrInvalidAction)
		}
		return stack, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidAction, kind)
}

func (h *Hand) minRaiseTo() int {
	return h.Round.BetToCall + max(h.Round.MinRaise, h.Level.BigBlind)
}

// ValidActions lists the current actor's legal decisions.
func (h *Hand) ValidActions() []ValidAction {
	if !h.Phase.IsBetting() {
		return nil
	}
	p := h.player(h.Actor)
	if p == nil {
		return nil
	}
	br := h.Round
	stack := p.seat.Stack
	toCall := br.BetToCall - p.Bet

	actions := []ValidAction{{Kind: Fold}}
	if toCall == 0 {
		actions = append(actions, ValidAction{Kind: Check})
	} else {
		c := min(toCall, stack)
		actions = append(actions, ValidAction{Kind: Call, Min: c, Max: c})
	}

	switch {
	case stack > toCall && !br.Capped[p.Seat]:
		kind := Raise
		if br.BetToCall == 0 {
			kind = Bet
		}
		if minTo, maxTo := h.minRaiseTo(), p.Bet+stack; minTo <= maxTo {
			actions = append(actions, ValidAction{Kind: kind, Min: minTo, Max: maxTo})
		}
		actions = append(actions, ValidAction{Kind: AllIn, Min: stack, Max: stack})
	case stack <= toCall:
		actions = append(actions, ValidAction{Kind: AllIn, Min: stack, Max: stack})
	}
	return actions
}

// DefaultAction is what a player who does not respond is forced to do: check
// when free, otherwise fold.
func (h *Hand) DefaultAction() ActionKind {
	p := h.player(h.Actor)
	if p != nil && h.Round != nil && p.Bet == h.Round.BetToCall {
		return Check
	}
	return Fold
}

func (h *Hand) progress() error {
	if h.liveCount() == 1 {
		return h.finishUncontested()
	}
	if h.roundComplete() {
		return h.endStreet()
	}
	h.Actor = h.nextPending(h.Actor)
	return nil
}

func (h *Hand) endStreet() error {
	for _, p := range h.Players {
		p.Bet = 0
	}
	h.Actor = -1
	if h.Phase == PhaseRiver {
		return h.showdown()
	}

	if h.canActCount() >= 2 {
		if err := h.dealNextStreet(); err != nil {
			return err
		}
		h.Round = NewBettingRound(h.Phase, h.Level.BigBlind)
		h.Actor = h.nextToAct(h.Button)
		return nil
	}

	// Nobody is left to bet against: run the board out.
	for h.Phase != PhaseRiver {
		if err := h.dealNextStreet(); err != nil {
			return err
		}
	}
	h.Round = nil
	return h.showdown()
}

// foldOutOfTurn folds p immediately, e.g. when the player leaves the table.
func (h *Hand) foldOutOfTurn(p *HandSeat) error {
	if p.Folded || !h.Phase.IsBetting() {
		return nil
	}
	if p.Seat == h.Actor {
		return h.Act(p.PlayerID, Fold, 0, true)
	}
	p.Folded = true
	h.Round.Acted[p.Seat] = true
	h.record(p, Fold, 0, true)
	if h.liveCount() == 1 {
		return h.finishUncontested()
	}
	if h.roundComplete() {
		return h.endStreet()
	}
	return nil
}

func (h *Hand) finishUncontested() error {
	var winner *HandSeat
	for _, p := range h.Players {
		if !p.Folded {
			winner = p
		}
	}
	total := h.PotTotal()
	h.Results = []PotResult{{
		Amount:   total,
		Eligible: []int{winner.Seat},
		Winners:  []int{winner.Seat},
		Payouts:  []Payout{{Seat: winner.Seat, Amount: total}},
	}}
	winner.seat.Stack += total
	return h.setPhase(PhaseHandComplete)
}

func (h *Hand) showdown() error {
	if err := h.setPhase(PhaseShowdown); err != nil {
		return err
	}

	ranks := make(map[int]poker.HandRank)
	for _, p := range h.Players {
		if p.Folded {
			continue
		}
		r, err := poker.Evaluate(append(slices.Clone(p.Hole), h.Board...)...)
		if err != nil {
			return fmt.Errorf("evaluate seat %d: %w", p.Seat, err)
		}
		ranks[p.Seat] = r.Rank
		h.Shown = append(h.Shown, ShownHand{
			Seat:     p.Seat,
			PlayerID: p.PlayerID,
			Hole:     slices.Clone(p.Hole),
			Ranking:  r,
			Describe: r.String(),
		})
	}

	order := make([]int, 0, len(h.Players))
	for _, p := range h.clockwise(h.Button) {
		order = append(order, p.Seat)
	}
	results, err := DistributePots(BuildPots(h.contributions()), ranks, order)
	if err != nil {
		return err
	}
	for _, r := range results {
		for _, pay := range r.Payouts {
			h.player(pay.Seat).seat.Stack += pay.Amount
		}
	}
	h.Results = results
	return h.setPhase(PhaseHandComplete)
}

// clone deep-copies the hand for a snapshot, including the undealt deck.
func (h *Hand) clone() *Hand {
	if h == nil {
		return nil
	}
	c := *h
	c.Players = make([]*HandSeat, len(h.Players))
	for i, p := range h.Players {
		cp := *p
		cp.Hole = slices.Clone(p.Hole)
		cp.seat = nil
		c.Players[i] = &cp
	}
	c.Board = slices.Clone(h.Board)
	c.Round = h.Round.clone()
	c.History = slices.Clone(h.History)
	c.Results = make([]PotResult, len(h.Results))
	for i, r := range h.Results {
		r.Eligible = slices.Clone(r.Eligible)
		r.Winners = slices.Clone(r.Winners)
		r.Payouts = slices.Clone(r.Payouts)
		c.Results[i] = r
	}
	c.Shown = slices.Clone(h.Shown)
	if h.deck != nil && h.Live() {
		c.Deck = h.deck.Remaining()
	} else {
		c.Deck = nil
	}
	c.deck = nil
	c.now = nil
	return &c
}
