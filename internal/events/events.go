// Package events publishes audit events for completed hands.
package events

import (
	"context"
	"time"

	"github.com/lox/holdemtable/internal/game"
)

// HandCompleted is the audit record of one finished hand.
type HandCompleted struct {
	TableID   string              `json:"tableId"`
	HandID    string              `json:"handId"`
	Number    int                 `json:"number"`
	Button    int                 `json:"button"`
	Level     game.BlindLevel     `json:"level"`
	Board     []string            `json:"board"`
	Players   []PlayerResult      `json:"players"`
	Pots      []game.PotResult    `json:"pots"`
	Actions   []game.ActionRecord `json:"actions"`
	StartedAt time.Time           `json:"startedAt"`
	EndedAt   time.Time           `json:"endedAt"`
}

// PlayerResult is one participant's outcome. Hole cards are only included
// when they were shown at showdown.
type PlayerResult struct {
	Seat        int      `json:"seat"`
	PlayerID    string   `json:"playerId"`
	Contributed int      `json:"contributed"`
	Won         int      `json:"won"`
	Folded      bool     `json:"folded,omitempty"`
	Hole        []string `json:"hole,omitempty"`
	Rank        string   `json:"rank,omitempty"`
}

// Net is the player's chip gain or loss for the hand.
func (p PlayerResult) Net() int { return p.Won - p.Contributed }

// NewHandCompleted builds the event for a finished hand.
func NewHandCompleted(tableID string, h *game.Hand) HandCompleted {
	ev := HandCompleted{
		TableID:   tableID,
		HandID:    h.ID,
		Number:    h.Number,
		Button:    h.Button,
		Level:     h.Level,
		Board:     make([]string, len(h.Board)),
		Pots:      h.Results,
		Actions:   h.History,
		StartedAt: h.StartedAt,
		EndedAt:   h.EndedAt,
	}
	for i, c := range h.Board {
		ev.Board[i] = c.String()
	}

	won := make(map[int]int)
	for _, pot := range h.Results {
		for _, p := range pot.Payouts {
			won[p.Seat] += p.Amount
		}
	}
	shown := make(map[int]game.ShownHand, len(h.Shown))
	for _, s := range h.Shown {
		shown[s.Seat] = s
	}

	for _, p := range h.Players {
		r := PlayerResult{
			Seat:        p.Seat,
			PlayerID:    p.PlayerID,
			Contributed: p.Total,
			Won:         won[p.Seat],
			Folded:      p.Folded,
		}
		if s, ok := shown[p.Seat]; ok {
			for _, c := range s.Hole {
				r.Hole = append(r.Hole, c.String())
			}
			r.Rank = s.Describe
		}
		ev.Players = append(ev.Players, r)
	}
	return ev
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishHandCompleted(ctx context.Context, ev HandCompleted) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishHandCompleted(context.Context, HandCompleted) error { return nil }
func (Nop) Close() error                                              { return nil }
