package game

import (
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemtable/internal/randutil"
	"github.com/lox/holdemtable/poker"
)

var testConfig = TableConfig{Name: "test", Seats: 6, MinBuyIn: 5, MaxBuyIn: 1000}

// newTestTable returns a 1/2 cash table with each player seated at the given
// seat with the given stack.
func newTestTable(t *testing.T, seats map[string][2]int) (*Table, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	schedule := NewCashSchedule(BlindLevel{SmallBlind: 1, BigBlind: 2}, clock)
	table, err := NewTable("t1", testConfig, schedule, WithClock(clock), WithRNG(randutil.New(42)))
	require.NoError(t, err)
	for id, s := range seats {
		require.NoError(t, table.TakeSeat(id, s[0], s[1]))
	}
	return table, clock
}

// rig builds a deck prefix: hole cards dealt one at a time in deal order
// (holes listed in that order), then burn/flop, burn/turn, burn/river using
// the given burns.
func rig(t *testing.T, holes [][2]string, board [5]string, burns [3]string) []poker.Card {
	t.Helper()
	var order []string
	for _, h := range holes {
		order = append(order, h[0])
	}
	for _, h := range holes {
		order = append(order, h[1])
	}
	order = append(order, burns[0], board[0], board[1], board[2], burns[1], board[3], burns[2], board[4])
	cards, err := poker.ParseCards(order...)
	require.NoError(t, err)
	return cards
}

func requireConserved(t *testing.T, table *Table) {
	t.Helper()
	require.NoError(t, table.CheckConservation())
}

func stackOf(t *testing.T, table *Table, seat int) int {
	t.Helper()
	s, ok := table.Seat(seat)
	require.True(t, ok)
	return s.Stack
}

func actor(t *testing.T, table *Table) string {
	t.Helper()
	turn, ok := table.CurrentTurn()
	require.True(t, ok, "expected a pending decision")
	return turn.PlayerID
}
