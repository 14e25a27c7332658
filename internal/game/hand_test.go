package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardPotHeadsUp(t *testing.T) {
	table, _ := newTestTable(t, map[string][2]int{"alice": {0, 100}, "bob": {1, 100}})

	// Bob is dealt first: the button posts the small blind heads-up.
	deck := rig(t, [][2]string{{"Ah", "Kh"}, {"7c", "2d"}},
		[5]string{"Ad", "Kd", "9s", "5c", "3h"}, [3]string{"2c", "2h", "2s"})
	require.NoError(t, table.InjectDeck(deck))
	require.NoError(t, table.StartHand())

	h := table.hand
	assert.Equal(t, 0, h.Button)
	assert.Equal(t, 0, h.SmallBlindSeat)
	assert.Equal(t, 1, h.BigBlindSeat)
	assert.Equal(t, 3, h.PotTotal())
	requireConserved(t, table)

	assert.Equal(t, "alice", actor(t, table), "small blind acts first heads-up")
	require.NoError(t, table.Act("alice", Call, 0))
	assert.Equal(t, "bob", actor(t, table), "big blind keeps the option")
	require.NoError(t, table.Act("bob", Check, 0))

	for _, street := range []Phase{PhaseFlop, PhaseTurn, PhaseRiver} {
		require.Equal(t, street, table.Phase())
		assert.Equal(t, "bob", actor(t, table), "big blind acts first after the flop")
		require.NoError(t, table.Act("bob", Check, 0))
		require.NoError(t, table.Act("alice", Check, 0))
		requireConserved(t, table)
	}

	assert.Equal(t, PhaseIdle, table.Phase())
	assert.Equal(t, PhaseHandComplete, h.Phase)
	require.Len(t, h.Results, 1)
	assert.Equal(t, 4, h.Results[0].Amount)
	assert.Equal(t, []int{1}, h.Results[0].Winners)
	assert.Equal(t, 98, stackOf(t, table, 0))
	assert.Equal(t, 102, stackOf(t, table, 1))
	assert.Len(t, h.Shown, 2)
	requireConserved(t, table)

	done := table.TakeCompletedHands()
	require.Len(t, done, 1)
	assert.Same(t, h, done[0])
	assert.Empty(t, table.TakeCompletedHands())
}

func TestSidePotShowdown(t *testing.T) {
	table, _ := newTestTable(t, map[string][2]int{"a": {0, 30}, "b": {1, 100}, "c": {2, 100}})

	deck := rig(t, [][2]string{{"Ks", "Kd"}, {"Qs", "Qd"}, {"As", "Ad"}},
		[5]string{"2c", "7h", "9d", "4s", "3c"}, [3]string{"5h", "6h", "8h"})
	require.NoError(t, table.InjectDeck(deck))
	require.NoError(t, table.StartHand())

	require.Equal(t, "a", actor(t, table))
	require.NoError(t, table.Act("a", AllIn, 0))
	require.NoError(t, table.Act("b", AllIn, 0))
	require.NoError(t, table.Act("c", Call, 0))

	h := table.hand
	require.Equal(t, PhaseHandComplete, h.Phase)
	assert.Len(t, h.Board, 5, "board is run out when nobody can bet")
	require.Len(t, h.Results, 2)
	assert.Equal(t, 90, h.Results[0].Amount)
	assert.Equal(t, []int{0, 1, 2}, h.Results[0].Eligible)
	assert.Equal(t, []int{0}, h.Results[0].Winners)
	assert.Equal(t, 140, h.Results[1].Amount)
	assert.Equal(t, []int{1, 2}, h.Results[1].Eligible)
	assert.Equal(t, []int{1}, h.Results[1].Winners)

	assert.Equal(t, 90, stackOf(t, table, 0))
	assert.Equal(t, 140, stackOf(t, table, 1))
	assert.Equal(t, 0, stackOf(t, table, 2))
	requireConserved(t, table)
}

func TestShortAllInDoesNotReopenBetting(t *testing.T) {
	table, _ := newTestTable(t, map[string][2]int{"p0": {0, 100}, "p1": {1, 100}, "p2": {2, 7}})
	require.NoError(t, table.StartHand())

	require.Equal(t, "p0", actor(t, table))
	require.NoError(t, table.Act("p0", Raise, 6))
	require.NoError(t, table.Act("p1", Call, 0))
	require.NoError(t, table.Act("p2", AllIn, 0))
	assert.Equal(t, 7, table.hand.Round.BetToCall)

	require.Equal(t, "p0", actor(t, table))
	kinds := make([]ActionKind, 0)
	for _, a := range table.ValidActions("p0") {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []ActionKind{Fold, Call}, kinds)

	err := table.Act("p0", Raise, 20)
	require.ErrorIs(t, err, ErrInvalidAction)
	require.NoError(t, table.Act("p0", Call, 0))
	require.ErrorIs(t, table.Act("p1", AllIn, 0), ErrInvalidAction)
	require.NoError(t, table.Act("p1", Call, 0))

	assert.Equal(t, PhaseFlop, table.Phase())
	assert.Equal(t, 21, table.hand.PotTotal())
	requireConserved(t, table)
}

func TestBigBlindOption(t *testing.T) {
	table, _ := newTestTable(t, map[string][2]int{"btn": {0, 100}, "sb": {1, 100}, "bb": {2, 100}})
	require.NoError(t, table.StartHand())

	require.NoError(t, table.Act("btn", Call, 0))
	require.NoError(t, table.Act("sb", Call, 0))
	require.Equal(t, PhasePreflop, table.Phase())
	require.Equal(t, "bb", actor(t, table))

	actions := table.ValidActions("bb")
	assert.Equal(t, []ValidAction{
		{Kind: Fold},
		{Kind: Check},
		{Kind: Raise, Min: 4, Max: 100},
		{Kind: AllIn, Min: 98, Max: 98},
	}, actions)
	assert.Nil(t, table.ValidActions("sb"))

	require.NoError(t, table.Act("bb", Raise, 4))
	assert.Equal(t, "btn", actor(t, table), "a full raise reopens the action")
}

func TestRejectedActionsLeaveStateUnchanged(t *testing.T) {
	table, _ := newTestTable(t, map[string][2]int{"btn": {0, 100}, "sb": {1, 100}, "bb": {2, 50}})
	require.NoError(t, table.StartHand())
	before := table.Snapshot()

	tests := []struct {
		name   string
		player string
		kind   ActionKind
		amount int
		want   error
	}{
		{"out of turn", "sb", Call, 0, ErrNotYourTurn},
		{"check facing the blind", "btn", Check, 0, ErrIllegalAmount},
		{"bet facing the blind", "btn", Bet, 10, ErrInvalidAction},
		{"raise below minimum", "btn", Raise, 3, ErrIllegalAmount},
		{"raise above stack", "btn", Raise, 101, ErrInsufficientChips},
		{"forced post", "btn", PostBigBlind, 2, ErrInvalidAction},
		{"unknown player", "zed", Fold, 0, ErrNotYourTurn},
	}
	for _, tt := range tests {
		err := table.Act(tt.player, tt.kind, tt.amount)
		require.ErrorIs(t, err, tt.want, tt.name)
		assert.Equal(t, before, table.Snapshot(), tt.name)
	}
}

func TestUncontestedHand(t *testing.T) {
	table, _ := newTestTable(t, map[string][2]int{"btn": {0, 100}, "sb": {1, 100}, "bb": {2, 100}})
	require.NoError(t, table.StartHand())

	require.NoError(t, table.Act("btn", Raise, 6))
	require.NoError(t, table.Act("sb", Fold, 0))
	require.NoError(t, table.Act("bb", Fold, 0))

	h := table.hand
	assert.Equal(t, PhaseHandComplete, h.Phase)
	assert.Empty(t, h.Board)
	assert.Empty(t, h.Shown, "nobody shows in an uncontested pot")
	assert.Equal(t, 103, stackOf(t, table, 0))
	assert.Equal(t, 99, stackOf(t, table, 1))
	assert.Equal(t, 98, stackOf(t, table, 2))
	requireConserved(t, table)
}

func TestButtonMovesClockwise(t *testing.T) {
	table, _ := newTestTable(t, map[string][2]int{"a": {1, 100}, "b": {3, 100}, "c": {4, 100}})

	for _, want := range []int{1, 3, 4, 1} {
		require.NoError(t, table.StartHand())
		assert.Equal(t, want, table.hand.Button)
		for table.hand.Live() {
			_, err := table.ForceDefault(actor(t, table))
			require.NoError(t, err)
		}
		requireConserved(t, table)
	}
}

func TestAntesAreDead(t *testing.T) {
	table, clock := newTestTable(t, map[string][2]int{"a": {0, 100}, "b": {1, 100}, "c": {2, 100}})
	s, err := NewTournamentSchedule(tournamentLevels, clock)
	require.NoError(t, err)
	table.schedule = s
	require.NoError(t, table.SetBlindLevel(2))
	require.NoError(t, table.StartHand())

	h := table.hand
	assert.Equal(t, 3+2+4, h.PotTotal())
	assert.Equal(t, 4, h.Round.BetToCall)
	assert.Equal(t, 0, h.player(0).Bet, "antes do not count toward the bet")
	assert.Equal(t, 4, h.player(2).Bet)
	requireConserved(t, table)
}

func TestRandomPlayConservesChips(t *testing.T) {
	table, _ := newTestTable(t, map[string][2]int{
		"a": {0, 200}, "b": {1, 40}, "c": {2, 120}, "d": {3, 75}, "e": {5, 300},
	})
	rng := table.rng

	for hand := 0; hand < 200 && table.Ready(); hand++ {
		require.NoError(t, table.StartHand())
		for table.hand.Live() {
			requireConserved(t, table)
			turn, ok := table.CurrentTurn()
			require.True(t, ok, "a live hand always has exactly one actor")
			actions := table.ValidActions(turn.PlayerID)
			require.NotEmpty(t, actions)

			a := actions[rng.IntN(len(actions))]
			amount := a.Min
			if a.Max > a.Min {
				amount += rng.IntN(a.Max - a.Min + 1)
			}
			street, bets := table.hand.Phase, streetBets(table.hand)
			require.NoError(t, table.Act(turn.PlayerID, a.Kind, amount), "%s %+v", turn.PlayerID, a)
			if table.hand.Live() && table.hand.Phase != street {
				last := table.hand.History[len(table.hand.History)-1]
				require.Equal(t, street, last.Street)
				bets[last.Seat] = last.BetTo
				requireStreetSettled(t, table.hand, bets)
			}
		}
		requireConserved(t, table)
	}
	assert.Greater(t, table.HandCount(), 1)
}

func streetBets(h *Hand) map[int]int {
	bets := make(map[int]int, len(h.Players))
	for _, p := range h.Players {
		bets[p.Seat] = p.Bet
	}
	return bets
}

// requireStreetSettled checks the closing bets of a finished street: every
// seat still able to act had matched the bet to call.
func requireStreetSettled(t *testing.T, h *Hand, bets map[int]int) {
	t.Helper()
	toCall := 0
	for _, bet := range bets {
		toCall = max(toCall, bet)
	}
	for _, p := range h.Players {
		if !p.Folded && !p.AllIn {
			require.Equal(t, toCall, bets[p.Seat], "seat %d closed the street short", p.Seat)
		}
	}
}
