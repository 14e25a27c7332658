package game

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tournamentLevels = []BlindLevel{
	{SmallBlind: 1, BigBlind: 2, Duration: time.Minute},
	{SmallBlind: 2, BigBlind: 4, Ante: 1, Duration: time.Minute},
	{SmallBlind: 5, BigBlind: 10, Ante: 1},
}

func TestCashScheduleNeverExpires(t *testing.T) {
	clock := quartz.NewMock(t)
	s := NewCashSchedule(BlindLevel{SmallBlind: 1, BigBlind: 2, Duration: time.Hour}, clock)

	assert.Equal(t, CashGame, s.Mode())
	assert.Equal(t, 1, s.Current().Level)
	assert.Zero(t, s.TimeRemaining())

	s.ArmTimer(func(uint64) { t.Fatal("cash schedule armed a timer") })
	_, ok := s.Advance()
	assert.False(t, ok)
}

func TestTournamentScheduleAdvancesOnTimer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	s, err := NewTournamentSchedule(tournamentLevels, clock)
	require.NoError(t, err)

	fired := make(chan uint64, 1)
	s.ArmTimer(func(gen uint64) { fired <- gen })

	clock.Advance(20 * time.Second).MustWait(ctx)
	assert.Equal(t, 40*time.Second, s.TimeRemaining())

	clock.Advance(40 * time.Second).MustWait(ctx)
	gen := <-fired
	level, ok := s.Expire(gen)
	require.True(t, ok)
	assert.Equal(t, 2, level.Level)
	assert.Equal(t, 4, s.Current().BigBlind)
	assert.Equal(t, time.Minute, s.TimeRemaining())

	sum := s.Summary()
	assert.Equal(t, "tournament", sum.Mode)
	require.NotNil(t, sum.Next)
	assert.Equal(t, 10, sum.Next.BigBlind)
}

func TestStaleBlindTimerIsIgnored(t *testing.T) {
	clock := quartz.NewMock(t)
	s, err := NewTournamentSchedule(tournamentLevels, clock)
	require.NoError(t, err)

	s.ArmTimer(func(uint64) {})
	stale := s.timerGen
	require.NoError(t, s.SetLevel(2))
	s.ArmTimer(func(uint64) {})

	_, ok := s.Expire(stale)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Current().Level)
	s.StopTimer()
}

func TestFinalLevelHolds(t *testing.T) {
	clock := quartz.NewMock(t)
	s, err := NewTournamentSchedule(tournamentLevels, clock)
	require.NoError(t, err)

	require.NoError(t, s.SetLevel(3))
	assert.Zero(t, s.TimeRemaining())
	_, ok := s.Advance()
	assert.False(t, ok)
	assert.Nil(t, s.Summary().Next)

	require.ErrorIs(t, s.SetLevel(4), ErrInvalidAction)
	require.ErrorIs(t, s.SetLevel(0), ErrInvalidAction)
}

func TestTournamentScheduleValidation(t *testing.T) {
	clock := quartz.NewMock(t)

	_, err := NewTournamentSchedule(nil, clock)
	assert.Error(t, err)

	_, err = NewTournamentSchedule([]BlindLevel{{SmallBlind: 2, BigBlind: 1, Duration: time.Minute}}, clock)
	assert.Error(t, err)

	_, err = NewTournamentSchedule([]BlindLevel{{SmallBlind: 1, BigBlind: 2}, {SmallBlind: 2, BigBlind: 4}}, clock)
	assert.Error(t, err, "non-final level without a duration")
}

func TestDeadBlindObligations(t *testing.T) {
	clock := quartz.NewMock(t)
	s := NewCashSchedule(BlindLevel{SmallBlind: 1, BigBlind: 2}, clock)

	first := s.AddObligation("d", OweBig, ReasonSeatChange)
	missed := s.AddObligation("d", OweSmall, ReasonMissedBlind)
	again := s.AddObligation("d", OweSmall, ReasonMissedBlind)
	s.AddObligation("e", OweBig, ReasonLateEntry)

	assert.Same(t, missed, again, "missed blinds of one type do not stack")
	assert.Equal(t, []*DeadBlindObligation{first, missed}, s.Pending("d"))
	assert.Equal(t, 3, s.PendingCount())

	s.Satisfy(first)
	assert.Equal(t, []*DeadBlindObligation{missed}, s.Pending("d"))

	s.Cancel("d")
	assert.Empty(t, s.Pending("d"))
	assert.Equal(t, 1, s.Summary().PendingDeadBlinds)
}

func TestScheduleStateRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	s, err := NewTournamentSchedule(tournamentLevels, clock)
	require.NoError(t, err)
	s.HandStarted()
	s.AddObligation("d", OweBoth, ReasonMissedBlind)
	clock.Advance(15 * time.Second).MustWait(ctx)

	restored, err := RestoreSchedule(s.State(), clock)
	require.NoError(t, err)
	assert.Equal(t, s.Summary(), restored.Summary())
	assert.Len(t, restored.Pending("d"), 1)
}
