package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/session"
)

func TestConcurrentTakeSeatHasOneWinner(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)
	r, err := reg.CreateTable(cashSpec("t1"))
	require.NoError(t, err)

	const contenders = 8
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.TakeSeat(ctxT(t), fmt.Sprintf("p%d", i), 3, 100)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		require.ErrorIs(t, err, game.ErrSeatConflict)
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, game.SeatOccupied, r.Snapshot().Seats[3].State)
}

func TestRejectedCommandDoesNotCommit(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)
	require.NoError(t, r.StartHand(ctx))

	before := r.Snapshot()
	err := r.Act(ctx, "bob", game.Check, 0)
	require.ErrorIs(t, err, game.ErrNotYourTurn)
	assert.Same(t, before, r.Snapshot())
}

func TestDecisionTimeoutForcesDefault(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	require.NoError(t, r.StartHand(ctxT(t)))

	// Heads-up the button posts the small blind and acts first, facing the
	// big blind, so the default is a fold.
	require.Equal(t, testDecision, advance(t, clock, r))

	h := r.Snapshot().Hand
	last := h.History[len(h.History)-1]
	assert.Equal(t, game.Fold, last.Kind)
	assert.True(t, last.Forced)
	assert.Equal(t, "alice", last.PlayerID)
	assert.Equal(t, 199, stack(t, r, 0))
	assert.Equal(t, 201, stack(t, r, 1))
}

func TestStaleDecisionTimerIsDiscarded(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)
	require.NoError(t, r.StartHand(ctx))

	var stale game.Turn
	require.NoError(t, r.do(ctx, func(tb *game.Table) error {
		stale, _ = tb.CurrentTurn()
		return errUnchanged
	}))
	require.NoError(t, r.Act(ctx, "alice", game.Call, 0))
	seq := r.Snapshot().Seq

	require.NoError(t, r.do(ctx, func(tb *game.Table) error { return r.decisionExpired(tb, stale) }))
	assert.Equal(t, seq, r.Snapshot().Seq, "stale timer must not commit")
	assert.Equal(t, "bob", r.Snapshot().View("bob").Hand.ActorID)
}

func TestActingCancelsDecisionTimer(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)
	require.NoError(t, r.StartHand(ctx))

	clock.Advance(20 * time.Second).MustWait(ctx)
	require.NoError(t, r.Act(ctx, "alice", game.Call, 0))

	// The next deadline is a full timeout after alice's call, not the
	// remainder of hers.
	d := advance(t, clock, r)
	assert.Equal(t, testDecision, d)
	h := r.Snapshot().Hand
	last := h.History[len(h.History)-1]
	assert.Equal(t, "bob", last.PlayerID)
	assert.Equal(t, game.Check, last.Kind)
	assert.True(t, last.Forced)
}

func TestReconnectionWithinGraceKeepsTurn(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)

	alice := newSub("a1", "alice")
	sess, err := r.Connect(ctx, "alice", alice)
	require.NoError(t, err)
	require.NoError(t, r.StartHand(ctx))
	history := len(r.Snapshot().Hand.History)

	require.NoError(t, r.Disconnect(ctx, alice))
	s, ok := reg.Sessions().Get("t1", "alice")
	require.True(t, ok)
	require.Equal(t, session.GracePeriod, s.Status)

	// Only the grace timer is pending; the decision timer is suspended.
	clock.Advance(15 * time.Second).MustWait(ctx)
	require.NoError(t, r.Sync(ctx))
	assert.Len(t, r.Snapshot().Hand.History, history)

	again := newSub("a2", "alice")
	resumed, err := r.Reconnect(ctx, sess.Token, again)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, resumed.ID)

	// The reconnect commit re-delivers the prompt.
	view := again.last()
	require.NotNil(t, view)
	require.NotNil(t, view.Hand)
	assert.Equal(t, "alice", view.Hand.ActorID)
	assert.NotEmpty(t, view.ValidActions)
	assert.Len(t, view.Hand.History, history, "no forced action")

	// A fresh decision timeout is armed from the reconnect.
	assert.Equal(t, testDecision, advance(t, clock, r))
	last := r.Snapshot().Hand.History[history]
	assert.True(t, last.Forced)
	assert.Equal(t, "alice", last.PlayerID)
}

func TestRepeatedReconnectKeepsDecisionDeadline(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)

	require.NoError(t, r.StartHand(ctx))
	history := len(r.Snapshot().Hand.History)

	alice := newSub("a1", "alice")
	sess, err := r.Connect(ctx, "alice", alice)
	require.NoError(t, err)

	clock.Advance(10 * time.Second).MustWait(ctx)
	_, err = r.Reconnect(ctx, sess.Token, alice)
	require.NoError(t, err)

	clock.Advance(10 * time.Second).MustWait(ctx)
	_, err = r.Connect(ctx, "alice", alice)
	require.NoError(t, err)
	assert.Len(t, r.Snapshot().Hand.History, history)

	// The timeout armed when the hand started still fires on schedule.
	assert.Equal(t, 10*time.Second, advance(t, clock, r))
	h := r.Snapshot().Hand
	require.Len(t, h.History, history+1)
	last := h.History[history]
	assert.True(t, last.Forced)
	assert.Equal(t, "alice", last.PlayerID)
}

func TestLateExpiryAfterFreshConnectIsIgnored(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)

	require.NoError(t, r.StartHand(ctx))
	history := len(r.Snapshot().Hand.History)
	seq := r.Snapshot().Seq

	// The grace period lapsed but the player joined again before the
	// queued expiry reached the table.
	_, err := r.Connect(ctx, "alice", newSub("a1", "alice"))
	require.NoError(t, err)
	r.expireSession("alice")
	require.NoError(t, r.Sync(ctx))

	snap := r.Snapshot()
	assert.Equal(t, seq+1, snap.Seq, "only the connect committed")
	assert.Len(t, snap.Hand.History, history)
	assert.False(t, snap.Seats[0].SittingOut)
	assert.Equal(t, "alice", snap.View("").Hand.ActorID)
}

func TestGraceExpiryForcesOneDefaultAction(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(t, nil)
	r, err := reg.CreateTable(cashSpec("t1"))
	require.NoError(t, err)
	ctx := ctxT(t)
	for i, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, r.TakeSeat(ctx, id, i, 200))
	}
	require.NoError(t, r.StartHand(ctx))
	actor := r.Snapshot().View("").Hand.ActorID

	sub := newSub("c1", actor)
	sess, err := r.Connect(ctx, actor, sub)
	require.NoError(t, err)
	require.NoError(t, r.Disconnect(ctx, sub))

	assert.Equal(t, testGrace, advance(t, clock, r))

	snap := r.Snapshot()
	forced := 0
	for _, a := range snap.Hand.History {
		if a.PlayerID == actor && a.Kind.IsDecision() {
			forced++
			assert.True(t, a.Forced)
			assert.Equal(t, game.Fold, a.Kind)
		}
	}
	assert.Equal(t, 1, forced)
	idx, ok := seatOf(snap, actor)
	require.True(t, ok)
	assert.True(t, snap.Seats[idx].SittingOut)

	_, err = r.Reconnect(ctx, sess.Token, newSub("c2", actor))
	require.ErrorIs(t, err, session.ErrSessionExpired)

	// A fresh join deals the player back in.
	_, err = r.Connect(ctx, actor, newSub("c3", actor))
	require.NoError(t, err)
	assert.False(t, r.Snapshot().Seats[idx].SittingOut)
}

func seatOf(s *game.Snapshot, playerID string) (int, bool) {
	for _, seat := range s.Seats {
		if seat.PlayerID == playerID && seat.State == game.SeatOccupied {
			return seat.Index, true
		}
	}
	return 0, false
}

func TestGraceExpiryOffTurnSitsOut(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)

	bob := newSub("b1", "bob")
	_, err := r.Connect(ctx, "bob", bob)
	require.NoError(t, err)
	require.NoError(t, r.Disconnect(ctx, bob))

	assert.Equal(t, testGrace, advance(t, clock, r))
	assert.True(t, r.Snapshot().Seats[1].SittingOut)
	assert.Nil(t, r.Snapshot().Hand)
}

func TestFailingSubscriberIsDropped(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)

	good, bad := newSub("good", ""), newSub("bad", "")
	require.NoError(t, r.Subscribe(ctx, good))
	require.NoError(t, r.Subscribe(ctx, bad))
	require.Equal(t, 1, good.count())
	require.Equal(t, 1, bad.count())

	bad.setFail(true)
	require.NoError(t, r.StartHand(ctx))
	bad.setFail(false)
	require.NoError(t, r.Act(ctx, "alice", game.Call, 0))

	assert.Equal(t, 3, good.count())
	assert.Equal(t, 1, bad.count())
	assert.Equal(t, r.Snapshot().Seq, good.last().Seq)
	for _, p := range good.last().Hand.Players {
		assert.Empty(t, p.Hole, "spectators never see hole cards")
	}
}

func TestConnectReplacesOlderConnection(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)

	first, second := newSub("1", "alice"), newSub("2", "alice")
	_, err := r.Connect(ctx, "alice", first)
	require.NoError(t, err)
	_, err = r.Connect(ctx, "alice", second)
	require.NoError(t, err)

	n := first.count()
	require.NoError(t, r.StartHand(ctx))
	assert.Equal(t, n, first.count())
	require.NotNil(t, second.last().Hand)
	for _, p := range second.last().Hand.Players {
		if p.PlayerID == "alice" {
			assert.Len(t, p.Hole, 2)
		}
	}
}

func TestTournamentBlindTimer(t *testing.T) {
	t.Parallel()
	reg, clock := newTestRegistry(t, nil)
	spec := cashSpec("tourney")
	spec.Mode = game.Tournament
	spec.Levels = []game.BlindLevel{
		{SmallBlind: 10, BigBlind: 20, Duration: 10 * time.Minute},
		{SmallBlind: 20, BigBlind: 40, Duration: 10 * time.Minute},
		{SmallBlind: 50, BigBlind: 100, Ante: 10},
	}
	r, err := reg.CreateTable(spec)
	require.NoError(t, err)
	ctx := ctxT(t)
	require.NoError(t, r.Sync(ctx))

	assert.Equal(t, 10*time.Minute, advance(t, clock, r))
	assert.Equal(t, 2, r.Snapshot().Blinds.Level)

	require.NoError(t, r.SetBlindLevel(ctx, 1))
	assert.Equal(t, 1, r.Snapshot().Blinds.Level)
	assert.Equal(t, 10*time.Minute, advance(t, clock, r))
	assert.Equal(t, 2, r.Snapshot().Blinds.Level)

	assert.Equal(t, 10*time.Minute, advance(t, clock, r))
	blinds := r.Snapshot().Blinds
	assert.Equal(t, 3, blinds.Level)
	assert.Equal(t, 10, blinds.Ante)
	assert.Nil(t, blinds.Next)
}

func TestAutoStartAndEvents(t *testing.T) {
	t.Parallel()
	pub := &recordingPublisher{}
	reg, clock := newTestRegistry(t, func(o *Options) {
		o.AutoStart = true
		o.NextHandDelay = 2 * time.Second
		o.Publisher = pub
	})
	r := headsUp(t, reg)
	ctx := ctxT(t)

	assert.Equal(t, 2*time.Second, advance(t, clock, r))
	require.Equal(t, 1, r.Snapshot().HandCount)

	require.NoError(t, r.Act(ctx, "alice", game.Fold, 0))
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
	ev := pub.published()[0]
	assert.Equal(t, "t1", ev.TableID)
	assert.Equal(t, 1, ev.Number)

	// The next hand is dealt after the delay.
	assert.Equal(t, 2*time.Second, advance(t, clock, r))
	assert.Equal(t, 2, r.Snapshot().HandCount)
}

func TestHarnessOperationsThroughRunner(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)
	r := headsUp(t, reg)
	ctx := ctxT(t)

	require.ErrorIs(t, r.ForceStreetCompletion(ctx), game.ErrWrongPhase)
	require.NoError(t, r.StartHand(ctx))
	require.NoError(t, r.ForceStreetCompletion(ctx))
	assert.Equal(t, game.PhaseFlop, r.Snapshot().Phase)
	require.ErrorIs(t, r.SetBlindLevel(ctx, 5), game.ErrInvalidAction)
}
