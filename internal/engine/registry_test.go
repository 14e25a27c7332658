package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/session"
	"github.com/lox/holdemtable/internal/store"
)

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)

	_, err := reg.CreateTable(cashSpec("b"))
	require.NoError(t, err)
	_, err = reg.CreateTable(cashSpec("a"))
	require.NoError(t, err)
	_, err = reg.CreateTable(cashSpec("a"))
	require.ErrorIs(t, err, ErrTableExists)

	bad := cashSpec("c")
	bad.Config.Seats = 1
	_, err = reg.CreateTable(bad)
	require.Error(t, err)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, 6, list[0].Seats)

	r, err := reg.Table("a")
	require.NoError(t, err)
	require.NoError(t, reg.Teardown("a"))
	_, err = reg.Table("a")
	require.ErrorIs(t, err, ErrTableNotFound)
	require.ErrorIs(t, r.Sync(ctxT(t)), ErrTableClosed)
	require.ErrorIs(t, reg.Teardown("a"), ErrTableNotFound)
}

func TestTablesRunIndependently(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, nil)
	ctx := ctxT(t)

	a, err := reg.CreateTable(cashSpec("a"))
	require.NoError(t, err)
	b, err := reg.CreateTable(cashSpec("b"))
	require.NoError(t, err)

	// The same player may sit at two tables.
	require.NoError(t, a.TakeSeat(ctx, "alice", 0, 100))
	require.NoError(t, b.TakeSeat(ctx, "alice", 0, 100))
	require.NoError(t, a.TakeSeat(ctx, "bob", 1, 100))
	require.NoError(t, a.StartHand(ctx))

	assert.True(t, a.Snapshot().Phase.IsBetting())
	assert.Equal(t, game.PhaseIdle, b.Snapshot().Phase)
}

func runWriter(t *testing.T, w *store.Writer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRestoreResumesLiveHand(t *testing.T) {
	t.Parallel()
	mem := store.NewMemoryStore()
	writer := store.NewWriter(mem, quietLogger(), store.WriterOptions{})
	runWriter(t, writer)

	reg, _ := newTestRegistry(t, func(o *Options) { o.Writer = writer })
	r := headsUp(t, reg)
	ctx := ctxT(t)
	sess, err := r.Connect(ctx, "alice", newSub("a1", "alice"))
	require.NoError(t, err)
	require.NoError(t, r.StartHand(ctx))
	require.NoError(t, r.Act(ctx, "alice", game.Call, 0))
	require.NoError(t, writer.Flush(ctx))
	before := r.Snapshot()

	// A second process restores from the same store.
	clock := quartz.NewMock(t)
	restored := newRegistryWithClock(t, clock, func(o *Options) { o.Store = mem })
	r2, err := restored.Restore(ctx, cashSpec("t1"))
	require.NoError(t, err)

	after := r2.Snapshot()
	assert.Equal(t, before.Seq, after.Seq)
	require.NotNil(t, after.Hand)
	assert.Equal(t, before.Hand.ID, after.Hand.ID)
	assert.Equal(t, before.Hand.History, after.Hand.History)
	assert.Equal(t, "bob", after.View("").Hand.ActorID)

	// Sessions come back in a grace period and the old token still resumes.
	s, ok := restored.Sessions().Get("t1", "alice")
	require.True(t, ok)
	assert.Equal(t, session.GracePeriod, s.Status)
	_, err = r2.Reconnect(ctx, sess.Token, newSub("a2", "alice"))
	require.NoError(t, err)

	require.NoError(t, r2.Act(ctx, "bob", game.Check, 0))
	assert.Equal(t, game.PhaseFlop, r2.Snapshot().Phase)
	assert.Greater(t, r2.Snapshot().Seq, before.Seq)
}

func TestRestoreWithoutSnapshotCreatesTable(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, func(o *Options) { o.Store = store.NewMemoryStore() })
	r, err := reg.Restore(ctxT(t), cashSpec("fresh"))
	require.NoError(t, err)
	assert.Empty(t, r.Snapshot().Unavailable)
}

func TestCorruptSnapshotMarksTableUnavailable(t *testing.T) {
	t.Parallel()
	mem := store.NewMemoryStore()
	ctx := ctxT(t)

	src, _ := newTestRegistry(t, nil)
	r := headsUp(t, src)
	b, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)
	var snap game.Snapshot
	require.NoError(t, json.Unmarshal(b, &snap))
	snap.Seats[0].Stack += 50 // chips from nowhere
	require.NoError(t, mem.SaveSnapshot(ctx, "t1", &store.TableState{TableID: "t1", Table: &snap, SavedAt: time.Now()}))

	reg, _ := newTestRegistry(t, func(o *Options) { o.Store = mem })
	restored, err := reg.Restore(ctx, cashSpec("t1"))
	require.NoError(t, err)

	assert.Contains(t, restored.Snapshot().Unavailable, "restore failed")
	require.ErrorIs(t, restored.StartHand(ctx), game.ErrTableUnavailable)
	require.ErrorIs(t, restored.TakeSeat(ctx, "carol", 2, 100), game.ErrTableUnavailable)

	// The stored snapshot is left as it was.
	kept, err := mem.LoadSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 250, kept.Table.Seats[0].Stack)
}

func TestRestoreAll(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, func(o *Options) { o.Store = store.NewMemoryStore() })
	require.NoError(t, reg.RestoreAll(ctxT(t), []TableSpec{cashSpec("x"), cashSpec("y"), cashSpec("z")}))
	assert.Len(t, reg.List(), 3)
}
