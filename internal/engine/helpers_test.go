package engine

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/lox/holdemtable/internal/events"
	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/randutil"
	"github.com/lox/holdemtable/internal/session"
)

const (
	testGrace    = 20 * time.Second
	testDecision = 30 * time.Second
)

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

func newTestRegistry(t *testing.T, mutate func(*Options)) (*Registry, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	return newRegistryWithClock(t, clock, mutate), clock
}

func newRegistryWithClock(t *testing.T, clock quartz.Clock, mutate func(*Options)) *Registry {
	t.Helper()
	logger := quietLogger()
	sessions, err := session.NewManager(session.Options{
		Secret: []byte("test-secret"),
		Grace:  testGrace,
		Clock:  clock,
		Logger: logger,
	})
	require.NoError(t, err)

	opts := Options{
		Clock:           clock,
		Logger:          logger,
		Sessions:        sessions,
		DecisionTimeout: testDecision,
		NewRNG:          func(string) *rand.Rand { return randutil.New(1) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	reg, err := NewRegistry(opts)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}

func cashSpec(id string) TableSpec {
	return TableSpec{
		ID:     id,
		Config: game.TableConfig{Name: id, Seats: 6, MinBuyIn: 20, MaxBuyIn: 500},
		Mode:   game.CashGame,
		Levels: []game.BlindLevel{{SmallBlind: 1, BigBlind: 2}},
	}
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// headsUp creates a table with alice in seat 0 and bob in seat 1.
func headsUp(t *testing.T, reg *Registry) *Runner {
	t.Helper()
	r, err := reg.CreateTable(cashSpec("t1"))
	require.NoError(t, err)
	ctx := ctxT(t)
	require.NoError(t, r.TakeSeat(ctx, "alice", 0, 200))
	require.NoError(t, r.TakeSeat(ctx, "bob", 1, 200))
	return r
}

// advance moves the mock clock to the next timer and waits for the table to
// apply whatever the timer queued.
func advance(t *testing.T, clock *quartz.Mock, r *Runner) time.Duration {
	t.Helper()
	ctx := ctxT(t)
	d, w := clock.AdvanceNext()
	w.MustWait(ctx)
	require.NoError(t, r.Sync(ctx))
	return d
}

func stack(t *testing.T, r *Runner, seat int) int {
	t.Helper()
	return r.Snapshot().Seats[seat].Stack
}

type fakeSub struct {
	id     string
	player string

	mu    sync.Mutex
	views []*game.TableView
	fail  bool
}

func newSub(id, player string) *fakeSub { return &fakeSub{id: id, player: player} }

func (f *fakeSub) ID() string       { return f.id }
func (f *fakeSub) PlayerID() string { return f.player }

func (f *fakeSub) Deliver(v *game.TableView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send buffer full")
	}
	f.views = append(f.views, v)
	return nil
}

func (f *fakeSub) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.views)
}

func (f *fakeSub) last() *game.TableView {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.views) == 0 {
		return nil
	}
	return f.views[len(f.views)-1]
}

type recordingPublisher struct {
	mu    sync.Mutex
	hands []events.HandCompleted
}

func (p *recordingPublisher) PublishHandCompleted(_ context.Context, ev events.HandCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hands = append(p.hands, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.HandCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.HandCompleted(nil), p.hands...)
}
