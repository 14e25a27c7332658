// Package engine runs tables. Each table is owned by a single goroutine that
// applies commands one at a time; timers, transport requests and session
// expiries all reach the table as commands on the same queue.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/holdemtable/internal/events"
	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/session"
	"github.com/lox/holdemtable/internal/store"
	"github.com/lox/holdemtable/poker"
)

var ErrTableClosed = errors.New("table closed")

// errUnchanged is returned by commands that left the table untouched; the
// runner skips the commit and the caller sees nil.
var errUnchanged = errors.New("unchanged")

// Subscriber receives the full table state after every commit. Deliver must
// not block; an error drops the subscriber.
type Subscriber interface {
	ID() string
	// PlayerID is the viewer whose hole cards are visible, or "" for a spectator.
	PlayerID() string
	Deliver(view *game.TableView) error
}

type command struct {
	fn    func(t *game.Table) error
	reply chan error
}

// Runner serializes every mutation of one table.
type Runner struct {
	id     string
	table  *game.Table
	opts   *Options
	clock  quartz.Clock
	logger *log.Logger

	cmds    chan command
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	snap atomic.Pointer[game.Snapshot]
	seq  uint64

	// Owned by the loop goroutine.
	subs          map[string]Subscriber
	turn          game.Turn
	decision      *quartz.Timer
	decisionArmed bool
	blindArmed    bool
	nextHand      *quartz.Timer

	hands     chan events.HandCompleted
	published sync.WaitGroup
}

func newRunner(table *game.Table, seq uint64, opts *Options) *Runner {
	r := &Runner{
		id:      table.ID(),
		table:   table,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.WithPrefix("table").With("table", table.ID()),
		cmds:    make(chan command, 64),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		subs:    make(map[string]Subscriber),
		seq:     seq,
		hands:   make(chan events.HandCompleted, 64),
	}
	snap := table.Snapshot()
	snap.Seq = seq
	r.snap.Store(snap)
	return r
}

func (r *Runner) start() {
	r.published.Add(1)
	go r.publishLoop()
	go r.loop()
	r.enqueue(func(*game.Table) error { return errUnchanged })
}

func (r *Runner) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.quit:
			return
		case cmd := <-r.cmds:
			err := r.apply(cmd.fn)
			if cmd.reply != nil {
				cmd.reply <- err
			}
		}
	}
}

func (r *Runner) apply(fn func(*game.Table) error) error {
	err := fn(r.table)
	switch {
	case errors.Is(err, errUnchanged):
		err = nil
	case err == nil:
		r.commit()
	default:
		r.logger.Debug("Command rejected", "error", err)
	}
	r.syncTimers()
	return err
}

// do runs fn on the table goroutine and waits for its result.
func (r *Runner) do(ctx context.Context, fn func(*game.Table) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
	case <-r.quit:
		return ErrTableClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-r.stopped:
		return ErrTableClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue posts fn without waiting. Timer callbacks use it.
func (r *Runner) enqueue(fn func(*game.Table) error) {
	select {
	case r.cmds <- command{fn: fn}:
	case <-r.quit:
	}
}

func (r *Runner) commit() {
	if err := r.table.CheckConservation(); err != nil {
		if _, down := r.table.Unavailable(); !down {
			r.table.MarkUnavailable(err.Error())
			r.logger.Error("Table marked unavailable", "error", err)
		}
	}
	for _, h := range r.table.TakeCompletedHands() {
		r.logger.Info("Hand completed", "hand", h.Number, "board", poker.NewHand(h.Board...), "pots", len(h.Results))
		select {
		case r.hands <- events.NewHandCompleted(r.id, h):
		default:
			r.logger.Warn("Event queue full, dropping hand event", "hand", h.Number)
		}
	}

	r.seq++
	snap := r.table.Snapshot()
	snap.Seq = r.seq
	r.snap.Store(snap)

	// Unavailable tables are not persisted; the last good snapshot stays.
	if _, down := r.table.Unavailable(); !down && r.opts.Writer != nil {
		r.opts.Writer.Submit(r.id, &store.TableState{
			TableID:  r.id,
			Table:    snap,
			Sessions: r.opts.Sessions.Records(r.id),
			SavedAt:  r.clock.Now(),
		})
	}
	r.broadcast(snap)
}

func (r *Runner) broadcast(snap *game.Snapshot) {
	for id, sub := range r.subs {
		if err := sub.Deliver(snap.View(sub.PlayerID())); err != nil {
			r.logger.Warn("Dropping subscriber", "conn", id, "player", sub.PlayerID(), "error", err)
			delete(r.subs, id)
		}
	}
}

func (r *Runner) publishLoop() {
	defer r.published.Done()
	for ev := range r.hands {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.opts.Publisher.PublishHandCompleted(ctx, ev); err != nil {
			r.logger.Warn("Hand event not published", "hand", ev.Number, "error", err)
		}
		cancel()
	}
}

func (r *Runner) syncTimers() {
	r.syncDecisionTimer()
	r.syncBlindTimer()
	r.syncNextHand()
}

// syncDecisionTimer keeps one decision timer armed for the current turn. The
// timer is suspended while the actor is inside a reconnection grace period.
func (r *Runner) syncDecisionTimer() {
	turn, ok := r.table.CurrentTurn()
	if _, down := r.table.Unavailable(); down || (ok && r.awaitingReconnect(turn.PlayerID)) {
		ok = false
	}
	if !ok {
		r.stopDecision()
		return
	}
	if r.decisionArmed && r.turn == turn {
		return
	}
	r.stopDecision()
	r.turn, r.decisionArmed = turn, true
	r.decision = r.clock.AfterFunc(r.opts.DecisionTimeout, func() {
		r.enqueue(func(t *game.Table) error { return r.decisionExpired(t, turn) })
	}, "decision", r.id)
}

func (r *Runner) stopDecision() {
	if r.decision != nil {
		r.decision.Stop()
		r.decision = nil
	}
	r.decisionArmed = false
}

func (r *Runner) awaitingReconnect(playerID string) bool {
	s, ok := r.opts.Sessions.Get(r.id, playerID)
	return ok && s.Status == session.GracePeriod
}

// decisionExpired forces the default action, unless the turn it was armed
// for has already been played.
func (r *Runner) decisionExpired(t *game.Table, turn game.Turn) error {
	if cur, ok := t.CurrentTurn(); !ok || cur != turn {
		return errUnchanged
	}
	kind, err := t.ForceDefault(turn.PlayerID)
	if err != nil {
		return err
	}
	r.logger.Warn("Decision timed out", "player", turn.PlayerID, "seat", turn.Seat, "action", kind)
	return nil
}

func (r *Runner) syncBlindTimer() {
	if r.blindArmed {
		return
	}
	r.blindArmed = true
	r.table.Schedule().ArmTimer(func(gen uint64) {
		r.enqueue(func(t *game.Table) error {
			level, ok := t.Schedule().Expire(gen)
			if !ok {
				return errUnchanged
			}
			r.blindArmed = false
			r.logger.Info("Blind level advanced", "level", level.Level,
				"small", level.SmallBlind, "big", level.BigBlind, "ante", level.Ante)
			return nil
		})
	})
}

func (r *Runner) syncNextHand() {
	if !r.opts.AutoStart || !r.table.Ready() {
		if r.nextHand != nil {
			r.nextHand.Stop()
			r.nextHand = nil
		}
		return
	}
	if r.nextHand != nil {
		return
	}
	r.nextHand = r.clock.AfterFunc(r.opts.NextHandDelay, func() {
		r.enqueue(func(t *game.Table) error {
			r.nextHand = nil
			if !t.Ready() {
				return errUnchanged
			}
			if err := t.StartHand(); err != nil {
				r.logger.Warn("Automatic hand start failed", "error", err)
				return errUnchanged
			}
			r.logger.Info("Hand started", "hand", t.HandCount())
			return nil
		})
	}, "next-hand", r.id)
}

func (r *Runner) stop() {
	r.once.Do(func() {
		close(r.quit)
		<-r.stopped
		r.stopDecision()
		if r.nextHand != nil {
			r.nextHand.Stop()
			r.nextHand = nil
		}
		r.table.Schedule().StopTimer()
		r.subs = nil
		close(r.hands)
		r.published.Wait()
	})
}

// ID returns the table id.
func (r *Runner) ID() string { return r.id }

// Snapshot returns the latest committed state. It never waits on the table
// goroutine.
func (r *Runner) Snapshot() *game.Snapshot { return r.snap.Load() }

// View returns the latest committed state as seen by playerID.
func (r *Runner) View(playerID string) *game.TableView { return r.Snapshot().View(playerID) }

// Sync waits until every command queued before it has been applied.
func (r *Runner) Sync(ctx context.Context) error {
	return r.do(ctx, func(*game.Table) error { return errUnchanged })
}

func (r *Runner) Join(ctx context.Context, playerID string) (*game.TableView, error) {
	err := r.do(ctx, func(t *game.Table) error {
		t.Join(playerID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.View(playerID), nil
}

func (r *Runner) ReserveSeat(ctx context.Context, playerID string, seat int) error {
	return r.do(ctx, func(t *game.Table) error {
		return t.ReserveSeat(playerID, seat, r.opts.ReserveTTL)
	})
}

func (r *Runner) TakeSeat(ctx context.Context, playerID string, seat, buyIn int) error {
	return r.do(ctx, func(t *game.Table) error {
		if err := t.TakeSeat(playerID, seat, buyIn); err != nil {
			return err
		}
		r.logger.Info("Player seated", "player", playerID, "seat", seat, "buyIn", buyIn)
		return nil
	})
}

// LeaveSeat returns the chips cashed out. A player all-in in the running hand
// is cashed out when it completes and gets 0 here.
func (r *Runner) LeaveSeat(ctx context.Context, playerID string) (int, error) {
	var cash int
	err := r.do(ctx, func(t *game.Table) error {
		var err error
		if cash, err = t.LeaveSeat(playerID); err != nil {
			return err
		}
		r.logger.Info("Player left", "player", playerID, "cashOut", cash)
		return nil
	})
	return cash, err
}

func (r *Runner) ChangeSeat(ctx context.Context, playerID string, seat int) error {
	return r.do(ctx, func(t *game.Table) error { return t.ChangeSeat(playerID, seat) })
}

func (r *Runner) SitOut(ctx context.Context, playerID string) error {
	return r.do(ctx, func(t *game.Table) error { return t.SitOut(playerID) })
}

func (r *Runner) SitIn(ctx context.Context, playerID string) error {
	return r.do(ctx, func(t *game.Table) error { return t.SitIn(playerID) })
}

func (r *Runner) StartHand(ctx context.Context) error {
	return r.do(ctx, func(t *game.Table) error {
		if err := t.StartHand(); err != nil {
			return err
		}
		r.logger.Info("Hand started", "hand", t.HandCount())
		return nil
	})
}

func (r *Runner) Act(ctx context.Context, playerID string, kind game.ActionKind, amount int) error {
	return r.do(ctx, func(t *game.Table) error {
		if err := t.Act(playerID, kind, amount); err != nil {
			return err
		}
		r.logger.Debug("Action", "player", playerID, "kind", kind, "amount", amount)
		return nil
	})
}

// Subscribe adds sub to the table's publish set and delivers the current
// state to it.
func (r *Runner) Subscribe(ctx context.Context, sub Subscriber) error {
	return r.do(ctx, func(t *game.Table) error {
		r.addSubscriber(sub)
		return errUnchanged
	})
}

func (r *Runner) addSubscriber(sub Subscriber) {
	if err := sub.Deliver(r.Snapshot().View(sub.PlayerID())); err != nil {
		r.logger.Warn("Subscriber rejected initial state", "conn", sub.ID(), "error", err)
		return
	}
	r.subs[sub.ID()] = sub
}

func (r *Runner) Unsubscribe(ctx context.Context, sub Subscriber) error {
	return r.do(ctx, func(*game.Table) error {
		delete(r.subs, sub.ID())
		return errUnchanged
	})
}

// Connect starts a fresh session for playerID on sub and subscribes it. A
// seated player who was sat out by an expired session is dealt back in. The
// decision timer is only re-armed if the grace period had suspended it.
func (r *Runner) Connect(ctx context.Context, playerID string, sub Subscriber) (session.Session, error) {
	var sess session.Session
	err := r.do(ctx, func(t *game.Table) error {
		prev, had := r.opts.Sessions.Get(r.id, playerID)
		s, err := r.opts.Sessions.Connect(r.id, playerID, sub)
		if err != nil {
			return err
		}
		sess = s
		r.replaceSubscriber(sub)
		t.Join(playerID)
		if had && prev.Status == session.Expired {
			if seat, ok := t.SeatOf(playerID); ok {
				if st, _ := t.Seat(seat); st.SittingOut && st.Stack > 0 {
					_ = t.SitIn(playerID)
				}
			}
		}
		return nil
	})
	return sess, err
}

// Reconnect resumes the session named by token on sub. A decision suspended
// by the grace period is re-delivered with a full timeout; reconnecting a
// session that is still connected leaves a running decision timer alone.
func (r *Runner) Reconnect(ctx context.Context, token string, sub Subscriber) (session.Session, error) {
	var sess session.Session
	err := r.do(ctx, func(*game.Table) error {
		s, err := r.opts.Sessions.Reconnect(token, sub)
		if err != nil {
			return err
		}
		if s.TableID != r.id {
			return session.ErrInvalidToken
		}
		sess = s
		r.replaceSubscriber(sub)
		return nil
	})
	return sess, err
}

// replaceSubscriber drops any other connection of the same player.
func (r *Runner) replaceSubscriber(sub Subscriber) {
	for id, old := range r.subs {
		if id != sub.ID() && sub.PlayerID() != "" && old.PlayerID() == sub.PlayerID() {
			delete(r.subs, id)
		}
	}
	r.subs[sub.ID()] = sub
}

// Disconnect unsubscribes sub and starts the player's grace period if sub
// was their current connection.
func (r *Runner) Disconnect(ctx context.Context, sub Subscriber) error {
	return r.do(ctx, func(*game.Table) error {
		delete(r.subs, sub.ID())
		if sub.PlayerID() == "" || !r.opts.Sessions.Disconnect(r.id, sub.PlayerID(), sub) {
			return errUnchanged
		}
		return nil
	})
}

// expireSession applies a lapsed grace period: one default action if the
// player is to act, then the seat sits out. It does nothing if the player
// connected again before the command ran.
func (r *Runner) expireSession(playerID string) {
	r.enqueue(func(t *game.Table) error {
		if s, ok := r.opts.Sessions.Get(r.id, playerID); !ok || s.Status != session.Expired {
			return errUnchanged
		}
		changed := false
		if turn, ok := t.CurrentTurn(); ok && turn.PlayerID == playerID {
			kind, err := t.ForceDefault(playerID)
			if err != nil {
				r.logger.Warn("Default action failed", "player", playerID, "error", err)
			} else {
				r.logger.Info("Forced default action", "player", playerID, "action", kind)
				changed = true
			}
		}
		if err := t.SitOut(playerID); err == nil {
			changed = true
		}
		if !changed {
			return errUnchanged
		}
		return nil
	})
}

func (r *Runner) InjectDeck(ctx context.Context, cards []poker.Card) error {
	return r.do(ctx, func(t *game.Table) error { return t.InjectDeck(cards) })
}

func (r *Runner) SetBlindLevel(ctx context.Context, level int) error {
	return r.do(ctx, func(t *game.Table) error {
		if err := t.SetBlindLevel(level); err != nil {
			return err
		}
		r.blindArmed = false
		return nil
	})
}

func (r *Runner) ForceStreetCompletion(ctx context.Context) error {
	return r.do(ctx, func(t *game.Table) error { return t.ForceStreetCompletion() })
}
