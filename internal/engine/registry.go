package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/holdemtable/internal/events"
	"github.com/lox/holdemtable/internal/game"
	"github.com/lox/holdemtable/internal/session"
	"github.com/lox/holdemtable/internal/store"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
)

// Options configures a Registry and every table it runs.
type Options struct {
	Clock    quartz.Clock
	Logger   *log.Logger
	Sessions *session.Manager
	// Store is read when restoring tables; Writer receives every commit.
	// Either may be nil.
	Store     store.Gateway
	Writer    *store.Writer
	Publisher events.Publisher

	DecisionTimeout time.Duration
	ReserveTTL      time.Duration
	// AutoStart deals the next hand NextHandDelay after a table becomes ready.
	AutoStart     bool
	NextHandDelay time.Duration

	// NewRNG returns the shuffle source for a table. Defaults to a
	// crypto-seeded source.
	NewRNG func(tableID string) *rand.Rand
}

const (
	DefaultDecisionTimeout = 30 * time.Second
	DefaultReserveTTL      = time.Minute
	DefaultNextHandDelay   = 3 * time.Second
)

// TableSpec describes a table to create.
type TableSpec struct {
	ID     string
	Config game.TableConfig
	Mode   game.ScheduleMode
	// Levels holds one level for cash games, the full schedule for tournaments.
	Levels []game.BlindLevel
}

func (s TableSpec) schedule(clock quartz.Clock) (*game.BlindSchedule, error) {
	if len(s.Levels) == 0 {
		return nil, fmt.Errorf("table %s: no blind levels", s.ID)
	}
	if s.Mode == game.Tournament {
		return game.NewTournamentSchedule(s.Levels, clock)
	}
	return game.NewCashSchedule(s.Levels[0], clock), nil
}

// TableSummary is a listing entry.
type TableSummary struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Seats       int               `json:"seats"`
	Occupied    int               `json:"occupied"`
	Phase       game.Phase        `json:"phase"`
	HandCount   int               `json:"handCount"`
	Blinds      game.BlindSummary `json:"blinds"`
	MinBuyIn    int               `json:"minBuyIn"`
	MaxBuyIn    int               `json:"maxBuyIn"`
	Unavailable string            `json:"unavailable,omitempty"`
}

// Registry owns the running tables of one process.
type Registry struct {
	opts   Options
	logger *log.Logger

	mu      sync.RWMutex
	runners map[string]*Runner
}

// NewRegistry returns an empty registry. Sessions is required.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Sessions == nil {
		return nil, errors.New("engine: session manager is required")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.DecisionTimeout <= 0 {
		opts.DecisionTimeout = DefaultDecisionTimeout
	}
	if opts.ReserveTTL <= 0 {
		opts.ReserveTTL = DefaultReserveTTL
	}
	if opts.NextHandDelay <= 0 {
		opts.NextHandDelay = DefaultNextHandDelay
	}
	reg := &Registry{
		opts:    opts,
		logger:  opts.Logger.WithPrefix("registry"),
		runners: make(map[string]*Runner),
	}
	opts.Sessions.SetExpireHandler(reg.expire)
	return reg, nil
}

func (reg *Registry) tableOptions(id string) []game.Option {
	opts := []game.Option{game.WithClock(reg.opts.Clock)}
	if reg.opts.NewRNG != nil {
		opts = append(opts, game.WithRNG(reg.opts.NewRNG(id)))
	}
	return opts
}

func (reg *Registry) newTable(spec TableSpec) (*game.Table, error) {
	schedule, err := spec.schedule(reg.opts.Clock)
	if err != nil {
		return nil, err
	}
	return game.NewTable(spec.ID, spec.Config, schedule, reg.tableOptions(spec.ID)...)
}

// CreateTable registers and starts a fresh table.
func (reg *Registry) CreateTable(spec TableSpec) (*Runner, error) {
	table, err := reg.newTable(spec)
	if err != nil {
		return nil, err
	}
	r, err := reg.add(table, 0)
	if err != nil {
		return nil, err
	}
	reg.logger.Info("Table created", "table", spec.ID, "name", spec.Config.Name, "mode", table.Schedule().Mode())
	return r, nil
}

// Restore rebuilds the table from the store when a snapshot exists and
// creates it fresh otherwise. A snapshot that cannot be restored leaves the
// table registered but unavailable.
func (reg *Registry) Restore(ctx context.Context, spec TableSpec) (*Runner, error) {
	if reg.opts.Store == nil {
		return reg.CreateTable(spec)
	}
	state, err := reg.opts.Store.LoadSnapshot(ctx, spec.ID)
	if errors.Is(err, store.ErrNotFound) {
		return reg.CreateTable(spec)
	}
	if err == nil {
		var table *game.Table
		table, err = game.RestoreTable(state.Table, reg.tableOptions(spec.ID)...)
		if err == nil {
			if err := reg.opts.Sessions.Restore(state.Sessions); err != nil {
				reg.logger.Warn("Sessions not restored", "table", spec.ID, "error", err)
			}
			r, err := reg.add(table, state.Table.Seq)
			if err != nil {
				return nil, err
			}
			reg.logger.Info("Table restored", "table", spec.ID, "hand", table.HandCount(),
				"phase", table.Phase(), "sessions", len(state.Sessions))
			return r, nil
		}
	}

	reg.logger.Error("Table restore failed", "table", spec.ID, "error", err)
	table, cerr := reg.newTable(spec)
	if cerr != nil {
		return nil, cerr
	}
	table.MarkUnavailable("restore failed: " + err.Error())
	return reg.add(table, 0)
}

// RestoreAll restores every spec concurrently.
func (reg *Registry) RestoreAll(ctx context.Context, specs []TableSpec) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		g.Go(func() error {
			_, err := reg.Restore(ctx, spec)
			return err
		})
	}
	return g.Wait()
}

func (reg *Registry) add(table *game.Table, seq uint64) (*Runner, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.runners[table.ID()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, table.ID())
	}
	r := newRunner(table, seq, &reg.opts)
	reg.runners[table.ID()] = r
	r.start()
	return r, nil
}

// Table returns the runner for id.
func (reg *Registry) Table(id string) (*Runner, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.runners[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	return r, nil
}

// List summarises every table from its latest committed snapshot.
func (reg *Registry) List() []TableSummary {
	reg.mu.RLock()
	runners := make([]*Runner, 0, len(reg.runners))
	for _, r := range reg.runners {
		runners = append(runners, r)
	}
	reg.mu.RUnlock()

	out := make([]TableSummary, 0, len(runners))
	for _, r := range runners {
		s := r.Snapshot()
		sum := TableSummary{
			ID:          s.TableID,
			Name:        s.Config.Name,
			Seats:       s.Config.Seats,
			Phase:       s.Phase,
			HandCount:   s.HandCount,
			Blinds:      s.Blinds,
			MinBuyIn:    s.Config.MinBuyIn,
			MaxBuyIn:    s.Config.MaxBuyIn,
			Unavailable: s.Unavailable,
		}
		for _, seat := range s.Seats {
			if seat.State == game.SeatOccupied {
				sum.Occupied++
			}
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b TableSummary) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Sessions returns the session manager shared by every table.
func (reg *Registry) Sessions() *session.Manager { return reg.opts.Sessions }

// Teardown stops the table and forgets its sessions. Its last committed
// state stays in the store.
func (reg *Registry) Teardown(id string) error {
	reg.mu.Lock()
	r, ok := reg.runners[id]
	delete(reg.runners, id)
	reg.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	r.stop()
	for _, rec := range reg.opts.Sessions.Records(id) {
		reg.opts.Sessions.Remove(id, rec.PlayerID)
	}
	reg.logger.Info("Table torn down", "table", id)
	return nil
}

// Close stops every table.
func (reg *Registry) Close() {
	reg.mu.Lock()
	runners := reg.runners
	reg.runners = make(map[string]*Runner)
	reg.mu.Unlock()

	for _, r := range runners {
		r.stop()
	}
	reg.opts.Sessions.Close()
}

func (reg *Registry) expire(tableID, playerID string) {
	r, err := reg.Table(tableID)
	if err != nil {
		return
	}
	r.expireSession(playerID)
}
