package store

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	Clock quartz.Clock
	// Backoff is the delay before the first retry; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// ErrorAfter is the number of consecutive failures after which a table's
	// failures are logged at error level.
	ErrorAfter int
	Timeout    time.Duration
}

// Writer saves table states in the background. Submissions coalesce: only
// the latest pending state of each table is written, and a failing save is
// retried with backoff unless a newer state replaces it.
type Writer struct {
	gw     Gateway
	logger *log.Logger
	opts   WriterOptions

	mu       sync.Mutex
	pending  map[string]*TableState
	order    []string
	failures map[string]int
	inflight int
	wake     chan struct{}
	idle     *sync.Cond
}

func NewWriter(gw Gateway, logger *log.Logger, opts WriterOptions) *Writer {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.ErrorAfter <= 0 {
		opts.ErrorAfter = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	w := &Writer{
		gw:       gw,
		logger:   logger.WithPrefix("writer"),
		opts:     opts,
		pending:  make(map[string]*TableState),
		failures: make(map[string]int),
		wake:     make(chan struct{}, 1),
	}
	w.idle = sync.NewCond(&w.mu)
	return w
}

// Submit queues state for tableID, replacing any state still pending.
func (w *Writer) Submit(tableID string, state *TableState) {
	w.mu.Lock()
	if _, queued := w.pending[tableID]; !queued {
		w.order = append(w.order, tableID)
	}
	w.pending[tableID] = state
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run writes submissions until ctx is cancelled, then makes one last attempt
// to write whatever is still pending.
func (w *Writer) Run(ctx context.Context) error {
	for {
		delay := w.drain(ctx)
		if ctx.Err() != nil {
			w.drain(context.WithoutCancel(ctx))
			return nil
		}
		var (
			retry <-chan time.Time
			timer *quartz.Timer
		)
		if delay > 0 {
			timer = w.opts.Clock.NewTimer(delay, "writer", "retry")
			retry = timer.C
		}
		select {
		case <-ctx.Done():
		case <-w.wake:
		case <-retry:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// drain attempts every pending table once and returns the backoff to wait
// before retrying failures, or zero if nothing failed.
func (w *Writer) drain(ctx context.Context) time.Duration {
	w.mu.Lock()
	order := w.order
	w.order = nil
	batch := make(map[string]*TableState, len(order))
	for _, id := range order {
		batch[id] = w.pending[id]
		delete(w.pending, id)
	}
	w.inflight += len(order)
	w.mu.Unlock()

	var delay time.Duration
	for _, id := range order {
		if d := w.save(ctx, id, batch[id]); d > 0 && (delay == 0 || d < delay) {
			delay = d
		}
	}

	w.mu.Lock()
	w.inflight -= len(order)
	if len(w.pending) == 0 && w.inflight == 0 {
		w.idle.Broadcast()
	}
	w.mu.Unlock()
	return delay
}

func (w *Writer) save(ctx context.Context, tableID string, state *TableState) time.Duration {
	saveCtx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	err := w.gw.SaveSnapshot(saveCtx, tableID, state)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		if w.failures[tableID] > 0 {
			w.logger.Info("Snapshot saved after retry", "table", tableID, "attempts", w.failures[tableID]+1)
		}
		delete(w.failures, tableID)
		return 0
	}

	w.failures[tableID]++
	n := w.failures[tableID]
	if n >= w.opts.ErrorAfter {
		w.logger.Error("Snapshot save failing", "table", tableID, "attempts", n, "error", err)
	} else {
		w.logger.Warn("Snapshot save failed, will retry", "table", tableID, "attempt", n, "error", err)
	}
	// A newer submission supersedes the failed state.
	if _, newer := w.pending[tableID]; !newer {
		w.pending[tableID] = state
		w.order = append(w.order, tableID)
	}

	delay := w.opts.Backoff
	for i := 1; i < n && delay < w.opts.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, w.opts.MaxBackoff)
}

// Pending reports how many tables have an unsaved state.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) + w.inflight
}

// Flush blocks until nothing is pending or ctx is done. Run must be active.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.mu.Lock()
		for len(w.pending) > 0 || w.inflight > 0 {
			if ctx.Err() != nil {
				break
			}
			w.idle.Wait()
		}
		w.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.mu.Lock()
		w.idle.Broadcast()
		w.mu.Unlock()
		return ctx.Err()
	}
}
