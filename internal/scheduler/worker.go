package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/harvest/internal/metrics"
	"github.com/me/harvest/internal/store"
)

type cmdKind int

const (
	cmdRun cmdKind = iota
	cmdTerminate
)

// command is one message on a worker's FIFO queue.
type command struct {
	kind cmdKind
	ctx  context.Context
	st   store.Store
}

// commandQueueSize bounds how many runs can queue behind an in-flight one.
// The scheduler itself enqueues at most one run per worker per pass.
const commandQueueSize = 16

// worker owns the goroutine bound to exactly one collector. It receives
// run/terminate commands over a strictly FIFO channel and publishes its
// lifecycle state through a cond-guarded state cell so other goroutines can
// block on transitions instead of polling.
type worker struct {
	handle Handle
	name   string
	group  uuid.UUID
	deps   []uuid.UUID
	fn     CollectorFn

	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	cmds chan command
	done chan struct{}
}

func newWorker(h Handle, group uuid.UUID, name string, deps []uuid.UUID, fn CollectorFn, logger *slog.Logger, m *metrics.Metrics) *worker {
	w := &worker{
		handle:  h,
		name:    name,
		group:   group,
		deps:    append([]uuid.UUID(nil), deps...),
		fn:      fn,
		logger:  logger,
		metrics: m,
		state:   StateIdle,
		cmds:    make(chan command, commandQueueSize),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

// loop is the worker goroutine body. It processes commands in arrival order
// until a terminate command is dequeued; runs queued ahead of the terminate
// are still executed first.
func (w *worker) loop() {
	defer close(w.done)
	for cmd := range w.cmds {
		switch cmd.kind {
		case cmdRun:
			w.setState(StateRunning)
			start := time.Now()
			err := w.fn(cmd.ctx, cmd.st)
			w.metrics.ObserveRun(w.name, time.Since(start), err)
			if err != nil {
				// A collector failure is reported here and goes no further;
				// the pass continues as if the run had succeeded.
				w.logger.Warn("collector run failed", "collector", w.name, "error", err)
			} else {
				w.logger.Debug("collector run finished", "collector", w.name, "duration", time.Since(start))
			}
			w.setState(StateIdle)
		case cmdTerminate:
			w.setState(StateTerminated)
			return
		}
	}
}

// run enqueues one execution of the collector against st. If a run is
// already in flight the new command queues behind it; a worker never
// executes concurrently with itself. No-op once the worker is terminated.
func (w *worker) run(ctx context.Context, st store.Store) {
	w.mu.Lock()
	if w.state == StateTerminated {
		w.mu.Unlock()
		return
	}
	w.state = StateScheduled
	w.cond.Broadcast()
	w.mu.Unlock()

	w.cmds <- command{kind: cmdRun, ctx: ctx, st: st}
}

// terminate enqueues the terminate command and joins the worker goroutine.
// Only the owning scheduler calls this, exactly once, after the worker has
// been unlinked from the registry.
func (w *worker) terminate() {
	w.cmds <- command{kind: cmdTerminate}
	<-w.done
}

// awaitIdle blocks until the worker reports Idle, or Terminated if it was
// removed out from under a concurrent pass. Waiters loop on the predicate,
// so spurious wakeups are harmless.
func (w *worker) awaitIdle() {
	w.mu.Lock()
	for w.state != StateIdle && w.state != StateTerminated {
		w.cond.Wait()
	}
	w.mu.Unlock()
}

func (w *worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *worker) currentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
