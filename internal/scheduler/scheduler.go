// Package scheduler runs a DAG of long-lived collector workers against the
// shared data store. A collector only executes once every plugin group it
// depends on has completed at least one run in the current pass; collectors
// whose dependencies are all satisfied run concurrently as one layer.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/me/harvest/internal/metrics"
	"github.com/me/harvest/internal/store"
)

// Handle identifies one registered collector for the lifetime of a
// Scheduler. Handles are assigned from a counter starting at 1 and are
// never reused, even after removal.
type Handle uint64

// CollectorFn is the unit of work a plugin registers. It receives the
// shared store, which the scheduler passes through without inspecting, and
// the context given to Schedule. Implementations must be safe to keep
// around and call repeatedly from a single goroutine.
type CollectorFn func(ctx context.Context, st store.Store) error

// ErrUnmetDependencies is returned by Schedule when a pass cannot make
// progress: collectors remain whose dependency groups never finished,
// either because the graph has a cycle or because a required group has no
// collectors that run.
var ErrUnmetDependencies = errors.New("scheduler: collectors with unmet dependencies remain")

// Info is a point-in-time snapshot of one registered collector.
type Info struct {
	Handle Handle
	Name   string
	Group  uuid.UUID
}

// Scheduler owns the collector registry and drives dependency-ordered
// passes over it. Registration, removal, introspection, and Schedule may
// race with each other; the registry is internally synchronized.
type Scheduler struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	workers    map[Handle]*worker
	nextHandle Handle
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithMetrics attaches Prometheus instrumentation to the scheduler and its
// workers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a Scheduler over the given shared store.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   st,
		logger:  logger.With("component", "scheduler"),
		workers: make(map[Handle]*worker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a collector under the given group and returns its handle.
// The dependency set is copied and immutable afterwards. Nothing is
// validated against the rest of the graph here: a collector may be
// registered before the groups it depends on have any collectors.
func (s *Scheduler) Add(group uuid.UUID, name string, deps []uuid.UUID, fn CollectorFn) Handle {
	s.mu.Lock()
	s.nextHandle++
	h := s.nextHandle
	s.workers[h] = newWorker(h, group, name, deps, fn, s.logger, s.metrics)
	n := len(s.workers)
	s.mu.Unlock()

	s.metrics.SetRegistered(n)
	s.logger.Info("collector registered", "handle", h, "collector", name, "group", group, "deps", len(deps))
	return h
}

// Remove unregisters the collector and joins its worker goroutine before
// returning. No-op if the handle is unknown.
func (s *Scheduler) Remove(h Handle) {
	s.mu.Lock()
	w, ok := s.workers[h]
	if ok {
		delete(s.workers, h)
	}
	n := len(s.workers)
	s.mu.Unlock()
	if !ok {
		return
	}

	w.terminate()
	s.metrics.SetRegistered(n)
	s.logger.Info("collector removed", "handle", h, "collector", w.name)
}

// RemoveGroup removes and terminates every collector registered under the
// given group, joining each worker goroutine before returning.
func (s *Scheduler) RemoveGroup(group uuid.UUID) {
	s.mu.Lock()
	var removed []*worker
	for h, w := range s.workers {
		if w.group == group {
			delete(s.workers, h)
			removed = append(removed, w)
		}
	}
	n := len(s.workers)
	s.mu.Unlock()

	for _, w := range removed {
		w.terminate()
	}
	if len(removed) > 0 {
		s.metrics.SetRegistered(n)
		s.logger.Info("group removed", "group", group, "collectors", len(removed))
	}
}

// Close terminates every registered worker. The Scheduler must not be used
// afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[Handle]*worker)
	s.mu.Unlock()

	for _, w := range workers {
		w.terminate()
	}
	s.metrics.SetRegistered(0)
}

// Collectors returns a snapshot of all registered collectors in handle
// (registration) order.
func (s *Scheduler) Collectors() []Info {
	return s.snapshot(func(*worker) bool { return true })
}

// GroupCollectors returns a snapshot of the collectors registered under the
// given group, in handle order.
func (s *Scheduler) GroupCollectors(group uuid.UUID) []Info {
	return s.snapshot(func(w *worker) bool { return w.group == group })
}

func (s *Scheduler) snapshot(keep func(*worker) bool) []Info {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.workers))
	for h, w := range s.workers {
		if keep(w) {
			infos = append(infos, Info{Handle: h, Name: w.name, Group: w.group})
		}
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	return infos
}

// State returns the collector's current lifecycle state, or false if the
// handle is unknown. This is a point-in-time read for diagnostics; it races
// with concurrent passes by design.
func (s *Scheduler) State(h Handle) (State, bool) {
	s.mu.RLock()
	w, ok := s.workers[h]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return w.currentState(), true
}

// AllIdle reports whether no registered collector is running at the instant
// of the check. Diagnostics only.
func (s *Scheduler) AllIdle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workers {
		if w.currentState() == StateRunning {
			return false
		}
	}
	return true
}

// Schedule runs every currently-registered collector exactly once, layer by
// layer. A layer is the set of pending collectors whose dependency groups
// have all finished at least one run this pass; the whole layer is
// dispatched before any of it is waited on. A group counts as finished as
// soon as any one of its collectors completes — not all of them.
//
// Schedule blocks until every collector has run or returns
// ErrUnmetDependencies if a layer comes up empty while collectors remain.
// There is no deadline: a collector that never returns blocks its layer and
// the whole pass.
func (s *Scheduler) Schedule(ctx context.Context) (err error) {
	defer func() { s.metrics.ObservePass(err) }()

	s.mu.RLock()
	pending := make(map[Handle]*worker, len(s.workers))
	for h, w := range s.workers {
		pending[h] = w
	}
	s.mu.RUnlock()

	s.logger.Info("schedule pass started", "collectors", len(pending))
	finished := make(map[uuid.UUID]bool)

	for len(pending) > 0 {
		runnable := runnableHandles(pending, finished)
		if len(runnable) == 0 {
			for h, w := range pending {
				s.logger.Error("collector has unmet dependencies",
					"handle", h, "collector", w.name, "group", w.group)
			}
			return ErrUnmetDependencies
		}

		for _, h := range runnable {
			pending[h].run(ctx, s.store)
		}
		for _, h := range runnable {
			pending[h].awaitIdle()
		}

		for _, h := range runnable {
			finished[pending[h].group] = true
			delete(pending, h)
		}
		s.logger.Debug("layer finished", "size", len(runnable), "remaining", len(pending))
	}

	s.logger.Info("schedule pass finished")
	return nil
}

// runnableHandles returns, in handle order, the pending collectors whose
// dependency groups have all finished at least one run this pass.
func runnableHandles(pending map[Handle]*worker, finished map[uuid.UUID]bool) []Handle {
	var runnable []Handle
	for h, w := range pending {
		ready := true
		for _, dep := range w.deps {
			if !finished[dep] {
				ready = false
				break
			}
		}
		if ready {
			runnable = append(runnable, h)
		}
	}
	sort.Slice(runnable, func(i, j int) bool { return runnable[i] < runnable[j] })
	return runnable
}
