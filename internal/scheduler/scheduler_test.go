package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/me/harvest/internal/logging"
	"github.com/me/harvest/internal/store"
	"github.com/me/harvest/pkg/model"
)

// testSched creates a Scheduler over an in-memory store.
func testSched(t *testing.T) *Scheduler {
	t.Helper()
	logger := logging.Discard()

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	s := New(st, logger)
	t.Cleanup(s.Close)
	return s
}

// sequenceRecorder appends collector names in completion order.
type sequenceRecorder struct {
	mu  sync.Mutex
	seq []string
}

func (r *sequenceRecorder) fn(name string) CollectorFn {
	return func(ctx context.Context, st store.Store) error {
		r.mu.Lock()
		r.seq = append(r.seq, name)
		r.mu.Unlock()
		return nil
	}
}

func (r *sequenceRecorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seq...)
}

func noop(ctx context.Context, st store.Store) error { return nil }

func TestSchedule_RunCompleteness(t *testing.T) {
	s := testSched(t)
	rec := &sequenceRecorder{}

	for i := 0; i < 5; i++ {
		s.Add(uuid.New(), fmt.Sprintf("c%d", i), nil, rec.fn(fmt.Sprintf("c%d", i)))
	}

	if err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := len(rec.sequence()); got != 5 {
		t.Errorf("ran %d collectors, want 5", got)
	}

	for _, info := range s.Collectors() {
		state, ok := s.State(info.Handle)
		if !ok {
			t.Fatalf("State(%d) missing", info.Handle)
		}
		if state != StateIdle {
			t.Errorf("collector %s state = %s, want idle", info.Name, state)
		}
	}
}

func TestSchedule_OrderingSafety(t *testing.T) {
	s := testSched(t)
	rec := &sequenceRecorder{}

	g1 := uuid.New()
	g2 := uuid.New()
	s.Add(g2, "B", []uuid.UUID{g1}, rec.fn("B"))
	s.Add(g1, "A", nil, rec.fn("A"))

	if err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	seq := rec.sequence()
	if len(seq) != 2 || seq[0] != "A" || seq[1] != "B" {
		t.Errorf("sequence = %v, want [A B]", seq)
	}
}

func TestSchedule_DiamondOrdering(t *testing.T) {
	s := testSched(t)
	rec := &sequenceRecorder{}

	root := uuid.New()
	left := uuid.New()
	right := uuid.New()
	sink := uuid.New()
	s.Add(root, "root", nil, rec.fn("root"))
	s.Add(left, "left", []uuid.UUID{root}, rec.fn("left"))
	s.Add(right, "right", []uuid.UUID{root}, rec.fn("right"))
	s.Add(sink, "sink", []uuid.UUID{left, right}, rec.fn("sink"))

	if err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	seq := rec.sequence()
	if len(seq) != 4 {
		t.Fatalf("sequence = %v, want 4 entries", seq)
	}
	if seq[0] != "root" || seq[3] != "sink" {
		t.Errorf("sequence = %v, want root first and sink last", seq)
	}
}

// TestSchedule_LayerConcurrency pins down that a whole layer is dispatched
// before any of it is waited on: each collector blocks until the other has
// started, which deadlocks under serial execution.
func TestSchedule_LayerConcurrency(t *testing.T) {
	s := testSched(t)

	aStarted := make(chan struct{})
	bStarted := make(chan struct{})

	s.Add(uuid.New(), "a", nil, func(ctx context.Context, st store.Store) error {
		close(aStarted)
		select {
		case <-bStarted:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("peer never started")
		}
	})
	s.Add(uuid.New(), "b", nil, func(ctx context.Context, st store.Store) error {
		close(bStarted)
		select {
		case <-aStarted:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("peer never started")
		}
	})

	done := make(chan error, 1)
	go func() { done <- s.Schedule(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Schedule did not finish; layer was not dispatched concurrently")
	}
}

// TestSchedule_AnyCollectorSatisfiesGroup verifies that a dependency on a
// group is satisfied once any collector of that group completes, not all of
// them: the dependent runs in the layer right after the group's first
// collector, alongside the group's slower second collector.
func TestSchedule_AnyCollectorSatisfiesGroup(t *testing.T) {
	s := testSched(t)
	rec := &sequenceRecorder{}

	producers := uuid.New()
	consumer := uuid.New()
	s.Add(producers, "fast", nil, rec.fn("fast"))
	s.Add(producers, "slow", []uuid.UUID{consumer}, rec.fn("slow"))
	s.Add(consumer, "dependent", []uuid.UUID{producers}, rec.fn("dependent"))

	if err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// "dependent" must not be stuck behind "slow" (which itself waits on
	// the consumer group). If group satisfaction required all collectors,
	// this graph would be reported as a cycle.
	seq := rec.sequence()
	if len(seq) != 3 {
		t.Fatalf("sequence = %v, want 3 entries", seq)
	}
	if seq[0] != "fast" || seq[1] != "dependent" || seq[2] != "slow" {
		t.Errorf("sequence = %v, want [fast dependent slow]", seq)
	}
}

func TestSchedule_CycleReturnsError(t *testing.T) {
	s := testSched(t)

	g1 := uuid.New()
	g2 := uuid.New()
	s.Add(g1, "one", []uuid.UUID{g2}, noop)
	s.Add(g2, "two", []uuid.UUID{g1}, noop)

	done := make(chan error, 1)
	go func() { done <- s.Schedule(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrUnmetDependencies) {
			t.Errorf("Schedule = %v, want ErrUnmetDependencies", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule hung on a cyclic graph")
	}
}

func TestSchedule_MissingGroupReturnsError(t *testing.T) {
	s := testSched(t)
	rec := &sequenceRecorder{}

	ghost := uuid.New() // no collectors ever registered under this group
	s.Add(uuid.New(), "free", nil, rec.fn("free"))
	s.Add(uuid.New(), "stuck", []uuid.UUID{ghost}, rec.fn("stuck"))

	err := s.Schedule(context.Background())
	if !errors.Is(err, ErrUnmetDependencies) {
		t.Errorf("Schedule = %v, want ErrUnmetDependencies", err)
	}

	// Collectors in earlier layers did run; their effects persist.
	seq := rec.sequence()
	if len(seq) != 1 || seq[0] != "free" {
		t.Errorf("sequence = %v, want [free]", seq)
	}
}

func TestRemove(t *testing.T) {
	s := testSched(t)
	rec := &sequenceRecorder{}

	h := s.Add(uuid.New(), "doomed", nil, rec.fn("doomed"))
	s.Add(uuid.New(), "kept", nil, rec.fn("kept"))

	s.Remove(h)

	if _, ok := s.State(h); ok {
		t.Error("State returned ok for a removed handle")
	}
	if err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	for _, name := range rec.sequence() {
		if name == "doomed" {
			t.Error("removed collector was scheduled")
		}
	}

	// Removing an absent handle is a no-op.
	s.Remove(h)
}

func TestRemoveGroup(t *testing.T) {
	s := testSched(t)

	g1 := uuid.New()
	g2 := uuid.New()
	s.Add(g1, "g1-a", nil, noop)
	s.Add(g1, "g1-b", nil, noop)
	h := s.Add(g2, "g2-a", nil, noop)

	s.RemoveGroup(g1)

	if got := len(s.GroupCollectors(g1)); got != 0 {
		t.Errorf("g1 collectors = %d, want 0", got)
	}
	infos := s.Collectors()
	if len(infos) != 1 || infos[0].Handle != h {
		t.Errorf("Collectors = %+v, want only g2-a", infos)
	}
}

func TestHandles_MonotonicNeverReused(t *testing.T) {
	s := testSched(t)

	h1 := s.Add(uuid.New(), "first", nil, noop)
	if h1 != 1 {
		t.Errorf("first handle = %d, want 1", h1)
	}
	s.Remove(h1)

	h2 := s.Add(uuid.New(), "second", nil, noop)
	if h2 <= h1 {
		t.Errorf("handle %d reused or non-monotonic after %d", h2, h1)
	}
}

func TestSchedule_TwicePerRegistration(t *testing.T) {
	s := testSched(t)
	rec := &sequenceRecorder{}

	g1 := uuid.New()
	g2 := uuid.New()
	s.Add(g1, "A", nil, rec.fn("A"))
	s.Add(g2, "B", []uuid.UUID{g1}, rec.fn("B"))

	for i := 0; i < 2; i++ {
		if err := s.Schedule(context.Background()); err != nil {
			t.Fatalf("Schedule #%d: %v", i+1, err)
		}
	}

	seq := rec.sequence()
	if len(seq) != 4 {
		t.Fatalf("sequence = %v, want 4 runs (2 collectors x 2 passes)", seq)
	}
	// finished_groups does not leak across passes: order holds both times.
	if seq[0] != "A" || seq[1] != "B" || seq[2] != "A" || seq[3] != "B" {
		t.Errorf("sequence = %v, want [A B A B]", seq)
	}
}

func TestAllIdle(t *testing.T) {
	s := testSched(t)

	release := make(chan struct{})
	h := s.Add(uuid.New(), "blocker", nil, func(ctx context.Context, st store.Store) error {
		<-release
		return nil
	})

	if !s.AllIdle() {
		t.Error("AllIdle = false before any pass")
	}

	done := make(chan error, 1)
	go func() { done <- s.Schedule(context.Background()) }()

	// Wait for the collector to actually be running.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if state, _ := s.State(h); state == StateRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("collector never reached running state")
		}
		time.Sleep(time.Millisecond)
	}

	if s.AllIdle() {
		t.Error("AllIdle = true while a collector is running")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !s.AllIdle() {
		t.Error("AllIdle = false after the pass finished")
	}
}

func TestSchedule_CollectorFailureDoesNotAbortPass(t *testing.T) {
	s := testSched(t)
	rec := &sequenceRecorder{}

	g1 := uuid.New()
	g2 := uuid.New()
	s.Add(g1, "failing", nil, func(ctx context.Context, st store.Store) error {
		return errors.New("collection exploded")
	})
	s.Add(g2, "downstream", []uuid.UUID{g1}, rec.fn("downstream"))

	if err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule = %v, want nil despite collector failure", err)
	}

	// The failing collector still satisfies its group.
	seq := rec.sequence()
	if len(seq) != 1 || seq[0] != "downstream" {
		t.Errorf("sequence = %v, want [downstream]", seq)
	}
}

func TestSchedule_CollectorsShareStore(t *testing.T) {
	s := testSched(t)

	producers := uuid.New()
	s.Add(producers, "producer", nil, func(ctx context.Context, st store.Store) error {
		return st.PutRecord(ctx, &model.Record{Plugin: "producer", Key: "answer", Value: 42})
	})

	var observed any
	s.Add(uuid.New(), "reader", []uuid.UUID{producers}, func(ctx context.Context, st store.Store) error {
		rec, err := st.GetRecord(ctx, "producer", "answer")
		if err != nil {
			return err
		}
		if rec != nil {
			observed = rec.Value
		}
		return nil
	})

	if err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if observed != float64(42) {
		t.Errorf("reader observed %v, want 42", observed)
	}
}

func TestCollectors_SnapshotByGroup(t *testing.T) {
	s := testSched(t)

	g1 := uuid.New()
	g2 := uuid.New()
	s.Add(g1, "one", nil, noop)
	s.Add(g2, "two", nil, noop)
	s.Add(g1, "three", nil, noop)

	all := s.Collectors()
	if len(all) != 3 {
		t.Fatalf("Collectors = %d entries, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Handle <= all[i-1].Handle {
			t.Errorf("Collectors not in handle order: %+v", all)
		}
	}

	g1Infos := s.GroupCollectors(g1)
	if len(g1Infos) != 2 {
		t.Fatalf("GroupCollectors(g1) = %d entries, want 2", len(g1Infos))
	}
	if g1Infos[0].Name != "one" || g1Infos[1].Name != "three" {
		t.Errorf("GroupCollectors(g1) = %+v, want [one three]", g1Infos)
	}
}
