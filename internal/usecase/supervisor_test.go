package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/user/lumen-indexer/internal/domain"
	"github.com/user/lumen-indexer/internal/domain/mocks"
)

func newTestSupervisor(source domain.EventSource, store *mocks.MemoryStore) *Supervisor {
	d := newTestDispatcher(store, 0)
	return NewSupervisor(source, store, d, testLogger(), nil, time.Millisecond, 5*time.Millisecond)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSupervisorDispatchesStreamEvents(t *testing.T) {
	store := mocks.NewMemoryStore()
	source := &mocks.ScriptedSource{
		Events: []domain.RawEvent{paymentEvent("evt-1", 10), paymentEvent("evt-2", 20)},
	}
	s := newTestSupervisor(source, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return store.Checkpoint() == 20 })
	if h := s.Health(); h.Status != domain.HealthRunning {
		t.Errorf("expected running, got %s", h.Status)
	}
}

func TestSupervisorStartIsIdempotent(t *testing.T) {
	store := mocks.NewMemoryStore()
	source := &mocks.ScriptedSource{}
	s := newTestSupervisor(source, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return source.SubscribeCount() == 1 })
	// A second Start must not spawn a second worker.
	time.Sleep(10 * time.Millisecond)
	if n := source.SubscribeCount(); n != 1 {
		t.Errorf("expected a single subscription, got %d", n)
	}
}

func TestSupervisorResubscribesAfterStreamError(t *testing.T) {
	store := mocks.NewMemoryStore()
	source := &mocks.ScriptedSource{
		Events: []domain.RawEvent{paymentEvent("evt-1", 10)},
		Errs:   []error{&domain.StreamError{Err: context.DeadlineExceeded}},
	}
	s := newTestSupervisor(source, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// Each subscription replays the script then fails; the supervisor keeps
	// resubscribing from the checkpoint.
	waitFor(t, time.Second, func() bool { return source.SubscribeCount() >= 3 })
	if store.Checkpoint() != 10 {
		t.Errorf("event lost across resubscribes: checkpoint %d", store.Checkpoint())
	}

	// Later subscriptions resume from the advanced checkpoint.
	waitFor(t, time.Second, func() bool { return source.LastSubscribeFrom() == 10 })
}

func TestSupervisorHaltsOnStaleCursor(t *testing.T) {
	store := mocks.NewMemoryStore()
	source := &mocks.ScriptedSource{
		Errs: []error{domain.ErrStaleCursor},
	}
	s := newTestSupervisor(source, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.Health().Status == domain.HealthStopped })
	h := s.Health()
	if h.LastError == "" {
		t.Error("halt reason missing from health")
	}
	// No retry loop: a stale cursor needs an operator.
	time.Sleep(10 * time.Millisecond)
	if n := source.SubscribeCount(); n != 1 {
		t.Errorf("supervisor retried a stale cursor %d times", n)
	}
}

func TestSupervisorHaltsOnOrderingFault(t *testing.T) {
	store := mocks.NewMemoryStore()
	// The source breaks its ascending-order contract mid-subscription.
	source := &mocks.ScriptedSource{
		Events: []domain.RawEvent{paymentEvent("evt-2", 11), paymentEvent("evt-1", 10)},
	}
	s := newTestSupervisor(source, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.Health().Status == domain.HealthStopped })
	if h := s.Health(); h.LastError == "" {
		t.Error("halt reason missing from health")
	}
	// No automatic resubscribe: the checkpoint already passed the regressed
	// event, so recovering it is an operator rewind.
	time.Sleep(10 * time.Millisecond)
	if n := source.SubscribeCount(); n != 1 {
		t.Errorf("supervisor retried an ordering fault %d times", n)
	}
	if store.Checkpoint() != 11 {
		t.Errorf("unexpected checkpoint %d", store.Checkpoint())
	}
}

func TestSupervisorRestartsAfterHalt(t *testing.T) {
	store := mocks.NewMemoryStore()
	source := &mocks.ScriptedSource{
		Errs: []error{domain.ErrStaleCursor, nil},
	}
	s := newTestSupervisor(source, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	waitFor(t, time.Second, func() bool { return s.Health().Status == domain.HealthStopped })

	// After the operator resyncs, Start must relaunch the worker without a
	// prior Stop on the dead one. The halted worker releases its slot right
	// after reporting stopped, so poll Start until the relaunch takes.
	waitFor(t, time.Second, func() bool {
		s.Start(ctx)
		return source.SubscribeCount() == 2
	})
	defer s.Stop()
	waitFor(t, time.Second, func() bool { return s.Health().Status == domain.HealthRunning })
}

func TestSupervisorStop(t *testing.T) {
	store := mocks.NewMemoryStore()
	source := &mocks.ScriptedSource{}
	s := newTestSupervisor(source, store)

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return source.SubscribeCount() == 1 })
	s.Stop()

	if h := s.Health(); h.Status != domain.HealthStopped {
		t.Errorf("expected stopped after Stop, got %s", h.Status)
	}
	// Stop on a stopped supervisor is a no-op.
	s.Stop()
}
