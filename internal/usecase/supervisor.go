package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/user/lumen-indexer/internal/adapter/metrics"
	"github.com/user/lumen-indexer/internal/domain"
)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 1 * time.Minute
)

// Supervisor owns the indexer's process lifetime: it subscribes the single
// stream worker from the last checkpoint, resubscribes with capped
// exponential backoff on transient stream failures, and halts with a distinct
// health state on failures that need an operator (stale cursor, checkpoint
// corruption).
type Supervisor struct {
	source     domain.EventSource
	store      domain.EventStore
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.IndexerMetrics

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	status  domain.HealthStatus
	lastErr error
}

// NewSupervisor creates a stopped supervisor. Metrics may be nil.
func NewSupervisor(
	source domain.EventSource,
	store domain.EventStore,
	dispatcher *Dispatcher,
	logger *slog.Logger,
	m *metrics.IndexerMetrics,
	initialBackoff, maxBackoff time.Duration,
) *Supervisor {
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	if maxBackoff < initialBackoff {
		maxBackoff = defaultMaxBackoff
	}
	return &Supervisor{
		source:         source,
		store:          store,
		dispatcher:     dispatcher,
		logger:         logger.With("component", "supervisor"),
		metrics:        m,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		status:         domain.HealthStopped,
	}
}

// Start launches the stream worker. Calling Start while already running is a
// logged no-op, not an error.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Info("indexer already running, ignoring start")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status = domain.HealthRunning
	s.lastErr = nil
	go s.run(runCtx)
}

// Stop cancels the worker at its next suspension point and waits for it to
// exit. The checkpoint is never advanced past the last fully applied event,
// so an event in flight at shutdown replays safely on restart.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Health returns the supervisor's externally visible state.
func (s *Supervisor) Health() domain.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := domain.Health{
		Status:              s.status,
		LastAppliedPosition: s.dispatcher.Checkpoint(),
	}
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	return h
}

func (s *Supervisor) setStatus(status domain.HealthStatus, err error) {
	s.mu.Lock()
	s.status = status
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Supervisor) run(ctx context.Context) {
	// The worker may exit on its own (stale cursor, ordering fault), not
	// only through Stop. Releasing the running flag here lets a later Start
	// relaunch after an operator resync.
	defer func() {
		s.mu.Lock()
		done := s.done
		s.running = false
		s.cancel()
		s.mu.Unlock()
		close(done)
	}()

	backoff := s.initialBackoff
	for {
		from, err := s.store.LoadCheckpoint(ctx)
		if err != nil {
			s.logger.Warn("failed to load checkpoint, backing off", "error", err)
			s.setStatus(domain.HealthBackoff, err)
			if !s.sleep(ctx, backoff) {
				s.setStatus(domain.HealthStopped, nil)
				return
			}
			backoff = s.nextBackoff(backoff)
			continue
		}

		s.setStatus(domain.HealthRunning, nil)
		s.logger.Info("subscribing to event stream", "from_position", from)
		s.dispatcher.Resubscribed(from)
		events, errs := s.source.Subscribe(ctx, from)
		dispatched, err := s.consume(ctx, events, errs)
		if dispatched > 0 {
			backoff = s.initialBackoff
		}

		switch {
		case ctx.Err() != nil:
			s.setStatus(domain.HealthStopped, nil)
			s.logger.Info("stream worker stopped")
			return
		case errors.Is(err, domain.ErrStaleCursor):
			// Resuming from the beginning would replay all history; markers
			// make that correct but an operator must choose to do it.
			s.logger.Error("stream cursor is stale, operator resync required", "error", err)
			s.setStatus(domain.HealthStopped, err)
			return
		case errors.Is(err, domain.ErrOutOfOrderCheckpoint):
			s.logger.Error("checkpoint ordering violated, halting", "error", err)
			s.setStatus(domain.HealthStopped, err)
			return
		case errors.Is(err, domain.ErrOutOfOrderDelivery):
			// The source regressed within one subscription; events already
			// slipped past the checkpoint out of order. Rewinding the
			// checkpoint is an operator call, replays stay safe under the
			// applied-event markers.
			s.logger.Error("stream delivered positions out of order, operator resync required", "error", err)
			s.setStatus(domain.HealthStopped, err)
			return
		default:
			s.logger.Warn("event stream interrupted, backing off",
				"backoff", backoff, "dispatched", dispatched, "error", err)
			s.setStatus(domain.HealthBackoff, err)
			if s.metrics != nil {
				s.metrics.StreamReconnects.Inc()
			}
			if !s.sleep(ctx, backoff) {
				s.setStatus(domain.HealthStopped, nil)
				return
			}
			backoff = s.nextBackoff(backoff)
		}
	}
}

// consume drains one subscription until it terminates, returning how many
// events were dispatched and the terminal error.
func (s *Supervisor) consume(ctx context.Context, events <-chan domain.RawEvent, errs <-chan error) (int, error) {
	n := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errs:
					return n, err
				case <-ctx.Done():
					return n, ctx.Err()
				}
			}
			if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
				return n, err
			}
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > s.maxBackoff {
		next = s.maxBackoff
	}
	return next
}
