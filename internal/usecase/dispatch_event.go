package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/user/lumen-indexer/internal/adapter/metrics"
	"github.com/user/lumen-indexer/internal/domain"
)

const (
	defaultMaxApplyAttempts = 5
	defaultApplyBackoff     = 1 * time.Second
)

// Dispatcher is the sole write path from a decoded event to the read-model.
// It is driven by a single worker in strict position order; that single-writer
// discipline, together with the applied-event marker, is what makes projector
// effects exactly-once despite at-least-once delivery.
//
// Per event: skip if at or below the subscription's replay floor, append to
// the event store, apply through the projectors in one transaction unless the
// marker already exists, then advance the checkpoint. Transient projector
// failures are retried with backoff; integrity failures and exhausted retries
// dead-letter the event so the stream keeps moving. An event whose position
// falls behind the checkpoint but above the floor is not a replay: the source
// regressed within one subscription, and the dispatcher refuses it with
// ErrOutOfOrderDelivery rather than let it vanish as a duplicate.
type Dispatcher struct {
	store       domain.EventStore
	projections domain.ProjectionStore
	projectors  *Projectors
	logger      *slog.Logger
	metrics     *metrics.IndexerMetrics

	maxAttempts int
	backoff     time.Duration

	// checkpoint is a cache of the persisted value. Safe without locking:
	// exactly one worker dispatches at a time.
	checkpoint domain.Position

	// replayFloor is the cursor the current subscription resumed from.
	// Positions at or below it are expected redeliveries; positions between
	// it and the checkpoint are ordering faults.
	replayFloor domain.Position
}

// NewDispatcher creates a Dispatcher resuming from the given checkpoint.
// Metrics may be nil.
func NewDispatcher(
	store domain.EventStore,
	projections domain.ProjectionStore,
	projectors *Projectors,
	logger *slog.Logger,
	m *metrics.IndexerMetrics,
	checkpoint domain.Position,
	maxAttempts int,
	backoff time.Duration,
) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxApplyAttempts
	}
	if backoff <= 0 {
		backoff = defaultApplyBackoff
	}
	return &Dispatcher{
		store:       store,
		projections: projections,
		projectors:  projectors,
		logger:      logger.With("component", "dispatcher"),
		metrics:     m,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		checkpoint:  checkpoint,
		replayFloor: checkpoint,
	}
}

// Resubscribed records that a new subscription begins at from. Events at or
// below from are redeliveries of already-applied history and are skipped;
// anything above it must arrive in strictly ascending position order.
func (d *Dispatcher) Resubscribed(from domain.Position) {
	d.replayFloor = from
}

// Checkpoint returns the highest position the dispatcher knows to be fully
// applied.
func (d *Dispatcher) Checkpoint() domain.Position {
	return d.checkpoint
}

// Dispatch runs one event through store, projector and checkpoint. A non-nil
// error means the event had no durable effect and must be redelivered;
// ErrOutOfOrderCheckpoint and ErrOutOfOrderDelivery are fatal for the stream.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.RawEvent) error {
	if !ev.Synthetic() {
		switch {
		case ev.Position <= d.replayFloor || ev.Position == d.checkpoint:
			// Expected under at-least-once delivery: replayed history right
			// after a resubscribe, or the last applied event repeated.
			d.logger.Debug("skipping redelivery of applied event",
				"event_id", ev.ID, "position", ev.Position, "checkpoint", d.checkpoint)
			if d.metrics != nil {
				d.metrics.EventsSkipped.Inc()
			}
			return nil
		case ev.Position < d.checkpoint:
			// The checkpoint passed this position during the current
			// subscription, so a later event was applied before this one.
			// Absorbing it as a duplicate would lose it for good.
			return fmt.Errorf("event %s at position %d behind checkpoint %d: %w",
				ev.ID, ev.Position, d.checkpoint, domain.ErrOutOfOrderDelivery)
		}
	}

	stored, err := d.store.Append(ctx, ev)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	if !stored {
		d.logger.Debug("event already stored", "event_id", ev.ID, "kind", ev.Kind)
	}

	applied, err := d.store.IsApplied(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("check applied marker for %s: %w", ev.ID, err)
	}
	if applied {
		// Crash between apply and checkpoint advance; the marker makes the
		// replay a no-op.
		d.logger.Debug("event already applied", "event_id", ev.ID, "kind", ev.Kind)
	} else {
		if err := d.applyWithRetry(ctx, ev); err != nil {
			return err
		}
	}

	if ev.Synthetic() {
		// Lifecycle notices have no place in the ledger stream and never move
		// the checkpoint.
		return nil
	}
	if err := d.store.AdvanceCheckpoint(ctx, ev.Position); err != nil {
		return fmt.Errorf("advance checkpoint to %d: %w", ev.Position, err)
	}
	d.checkpoint = ev.Position
	if d.metrics != nil {
		d.metrics.CheckpointPosition.Set(float64(ev.Position))
	}
	return nil
}

// applyWithRetry runs the projector inside the store's atomic unit, retrying
// transient failures up to the budget, then dead-letters. Returning nil means
// the stream may continue past this event.
func (d *Dispatcher) applyWithRetry(ctx context.Context, ev domain.RawEvent) error {
	var lastErr error
	attempts := 0
	for attempts < d.maxAttempts {
		attempts++
		err := d.projections.Apply(ctx, ev, func(tx domain.ProjectionTx) error {
			return d.projectors.Apply(ctx, tx, ev)
		})
		if err == nil {
			if d.metrics != nil {
				d.metrics.EventsApplied.WithLabelValues(string(ev.Kind)).Inc()
			}
			return nil
		}
		lastErr = err

		if domain.IsIntegrityError(err) {
			// The event contradicts the read-model; retrying cannot help.
			if d.metrics != nil && errors.Is(err, domain.ErrInsufficientRecordedBalance) {
				d.metrics.ReconciliationAlerts.Inc()
			}
			break
		}

		d.logger.Warn("projector failed, will retry",
			"event_id", ev.ID, "kind", ev.Kind, "attempt", attempts, "error", err)
		select {
		case <-time.After(d.backoff * time.Duration(attempts)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return d.deadLetter(ctx, ev, lastErr, attempts)
}

func (d *Dispatcher) deadLetter(ctx context.Context, ev domain.RawEvent, cause error, attempts int) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		d.logger.Error("failed to marshal payload for dead letter", "event_id", ev.ID, "error", err)
		payload = nil
	}
	dl := domain.DeadLetter{
		ID:       uuid.NewString(),
		EventID:  ev.ID,
		Kind:     ev.Kind,
		Position: ev.Position,
		Payload:  payload,
		Reason:   cause.Error(),
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
	if err := d.store.DeadLetter(ctx, dl); err != nil {
		// Without the record the event would be silently lost; surface the
		// failure so the event is redelivered.
		return fmt.Errorf("record dead letter for %s: %w", ev.ID, err)
	}
	d.logger.Error("event dead-lettered",
		"event_id", ev.ID, "kind", ev.Kind, "position", ev.Position, "attempts", attempts, "error", cause)
	if d.metrics != nil {
		d.metrics.DeadLettersTotal.WithLabelValues(string(ev.Kind)).Inc()
	}
	return nil
}
