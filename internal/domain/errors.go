package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEventKind indicates an event kind with no registered payload
	// type or projector.
	ErrUnknownEventKind = errors.New("unknown event kind")

	// ErrOutOfOrderCheckpoint indicates an attempt to move the checkpoint to a
	// position that is not strictly greater than the current one. This is a
	// programmer-error-class failure and halts the dispatcher.
	ErrOutOfOrderCheckpoint = errors.New("checkpoint position must be strictly increasing")

	// ErrStaleCursor indicates the event source no longer retains history at
	// the requested position. Resuming requires an operator-driven resync.
	ErrStaleCursor = errors.New("stream cursor is older than the source's retained history")

	// ErrOutOfOrderDelivery indicates the stream delivered an event at a
	// position the checkpoint has already passed within the same
	// subscription. Unlike a replay after a resubscribe, this means the
	// source broke its ascending-order contract and an earlier event was
	// applied too late to precede it; the dispatcher refuses the event and
	// the stream halts for an operator resync (rewinding the checkpoint is
	// safe, the applied-event markers absorb the replay).
	ErrOutOfOrderDelivery = errors.New("event position regressed within one subscription")

	// ErrDuplicateActiveSubscription indicates a SubscriptionCreated event for
	// a (subscriber, creator) pair that already has an active subscription.
	ErrDuplicateActiveSubscription = errors.New("active subscription already exists for subscriber and creator")

	// ErrNoSubscriptionToRenew indicates a SubscriptionRenewed event with no
	// matching subscription row.
	ErrNoSubscriptionToRenew = errors.New("no subscription to renew")

	// ErrUnknownSubscription indicates a lifecycle notice that references a
	// subscription the read-model has never seen.
	ErrUnknownSubscription = errors.New("lifecycle notice references unknown subscription")

	// ErrInsufficientRecordedBalance indicates a withdrawal that would drive
	// the recorded creator balance negative, i.e. a divergence between
	// on-chain state and the read-model. It is surfaced as a reconciliation
	// alert and never auto-corrected.
	ErrInsufficientRecordedBalance = errors.New("recorded balance insufficient for withdrawal")

	// ErrNotFound is returned by read-model lookups with no matching row.
	ErrNotFound = errors.New("not found")
)

// StreamError wraps a transient failure of the upstream event feed. The
// source adapter does not retry; the supervisor backs off and resubscribes
// from the last checkpoint.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("event stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsIntegrityError reports whether err is a data-integrity failure: the event
// contradicts the read-model and retrying cannot help, so it is dead-lettered
// immediately instead of burning the retry budget.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrDuplicateActiveSubscription) ||
		errors.Is(err, ErrNoSubscriptionToRenew) ||
		errors.Is(err, ErrUnknownSubscription) ||
		errors.Is(err, ErrInsufficientRecordedBalance) ||
		errors.Is(err, ErrUnknownEventKind)
}
