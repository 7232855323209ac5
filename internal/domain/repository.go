package domain

import (
	"context"
	"time"
)

// EventSource is the adapter boundary over the ledger's event feed.
type EventSource interface {
	// Subscribe produces an ordered, potentially infinite sequence of events
	// with Position > from. The sequence terminates by closing the event
	// channel after sending a single error: a *StreamError for transient
	// failures, or ErrStaleCursor when the source no longer retains history at
	// from. The adapter never retries; that policy belongs to the supervisor.
	Subscribe(ctx context.Context, from Position) (<-chan RawEvent, <-chan error)
}

// EventStore is the durable log of ingested events plus the checkpoint and
// idempotency bookkeeping around it.
type EventStore interface {
	// Append durably stores a raw event before any projector runs. Appending
	// an already-stored event id is an idempotent no-op reported via
	// stored=false.
	Append(ctx context.Context, event RawEvent) (stored bool, err error)

	// LoadCheckpoint returns the highest fully applied position, or
	// PositionBeginning if the indexer has never run.
	LoadCheckpoint(ctx context.Context) (Position, error)

	// AdvanceCheckpoint persists a new checkpoint. It fails with
	// ErrOutOfOrderCheckpoint unless to is strictly greater than the stored
	// value.
	AdvanceCheckpoint(ctx context.Context, to Position) error

	// IsApplied reports whether an applied-event marker exists for eventID.
	// The marker is the sole authority for "already applied".
	IsApplied(ctx context.Context, eventID string) (bool, error)

	// DeadLetter records an event that exhausted its processing budget.
	DeadLetter(ctx context.Context, dl DeadLetter) error

	// DeadLetters returns the most recent dead-letter records for review.
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}

// ProjectionTx is the set of read-model mutations available inside one atomic
// unit of work. Only projectors hold one, and only for the duration of a
// single event.
type ProjectionTx interface {
	InsertPurchase(ctx context.Context, p Purchase) error
	IncrementPurchaseCount(ctx context.Context, contentID int64, creator string) error
	GrantContentAccess(ctx context.Context, account string, contentID int64, eventID string) error
	GrantCreatorAccess(ctx context.Context, account, creator string, subscriptionID int64) error
	RevokeSubscriptionAccess(ctx context.Context, subscriptionID int64) error

	InsertTip(ctx context.Context, t Tip) error
	CreditEarnings(ctx context.Context, creator string, amountStroops int64) error

	// ActiveSubscription returns the active row for the pair, or ErrNotFound.
	ActiveSubscription(ctx context.Context, subscriber, creator string) (*Subscription, error)
	// LatestSubscription returns the most recent row for the pair regardless
	// of status, or ErrNotFound.
	LatestSubscription(ctx context.Context, subscriber, creator string) (*Subscription, error)
	SubscriptionByID(ctx context.Context, id int64) (*Subscription, error)
	InsertSubscription(ctx context.Context, s Subscription) (int64, error)
	UpdateSubscription(ctx context.Context, s Subscription) error

	InsertWithdrawal(ctx context.Context, w WithdrawalRecord) error
	// DebitBalance reduces the creator's available balance, failing with
	// ErrInsufficientRecordedBalance if it would go negative.
	DebitBalance(ctx context.Context, creator string, amountStroops int64) error

	UpsertContent(ctx context.Context, c ContentRecord) error
}

// ProjectionStore owns the read-model and the atomicity contract: the
// projector's mutations and the applied-event marker for event commit
// together or not at all.
type ProjectionStore interface {
	Apply(ctx context.Context, event RawEvent, fn func(tx ProjectionTx) error) error
}

// OutboxMessage is one lifecycle notice read from the outbox, carrying the
// transport-level id needed to acknowledge it.
type OutboxMessage struct {
	MessageID string
	Event     RawEvent
}

// NoticeOutbox is the durable channel between the lifecycle scheduler and the
// dispatcher. Publishing and consuming are decoupled so a crash between sweep
// and apply loses nothing.
type NoticeOutbox interface {
	Publish(ctx context.Context, notice RawEvent) error
	Read(ctx context.Context, count int) ([]OutboxMessage, error)
	Acknowledge(ctx context.Context, messageIDs ...string) error
}

// ReadModel is the query surface over the projections, used by the lifecycle
// scheduler and the read API. It never mutates.
type ReadModel interface {
	// ExpiringSubscriptions returns non-expired subscriptions whose expiry
	// falls before asOf+window, the scheduler's sweep set.
	ExpiringSubscriptions(ctx context.Context, asOf time.Time, window time.Duration) ([]Subscription, error)
	SubscriptionsBySubscriber(ctx context.Context, subscriber string) ([]Subscription, error)
	PurchasesByBuyer(ctx context.Context, buyer string) ([]Purchase, error)
	HasContentAccess(ctx context.Context, account string, contentID int64) (bool, error)
	Content(ctx context.Context, contentID int64) (*ContentRecord, error)
	ContentByCreator(ctx context.Context, creator string) ([]ContentRecord, error)
	CreatorEarnings(ctx context.Context, creator string) (*CreatorEarnings, error)
	SubscriptionStats(ctx context.Context, creator string) (*SubscriptionStats, error)
}
