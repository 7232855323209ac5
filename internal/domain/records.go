package domain

import (
	"encoding/json"
	"time"
)

// SubscriptionStatus is the lifecycle state of a subscription row.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusExpiring  SubscriptionStatus = "expiring"
	StatusExpired   SubscriptionStatus = "expired"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the read-model row for a subscriber's entitlement to a
// creator's tier. At most one row per (subscriber, creator) may be active at
// any instant; the store enforces this with a partial unique index.
type Subscription struct {
	ID             int64              `json:"id"`
	EventID        string             `json:"event_id"`
	Subscriber     string             `json:"subscriber"`
	Creator        string             `json:"creator"`
	TierID         int64              `json:"tier_id"`
	StartDate      time.Time          `json:"start_date"`
	ExpiryDate     time.Time          `json:"expiry_date"`
	Status         SubscriptionStatus `json:"status"`
	AutoRenew      bool               `json:"auto_renew"`
	ExpiryNotified bool               `json:"expiry_notified"`
}

// Purchase is one settled content payment, keyed by the originating event id.
type Purchase struct {
	EventID        string    `json:"event_id"`
	Buyer          string    `json:"buyer"`
	Creator        string    `json:"creator"`
	ContentID      int64     `json:"content_id"`
	AmountStroops  int64     `json:"amount_stroops"`
	CreatorStroops int64     `json:"creator_stroops"`
	TxHash         string    `json:"tx_hash"`
	PurchasedAt    time.Time `json:"purchased_at"`
}

type Tip struct {
	EventID        string    `json:"event_id"`
	Tipper         string    `json:"tipper"`
	Creator        string    `json:"creator"`
	AmountStroops  int64     `json:"amount_stroops"`
	CreatorStroops int64     `json:"creator_stroops"`
	Message        string    `json:"message,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

type WithdrawalRecord struct {
	EventID       string    `json:"event_id"`
	Creator       string    `json:"creator"`
	AmountStroops int64     `json:"amount_stroops"`
	Destination   string    `json:"destination"`
	WithdrawnAt   time.Time `json:"withdrawn_at"`
}

// ContentRecord is the indexed visibility state of a piece of content.
type ContentRecord struct {
	ContentID     int64     `json:"content_id"`
	EventID       string    `json:"event_id"`
	Creator       string    `json:"creator"`
	PriceStroops  int64     `json:"price_stroops"`
	Published     bool      `json:"published"`
	PurchaseCount int64     `json:"purchase_count"`
	MintedAt      time.Time `json:"minted_at"`
}

// DeadLetter records an event that failed processing after its retry budget,
// held for manual inspection rather than blocking the stream.
type DeadLetter struct {
	ID       string          `json:"id"`
	EventID  string          `json:"event_id"`
	Kind     EventKind       `json:"kind"`
	Position Position        `json:"position"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Reason   string          `json:"reason"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
}

// CreatorEarnings aggregates a creator's recorded revenue.
type CreatorEarnings struct {
	Creator            string `json:"creator"`
	TotalEarnedStroops int64  `json:"total_earned_stroops"`
	AvailableStroops   int64  `json:"available_stroops"`
	WithdrawnStroops   int64  `json:"withdrawn_stroops"`
}

// SubscriptionStats summarizes a creator's subscriber base.
type SubscriptionStats struct {
	Creator              string `json:"creator"`
	ActiveSubscribers    int64  `json:"active_subscribers"`
	ExpiringSubscribers  int64  `json:"expiring_subscribers"`
	CancelledSubscribers int64  `json:"cancelled_subscribers"`
}

// LedgerPayment is one payment operation from the source's account-history
// point query. It is served straight through by the read API and never enters
// the projection path.
type LedgerPayment struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	AmountStroops int64     `json:"amount_stroops"`
	Asset         string    `json:"asset"`
	TxHash        string    `json:"tx_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// LedgerTransaction is the source's record of one settled transaction,
// fetched by hash. Like LedgerPayment it is a pass-through read.
type LedgerTransaction struct {
	Hash           string    `json:"hash"`
	Ledger         uint64    `json:"ledger"`
	SourceAccount  string    `json:"source_account"`
	FeeStroops     int64     `json:"fee_stroops"`
	OperationCount int       `json:"operation_count"`
	Successful     bool      `json:"successful"`
	Memo           string    `json:"memo,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HealthStatus is the supervisor's coarse run state.
type HealthStatus string

const (
	HealthRunning HealthStatus = "running"
	HealthBackoff HealthStatus = "backoff"
	HealthStopped HealthStatus = "stopped"
)

// Health is the supervisor's externally visible state, exposed by the admin
// server for ops tooling.
type Health struct {
	Status              HealthStatus `json:"status"`
	LastAppliedPosition Position     `json:"last_applied_position"`
	LastError           string       `json:"last_error,omitempty"`
}
