package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Position is a monotonic location in the ledger event stream, encoded the
// way Horizon paging tokens are: ledger sequence and operation index packed
// into a single ordered integer.
type Position uint64

// PositionBeginning is the sentinel "no checkpoint yet" position. Events
// synthesized by the lifecycle scheduler also carry it, since they have no
// place in the ledger stream.
const PositionBeginning Position = 0

// ParsePosition parses a paging-token string into a Position.
func ParsePosition(s string) (Position, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return PositionBeginning, fmt.Errorf("invalid stream position %q: %w", s, err)
	}
	return Position(v), nil
}

func (p Position) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// EventKind identifies the type of a ledger or lifecycle event. The string
// values match the event types emitted by the platform contracts.
type EventKind string

const (
	KindContentMinted         EventKind = "content_minted"
	KindPayment               EventKind = "payment"
	KindTipSent               EventKind = "tip_sent"
	KindSubscriptionCreated   EventKind = "subscription_created"
	KindSubscriptionRenewed   EventKind = "subscription_renewed"
	KindSubscriptionCancelled EventKind = "subscription_cancelled"
	KindWithdrawal            EventKind = "withdrawal"

	// Lifecycle notices are synthesized by the scheduler, never observed
	// on-chain.
	KindExpiringSoon EventKind = "subscription_expiring_soon"
	KindExpired      EventKind = "subscription_expired"
)

// Payload is the decoded, kind-specific body of an event. Each kind has
// exactly one payload type; decoding happens once at the source boundary so
// projectors never inspect raw JSON.
type Payload interface {
	Kind() EventKind
}

// ContentMintedPayload announces new content registered on-chain.
type ContentMintedPayload struct {
	ContentID    int64  `json:"content_id"`
	Creator      string `json:"creator"`
	PriceStroops int64  `json:"price_stroops"`
	Published    bool   `json:"published"`
}

func (ContentMintedPayload) Kind() EventKind { return KindContentMinted }

// PaymentPayload is a settled content purchase. The fee split has already
// happened on-chain; CreatorStroops is the post-fee amount.
type PaymentPayload struct {
	Payer              string `json:"payer"`
	Creator            string `json:"creator"`
	ContentID          int64  `json:"content_id"`
	AmountStroops      int64  `json:"amount_stroops"`
	PlatformFeeStroops int64  `json:"platform_fee_stroops"`
	CreatorStroops     int64  `json:"creator_stroops"`
	TxHash             string `json:"tx_hash"`
}

func (PaymentPayload) Kind() EventKind { return KindPayment }

// TipPayload is a settled tip, split the same way a payment is.
type TipPayload struct {
	Tipper         string `json:"tipper"`
	Creator        string `json:"creator"`
	AmountStroops  int64  `json:"amount_stroops"`
	CreatorStroops int64  `json:"creator_stroops"`
	Message        string `json:"message,omitempty"`
}

func (TipPayload) Kind() EventKind { return KindTipSent }

type SubscriptionCreatedPayload struct {
	Subscriber   string    `json:"subscriber"`
	Creator      string    `json:"creator"`
	TierID       int64     `json:"tier_id"`
	StartDate    time.Time `json:"start_date"`
	DurationDays int       `json:"duration_days"`
	AutoRenew    bool      `json:"auto_renew"`
}

func (SubscriptionCreatedPayload) Kind() EventKind { return KindSubscriptionCreated }

type SubscriptionRenewedPayload struct {
	Subscriber   string `json:"subscriber"`
	Creator      string `json:"creator"`
	TierID       int64  `json:"tier_id"`
	DurationDays int    `json:"duration_days"`
}

func (SubscriptionRenewedPayload) Kind() EventKind { return KindSubscriptionRenewed }

type SubscriptionCancelledPayload struct {
	Subscriber string `json:"subscriber"`
	Creator    string `json:"creator"`
}

func (SubscriptionCancelledPayload) Kind() EventKind { return KindSubscriptionCancelled }

type WithdrawalPayload struct {
	Creator       string `json:"creator"`
	AmountStroops int64  `json:"amount_stroops"`
	Destination   string `json:"destination"`
}

func (WithdrawalPayload) Kind() EventKind { return KindWithdrawal }

// LifecycleNoticePayload is the body of a scheduler-emitted notice. NoticeKind
// is one of KindExpiringSoon or KindExpired.
type LifecycleNoticePayload struct {
	SubscriptionID int64     `json:"subscription_id"`
	Subscriber     string    `json:"subscriber"`
	Creator        string    `json:"creator"`
	NoticeKind     EventKind `json:"notice_kind"`
	DueAt          time.Time `json:"due_at"`
}

func (p LifecycleNoticePayload) Kind() EventKind { return p.NoticeKind }

// DecodePayload unmarshals a raw payload into the typed variant for kind.
func DecodePayload(kind EventKind, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindContentMinted:
		var v ContentMintedPayload
		err, p = json.Unmarshal(data, &v), v
	case KindPayment:
		var v PaymentPayload
		err, p = json.Unmarshal(data, &v), v
	case KindTipSent:
		var v TipPayload
		err, p = json.Unmarshal(data, &v), v
	case KindSubscriptionCreated:
		var v SubscriptionCreatedPayload
		err, p = json.Unmarshal(data, &v), v
	case KindSubscriptionRenewed:
		var v SubscriptionRenewedPayload
		err, p = json.Unmarshal(data, &v), v
	case KindSubscriptionCancelled:
		var v SubscriptionCancelledPayload
		err, p = json.Unmarshal(data, &v), v
	case KindWithdrawal:
		var v WithdrawalPayload
		err, p = json.Unmarshal(data, &v), v
	case KindExpiringSoon, KindExpired:
		var v LifecycleNoticePayload
		v.NoticeKind = kind
		err, p = json.Unmarshal(data, &v), v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return p, nil
}

// RawEvent is the normalized envelope every event travels in, whether it was
// observed on the ledger or synthesized by the scheduler.
type RawEvent struct {
	ID         string
	Position   Position
	Kind       EventKind
	Payload    Payload
	ObservedAt time.Time
}

// Synthetic reports whether the event was produced by the lifecycle scheduler
// rather than the ledger stream. Synthetic events never move the checkpoint.
func (e RawEvent) Synthetic() bool {
	return e.Position == PositionBeginning
}

type envelope struct {
	ID         string          `json:"event_id"`
	Position   Position        `json:"position"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	ObservedAt time.Time       `json:"observed_at"`
}

// MarshalEnvelope encodes an event for transport or storage.
func MarshalEnvelope(e RawEvent) ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Kind, err)
	}
	return json.Marshal(envelope{
		ID:         e.ID,
		Position:   e.Position,
		Kind:       e.Kind,
		Payload:    payload,
		ObservedAt: e.ObservedAt,
	})
}

// UnmarshalEnvelope decodes an event produced by MarshalEnvelope.
func UnmarshalEnvelope(data []byte) (RawEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return RawEvent{}, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	payload, err := DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return RawEvent{}, err
	}
	return RawEvent{
		ID:         env.ID,
		Position:   env.Position,
		Kind:       env.Kind,
		Payload:    payload,
		ObservedAt: env.ObservedAt,
	}, nil
}
