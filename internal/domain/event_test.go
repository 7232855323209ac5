package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDecodePayload(t *testing.T) {
	t.Run("decodes a payment", func(t *testing.T) {
		data := []byte(`{"payer":"GPAYER","creator":"GCREATOR","content_id":7,"amount_stroops":10000000,"platform_fee_stroops":500000,"creator_stroops":9500000,"tx_hash":"abc123"}`)
		p, err := DecodePayload(KindPayment, data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		payment, ok := p.(PaymentPayload)
		if !ok {
			t.Fatalf("expected PaymentPayload, got %T", p)
		}
		if payment.CreatorStroops != 9500000 {
			t.Errorf("expected creator stroops 9500000, got %d", payment.CreatorStroops)
		}
		if payment.AmountStroops != payment.PlatformFeeStroops+payment.CreatorStroops {
			t.Error("amount does not equal fee plus creator share")
		}
	})

	t.Run("decodes a lifecycle notice with the outer kind", func(t *testing.T) {
		data := []byte(`{"subscription_id":42,"subscriber":"GSUB","creator":"GCREATOR","due_at":"2026-01-02T00:00:00Z"}`)
		p, err := DecodePayload(KindExpired, data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		notice, ok := p.(LifecycleNoticePayload)
		if !ok {
			t.Fatalf("expected LifecycleNoticePayload, got %T", p)
		}
		if notice.NoticeKind != KindExpired {
			t.Errorf("expected notice kind %q, got %q", KindExpired, notice.NoticeKind)
		}
		if notice.Kind() != KindExpired {
			t.Errorf("Kind() = %q, want %q", notice.Kind(), KindExpired)
		}
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		_, err := DecodePayload("account_merged", []byte(`{}`))
		if !errors.Is(err, ErrUnknownEventKind) {
			t.Fatalf("expected ErrUnknownEventKind, got %v", err)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := DecodePayload(KindPayment, []byte(`{`))
		if err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ev := RawEvent{
		ID:       "evt-17",
		Position: 4096,
		Kind:     KindSubscriptionCreated,
		Payload: SubscriptionCreatedPayload{
			Subscriber:   "GSUB",
			Creator:      "GCREATOR",
			TierID:       2,
			StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			DurationDays: 30,
			AutoRenew:    true,
		},
		ObservedAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	b, err := MarshalEnvelope(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalEnvelope(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != ev.ID || got.Position != ev.Position || got.Kind != ev.Kind {
		t.Errorf("envelope fields changed: got %+v", got)
	}
	payload, ok := got.Payload.(SubscriptionCreatedPayload)
	if !ok {
		t.Fatalf("expected SubscriptionCreatedPayload, got %T", got.Payload)
	}
	if !payload.StartDate.Equal(ev.Payload.(SubscriptionCreatedPayload).StartDate) {
		t.Error("start date changed in round trip")
	}
	if payload.DurationDays != 30 {
		t.Errorf("expected duration 30, got %d", payload.DurationDays)
	}
}

func TestRawEventSynthetic(t *testing.T) {
	if (RawEvent{Position: 100}).Synthetic() {
		t.Error("ledger event reported synthetic")
	}
	if !(RawEvent{Position: PositionBeginning}).Synthetic() {
		t.Error("scheduler notice not reported synthetic")
	}
}

func TestParsePosition(t *testing.T) {
	pos, err := ParsePosition("12884905984")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos != 12884905984 {
		t.Errorf("expected 12884905984, got %d", pos)
	}
	if pos.String() != "12884905984" {
		t.Errorf("String() = %q", pos.String())
	}

	if _, err := ParsePosition("not-a-token"); err == nil {
		t.Error("expected an error for a malformed token")
	}
}
