package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/user/lumen-indexer/internal/domain"
	"github.com/user/lumen-indexer/internal/domain/mocks"
)

func expiredNotice(id string, subID int64) domain.RawEvent {
	now := time.Now().UTC()
	return domain.RawEvent{
		ID: id, Position: domain.PositionBeginning, Kind: domain.KindExpired,
		Payload: domain.LifecycleNoticePayload{
			SubscriptionID: subID, Subscriber: "GSUB", Creator: "GCREATOR",
			NoticeKind: domain.KindExpired, DueAt: now,
		},
		ObservedAt: now,
	}
}

func TestPumpProcessesAndAcks(t *testing.T) {
	store := mocks.NewMemoryStore()
	outbox := mocks.NewMemoryOutbox()
	ctx := context.Background()
	id := store.SeedSubscription(domain.Subscription{
		Subscriber: "GSUB", Creator: "GCREATOR",
		ExpiryDate: time.Now().UTC().Add(-time.Hour), Status: domain.StatusExpiring,
	})
	if err := outbox.Publish(ctx, expiredNotice("n-1", id)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	pump := NewPumpNoticesUseCase(outbox, newTestDispatcher(store, 0), testLogger(), 10)
	n, err := pump.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 processed, got %d", n)
	}
	if outbox.PendingCount() != 0 {
		t.Errorf("notice not acknowledged, %d pending", outbox.PendingCount())
	}
	sub, _ := store.Subscription(id)
	if sub.Status != domain.StatusExpired {
		t.Errorf("notice not applied, status %s", sub.Status)
	}
}

func TestPumpEmptyOutbox(t *testing.T) {
	store := mocks.NewMemoryStore()
	outbox := mocks.NewMemoryOutbox()
	pump := NewPumpNoticesUseCase(outbox, newTestDispatcher(store, 0), testLogger(), 10)

	n, err := pump.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 processed, got %d", n)
	}
}

func TestPumpRedeliveryIsIdempotent(t *testing.T) {
	store := mocks.NewMemoryStore()
	outbox := mocks.NewMemoryOutbox()
	ctx := context.Background()
	id := store.SeedSubscription(domain.Subscription{
		Subscriber: "GSUB", Creator: "GCREATOR",
		ExpiryDate: time.Now().UTC().Add(-time.Hour), Status: domain.StatusExpiring,
	})

	// The same notice published twice, as when a sweep raced a crash.
	if err := outbox.Publish(ctx, expiredNotice("n-1", id)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := outbox.Publish(ctx, expiredNotice("n-1", id)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	pump := NewPumpNoticesUseCase(outbox, newTestDispatcher(store, 0), testLogger(), 10)
	n, err := pump.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected both messages acked, got %d", n)
	}
	// One logical notice: one stored event, one state change.
	if store.StoredEvents() != 1 {
		t.Errorf("duplicate notice stored twice: %d events", store.StoredEvents())
	}
}
