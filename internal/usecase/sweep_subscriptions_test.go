package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/user/lumen-indexer/internal/domain"
	"github.com/user/lumen-indexer/internal/domain/mocks"
)

func newTestSweeper(store *mocks.MemoryStore, outbox *mocks.MemoryOutbox, now time.Time) *SweepSubscriptionsUseCase {
	uc := NewSweepSubscriptionsUseCase(store, outbox, testLogger(), nil, 3)
	uc.UseClock(func() time.Time { return now })
	return uc
}

func TestSweepEmitsExpiredNotice(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := mocks.NewMemoryStore()
	outbox := mocks.NewMemoryOutbox()
	id := store.SeedSubscription(domain.Subscription{
		Subscriber: "GSUB", Creator: "GCREATOR",
		ExpiryDate: now.Add(-time.Hour), Status: domain.StatusExpiring, ExpiryNotified: true,
	})

	emitted, err := newTestSweeper(store, outbox, now).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if emitted != 1 {
		t.Fatalf("expected 1 notice, got %d", emitted)
	}
	notice := outbox.Published[0]
	if notice.Kind != domain.KindExpired {
		t.Errorf("expected expired notice, got %s", notice.Kind)
	}
	if !notice.Synthetic() {
		t.Error("scheduler notice must carry the synthetic position")
	}
	payload := notice.Payload.(domain.LifecycleNoticePayload)
	if payload.SubscriptionID != id {
		t.Errorf("notice for wrong subscription: %d", payload.SubscriptionID)
	}
}

func TestSweepEmitsExpiringSoonOnce(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := mocks.NewMemoryStore()
	outbox := mocks.NewMemoryOutbox()
	id := store.SeedSubscription(domain.Subscription{
		Subscriber: "GSUB", Creator: "GCREATOR",
		ExpiryDate: now.Add(48 * time.Hour), Status: domain.StatusActive,
	})
	sweeper := newTestSweeper(store, outbox, now)
	ctx := context.Background()

	emitted, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if emitted != 1 {
		t.Fatalf("expected 1 notice, got %d", emitted)
	}
	if outbox.Published[0].Kind != domain.KindExpiringSoon {
		t.Errorf("expected expiring-soon, got %s", outbox.Published[0].Kind)
	}

	// Once the notice is applied the flag is set and the next sweep is silent.
	p := NewProjectors(testLogger())
	if err := applyEvent(t, store, p, outbox.Published[0]); err != nil {
		t.Fatalf("apply notice: %v", err)
	}
	sub, _ := store.Subscription(id)
	if !sub.ExpiryNotified {
		t.Fatal("applying the notice should set the flag")
	}

	emitted, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if emitted != 0 {
		t.Errorf("second sweep re-emitted %d notices", emitted)
	}
}

func TestSweepOutsideWindowIsSilent(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := mocks.NewMemoryStore()
	outbox := mocks.NewMemoryOutbox()
	store.SeedSubscription(domain.Subscription{
		Subscriber: "GSUB", Creator: "GCREATOR",
		ExpiryDate: now.AddDate(0, 0, 20), Status: domain.StatusActive,
	})

	emitted, err := newTestSweeper(store, outbox, now).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if emitted != 0 {
		t.Errorf("subscription 20 days out produced %d notices", emitted)
	}
}

func TestSweepDeterministicNoticeIDs(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := mocks.NewMemoryStore()
	store.SeedSubscription(domain.Subscription{
		Subscriber: "GSUB", Creator: "GCREATOR",
		ExpiryDate: now.Add(-time.Hour), Status: domain.StatusExpiring, ExpiryNotified: true,
	})

	// Two racing sweeps produce the same notice id, so the event store
	// deduplicates the second apply.
	first := mocks.NewMemoryOutbox()
	second := mocks.NewMemoryOutbox()
	if _, err := newTestSweeper(store, first, now).Sweep(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if _, err := newTestSweeper(store, second, now.Add(time.Minute)).Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if first.Published[0].ID != second.Published[0].ID {
		t.Errorf("notice ids differ across sweeps: %q vs %q", first.Published[0].ID, second.Published[0].ID)
	}
}

func TestSweepIsolatesPerSubscriptionFailures(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store := mocks.NewMemoryStore()
	outbox := mocks.NewMemoryOutbox()
	failing := store.SeedSubscription(domain.Subscription{
		Subscriber: "GSUB1", Creator: "GCREATOR",
		ExpiryDate: now.Add(-time.Hour), Status: domain.StatusExpiring, ExpiryNotified: true,
	})
	store.SeedSubscription(domain.Subscription{
		Subscriber: "GSUB2", Creator: "GCREATOR",
		ExpiryDate: now.Add(-2 * time.Hour), Status: domain.StatusExpiring, ExpiryNotified: true,
	})
	outbox.FailPublishFor = failing

	emitted, err := newTestSweeper(store, outbox, now).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep should not fail as a whole: %v", err)
	}
	if emitted != 1 {
		t.Errorf("expected the healthy subscription's notice, got %d", emitted)
	}
}

func TestDaysUntilExpiry(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		expiry time.Time
		want   int
	}{
		{"an hour past expiry", now.Add(-time.Hour), 0},
		{"exactly now", now, 0},
		{"an hour left rounds up", now.Add(time.Hour), 1},
		{"three full days", now.Add(72 * time.Hour), 3},
		{"just over three days", now.Add(73 * time.Hour), 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := daysUntilExpiry(tc.expiry, now); got != tc.want {
				t.Errorf("daysUntilExpiry(%v) = %d, want %d", tc.expiry, got, tc.want)
			}
		})
	}
}
