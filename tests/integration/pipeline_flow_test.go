package integration

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/user/lumen-indexer/internal/domain"
	"github.com/user/lumen-indexer/internal/domain/mocks"
	"github.com/user/lumen-indexer/internal/usecase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
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

// TestPurchaseFlow runs a mint and a purchase through the full stream path:
// source, supervisor, dispatcher, projectors.
func TestPurchaseFlow(t *testing.T) {
	store := mocks.NewMemoryStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	source := &mocks.ScriptedSource{
		Events: []domain.RawEvent{
			{
				ID: "evt-mint", Position: 100, Kind: domain.KindContentMinted,
				Payload: domain.ContentMintedPayload{
					ContentID: 7, Creator: "GCREATOR", PriceStroops: 100_000_000, Published: true,
				},
				ObservedAt: now,
			},
			{
				ID: "evt-buy", Position: 101, Kind: domain.KindPayment,
				Payload: domain.PaymentPayload{
					Payer: "GBUYER", Creator: "GCREATOR", ContentID: 7,
					AmountStroops: 100_000_000, PlatformFeeStroops: 5_000_000, CreatorStroops: 95_000_000,
					TxHash: "tx-1",
				},
				ObservedAt: now,
			},
		},
	}

	dispatcher := usecase.NewDispatcher(store, store, usecase.NewProjectors(testLogger()),
		testLogger(), nil, 0, 3, time.Millisecond)
	supervisor := usecase.NewSupervisor(source, store, dispatcher, testLogger(), nil,
		time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	supervisor.Start(ctx)
	defer supervisor.Stop()

	waitFor(t, time.Second, func() bool { return store.Checkpoint() == 101 })

	ok, err := store.HasContentAccess(ctx, "GBUYER", 7)
	if err != nil || !ok {
		t.Errorf("buyer has no access after purchase, ok=%v err=%v", ok, err)
	}
	earnings, err := store.CreatorEarnings(ctx, "GCREATOR")
	if err != nil {
		t.Fatalf("load earnings: %v", err)
	}
	if earnings.AvailableStroops != 95_000_000 {
		t.Errorf("expected creator share 95000000, got %d", earnings.AvailableStroops)
	}
	content, err := store.Content(ctx, 7)
	if err != nil {
		t.Fatalf("load content: %v", err)
	}
	if content.PurchaseCount != 1 {
		t.Errorf("expected purchase count 1, got %d", content.PurchaseCount)
	}

	health := supervisor.Health()
	if health.Status != domain.HealthRunning || health.LastAppliedPosition != 101 {
		t.Errorf("unexpected health: %+v", health)
	}
}

// TestSubscriptionLifecycleFlow walks one subscription from creation through
// the expiring-soon notice to expiry and access revocation, with the sweep and
// notice pump in the loop.
func TestSubscriptionLifecycleFlow(t *testing.T) {
	store := mocks.NewMemoryStore()
	outbox := mocks.NewMemoryOutbox()
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	projectors := usecase.NewProjectors(testLogger())
	dispatcher := usecase.NewDispatcher(store, store, projectors, testLogger(), nil,
		0, 3, time.Millisecond)
	pump := usecase.NewPumpNoticesUseCase(outbox, dispatcher, testLogger(), 100)

	apply := func(ev domain.RawEvent) {
		t.Helper()
		if err := dispatcher.Dispatch(ctx, ev); err != nil {
			t.Fatalf("dispatch %s: %v", ev.ID, err)
		}
	}
	sweepAndPump := func(now time.Time) int {
		t.Helper()
		sweeper := usecase.NewSweepSubscriptionsUseCase(store, outbox, testLogger(), nil, 3)
		// The sweep decides against wall-clock time; pin it per phase.
		sweeper.UseClock(func() time.Time { return now })
		if _, err := sweeper.Sweep(ctx); err != nil {
			t.Fatalf("sweep: %v", err)
		}
		n, err := pump.ProcessBatch(ctx)
		if err != nil {
			t.Fatalf("pump: %v", err)
		}
		return n
	}

	apply(domain.RawEvent{
		ID: "evt-mint", Position: 200, Kind: domain.KindContentMinted,
		Payload:    domain.ContentMintedPayload{ContentID: 9, Creator: "GCREATOR", Published: true},
		ObservedAt: start,
	})
	apply(domain.RawEvent{
		ID: "evt-sub", Position: 201, Kind: domain.KindSubscriptionCreated,
		Payload: domain.SubscriptionCreatedPayload{
			Subscriber: "GSUB", Creator: "GCREATOR", TierID: 1,
			StartDate: start, DurationDays: 30,
		},
		ObservedAt: start,
	})

	ok, _ := store.HasContentAccess(ctx, "GSUB", 9)
	if !ok {
		t.Fatal("subscriber has no access after creation")
	}

	// Day 15: nothing due.
	if n := sweepAndPump(start.AddDate(0, 0, 15)); n != 0 {
		t.Fatalf("mid-term sweep emitted %d notices", n)
	}

	// Day 28: within the 3-day window, one expiring-soon notice.
	if n := sweepAndPump(start.AddDate(0, 0, 28)); n != 1 {
		t.Fatalf("day-28 sweep processed %d notices, want 1", n)
	}
	sub, _ := store.Subscription(1)
	if sub.Status != domain.StatusExpiring || !sub.ExpiryNotified {
		t.Fatalf("expected expiring+notified, got %+v", sub)
	}

	// Day 28 again: the flag suppresses a repeat.
	if n := sweepAndPump(start.AddDate(0, 0, 28).Add(time.Hour)); n != 0 {
		t.Fatalf("repeat sweep processed %d notices, want 0", n)
	}

	// Day 31: expired, access revoked.
	if n := sweepAndPump(start.AddDate(0, 0, 31)); n != 1 {
		t.Fatalf("day-31 sweep processed %d notices, want 1", n)
	}
	sub, _ = store.Subscription(1)
	if sub.Status != domain.StatusExpired {
		t.Fatalf("expected expired, got %s", sub.Status)
	}
	ok, _ = store.HasContentAccess(ctx, "GSUB", 9)
	if ok {
		t.Error("expired subscriber still has access")
	}

	// Renewal restores the subscription and access.
	apply(domain.RawEvent{
		ID: "evt-renew", Position: 202, Kind: domain.KindSubscriptionRenewed,
		Payload: domain.SubscriptionRenewedPayload{
			Subscriber: "GSUB", Creator: "GCREATOR", TierID: 1, DurationDays: 30,
		},
		ObservedAt: start.AddDate(0, 0, 32),
	})
	sub, _ = store.Subscription(1)
	if sub.Status != domain.StatusActive {
		t.Fatalf("expected active after renewal, got %s", sub.Status)
	}
	ok, _ = store.HasContentAccess(ctx, "GSUB", 9)
	if !ok {
		t.Error("renewed subscriber has no access")
	}

	// Synthetic notices never advanced the checkpoint past the ledger stream.
	if store.Checkpoint() != 202 {
		t.Errorf("unexpected checkpoint %d", store.Checkpoint())
	}
	if outbox.PendingCount() != 0 {
		t.Errorf("%d notices left unacknowledged", outbox.PendingCount())
	}
}

// TestDeadLetterDoesNotBlockStream feeds an integrity-violating event followed
// by a healthy one and checks the stream keeps flowing.
func TestDeadLetterDoesNotBlockStream(t *testing.T) {
	store := mocks.NewMemoryStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	source := &mocks.ScriptedSource{
		Events: []domain.RawEvent{
			{
				ID: "evt-bad-wd", Position: 300, Kind: domain.KindWithdrawal,
				Payload: domain.WithdrawalPayload{
					Creator: "GCREATOR", AmountStroops: 1_000_000, Destination: "GBANK",
				},
				ObservedAt: now,
			},
			{
				ID: "evt-tip", Position: 301, Kind: domain.KindTipSent,
				Payload: domain.TipPayload{
					Tipper: "GFAN", Creator: "GCREATOR", AmountStroops: 1_000_000, CreatorStroops: 950_000,
				},
				ObservedAt: now,
			},
		},
	}

	dispatcher := usecase.NewDispatcher(store, store, usecase.NewProjectors(testLogger()),
		testLogger(), nil, 0, 3, time.Millisecond)
	supervisor := usecase.NewSupervisor(source, store, dispatcher, testLogger(), nil,
		time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	supervisor.Start(ctx)
	defer supervisor.Stop()

	waitFor(t, time.Second, func() bool { return store.Checkpoint() == 301 })

	if store.DeadLetterCount() != 1 {
		t.Errorf("expected 1 dead letter, got %d", store.DeadLetterCount())
	}
	earnings, err := store.CreatorEarnings(ctx, "GCREATOR")
	if err != nil {
		t.Fatalf("load earnings: %v", err)
	}
	if earnings.TotalEarnedStroops != 950_000 {
		t.Errorf("tip after the dead letter not applied: %d", earnings.TotalEarnedStroops)
	}
}
