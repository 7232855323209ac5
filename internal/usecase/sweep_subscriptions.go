package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/user/lumen-indexer/internal/adapter/metrics"
	"github.com/user/lumen-indexer/internal/domain"
)

const defaultExpiryNoticeDays = 3

// SweepSubscriptionsUseCase is the time-driven half of the pipeline: expiry is
// a function of wall-clock time, not of anything the ledger emits. Each sweep
// scans subscriptions nearing or past expiry and publishes lifecycle notices
// to the outbox, where the notice pump feeds them through the same dispatcher
// as ledger events. The sweep itself never writes the read-model.
type SweepSubscriptionsUseCase struct {
	readModel  domain.ReadModel
	outbox     domain.NoticeOutbox
	logger     *slog.Logger
	metrics    *metrics.IndexerMetrics
	noticeDays int
	now        func() time.Time
}

// NewSweepSubscriptionsUseCase creates the sweep use case. noticeDays is how
// many days before expiry the ExpiringSoon notice fires; metrics may be nil.
func NewSweepSubscriptionsUseCase(
	readModel domain.ReadModel,
	outbox domain.NoticeOutbox,
	logger *slog.Logger,
	m *metrics.IndexerMetrics,
	noticeDays int,
) *SweepSubscriptionsUseCase {
	if noticeDays <= 0 {
		noticeDays = defaultExpiryNoticeDays
	}
	return &SweepSubscriptionsUseCase{
		readModel:  readModel,
		outbox:     outbox,
		logger:     logger.With("component", "lifecycle_sweep"),
		metrics:    m,
		noticeDays: noticeDays,
		now:        time.Now,
	}
}

// UseClock overrides the sweep's time source. Tests pin it to walk a
// subscription through its lifecycle phases.
func (uc *SweepSubscriptionsUseCase) UseClock(now func() time.Time) {
	uc.now = now
}

// Sweep runs one pass and returns the number of notices published. A failure
// for one subscription is logged and does not abort the rest; only the
// initial scan can fail the sweep as a whole.
func (uc *SweepSubscriptionsUseCase) Sweep(ctx context.Context) (int, error) {
	started := uc.now()
	now := started.UTC()

	window := time.Duration(uc.noticeDays) * 24 * time.Hour
	subs, err := uc.readModel.ExpiringSubscriptions(ctx, now, window)
	if err != nil {
		return 0, fmt.Errorf("scan expiring subscriptions: %w", err)
	}

	emitted := 0
	for _, sub := range subs {
		notice, ok := uc.noticeFor(sub, now)
		if !ok {
			continue
		}
		if err := uc.outbox.Publish(ctx, notice); err != nil {
			uc.logger.Error("failed to publish lifecycle notice",
				"subscription_id", sub.ID, "kind", notice.Kind, "error", err)
			continue
		}
		emitted++
		if uc.metrics != nil {
			uc.metrics.NoticesEmitted.WithLabelValues(string(notice.Kind)).Inc()
		}
	}

	if uc.metrics != nil {
		uc.metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}
	uc.logger.Info("expiry sweep complete", "scanned", len(subs), "notices", emitted)
	return emitted, nil
}

// noticeFor decides which notice, if any, a subscription is due. The event id
// is derived from the subscription and its current expiry, so a notice raced
// between sweep and apply deduplicates in the event store.
func (uc *SweepSubscriptionsUseCase) noticeFor(sub domain.Subscription, now time.Time) (domain.RawEvent, bool) {
	days := daysUntilExpiry(sub.ExpiryDate, now)

	var kind domain.EventKind
	switch {
	case days <= 0:
		kind = domain.KindExpired
	case days <= uc.noticeDays && sub.Status == domain.StatusActive && !sub.ExpiryNotified:
		kind = domain.KindExpiringSoon
	default:
		return domain.RawEvent{}, false
	}

	var tag string
	if kind == domain.KindExpired {
		tag = "expired"
	} else {
		tag = "expiring"
	}
	return domain.RawEvent{
		ID:       fmt.Sprintf("lifecycle-%s-%d-%d", tag, sub.ID, sub.ExpiryDate.Unix()),
		Position: domain.PositionBeginning,
		Kind:     kind,
		Payload: domain.LifecycleNoticePayload{
			SubscriptionID: sub.ID,
			Subscriber:     sub.Subscriber,
			Creator:        sub.Creator,
			NoticeKind:     kind,
			DueAt:          sub.ExpiryDate,
		},
		ObservedAt: now,
	}, true
}

func daysUntilExpiry(expiry, now time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}
