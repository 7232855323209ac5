package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/lumen-indexer/internal/domain"
)

// Projectors turn one decoded event into its read-model mutations. Every
// method runs inside the projection store's transaction, so a returned error
// discards all of the event's effects. Amounts are taken from the payload
// as-is: the fee split already happened on-chain and is never recomputed here.
type Projectors struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewProjectors(logger *slog.Logger) *Projectors {
	return &Projectors{
		logger: logger.With("component", "projectors"),
		now:    time.Now,
	}
}

// Apply dispatches the event to the projector for its payload type.
func (p *Projectors) Apply(ctx context.Context, tx domain.ProjectionTx, ev domain.RawEvent) error {
	switch pl := ev.Payload.(type) {
	case domain.PaymentPayload:
		return p.projectPayment(ctx, tx, ev, pl)
	case domain.TipPayload:
		return p.projectTip(ctx, tx, ev, pl)
	case domain.SubscriptionCreatedPayload:
		return p.projectSubscriptionCreated(ctx, tx, ev, pl)
	case domain.SubscriptionRenewedPayload:
		return p.projectSubscriptionRenewed(ctx, tx, ev, pl)
	case domain.SubscriptionCancelledPayload:
		return p.projectSubscriptionCancelled(ctx, tx, ev, pl)
	case domain.WithdrawalPayload:
		return p.projectWithdrawal(ctx, tx, ev, pl)
	case domain.ContentMintedPayload:
		return p.projectContentMinted(ctx, tx, ev, pl)
	case domain.LifecycleNoticePayload:
		return p.projectLifecycleNotice(ctx, tx, pl)
	default:
		return fmt.Errorf("%w: no projector for %s", domain.ErrUnknownEventKind, ev.Kind)
	}
}

func (p *Projectors) projectPayment(ctx context.Context, tx domain.ProjectionTx, ev domain.RawEvent, pl domain.PaymentPayload) error {
	purchase := domain.Purchase{
		EventID:        ev.ID,
		Buyer:          pl.Payer,
		Creator:        pl.Creator,
		ContentID:      pl.ContentID,
		AmountStroops:  pl.AmountStroops,
		CreatorStroops: pl.CreatorStroops,
		TxHash:         pl.TxHash,
		PurchasedAt:    ev.ObservedAt,
	}
	if err := tx.InsertPurchase(ctx, purchase); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	if err := tx.IncrementPurchaseCount(ctx, pl.ContentID, pl.Creator); err != nil {
		return fmt.Errorf("increment purchase count: %w", err)
	}
	if err := tx.GrantContentAccess(ctx, pl.Payer, pl.ContentID, ev.ID); err != nil {
		return fmt.Errorf("grant content access: %w", err)
	}
	if err := tx.CreditEarnings(ctx, pl.Creator, pl.CreatorStroops); err != nil {
		return fmt.Errorf("credit earnings: %w", err)
	}
	return nil
}

func (p *Projectors) projectTip(ctx context.Context, tx domain.ProjectionTx, ev domain.RawEvent, pl domain.TipPayload) error {
	tip := domain.Tip{
		EventID:        ev.ID,
		Tipper:         pl.Tipper,
		Creator:        pl.Creator,
		AmountStroops:  pl.AmountStroops,
		CreatorStroops: pl.CreatorStroops,
		Message:        pl.Message,
		SentAt:         ev.ObservedAt,
	}
	if err := tx.InsertTip(ctx, tip); err != nil {
		return fmt.Errorf("insert tip: %w", err)
	}
	if err := tx.CreditEarnings(ctx, pl.Creator, pl.CreatorStroops); err != nil {
		return fmt.Errorf("credit earnings: %w", err)
	}
	return nil
}

func (p *Projectors) projectSubscriptionCreated(ctx context.Context, tx domain.ProjectionTx, ev domain.RawEvent, pl domain.SubscriptionCreatedPayload) error {
	if _, err := tx.ActiveSubscription(ctx, pl.Subscriber, pl.Creator); err == nil {
		return fmt.Errorf("subscriber %s creator %s: %w", pl.Subscriber, pl.Creator, domain.ErrDuplicateActiveSubscription)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("lookup active subscription: %w", err)
	}

	sub := domain.Subscription{
		EventID:    ev.ID,
		Subscriber: pl.Subscriber,
		Creator:    pl.Creator,
		TierID:     pl.TierID,
		StartDate:  pl.StartDate,
		ExpiryDate: pl.StartDate.AddDate(0, 0, pl.DurationDays),
		Status:     domain.StatusActive,
		AutoRenew:  pl.AutoRenew,
	}
	id, err := tx.InsertSubscription(ctx, sub)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	if err := tx.GrantCreatorAccess(ctx, pl.Subscriber, pl.Creator, id); err != nil {
		return fmt.Errorf("grant creator access: %w", err)
	}
	return nil
}

func (p *Projectors) projectSubscriptionRenewed(ctx context.Context, tx domain.ProjectionTx, ev domain.RawEvent, pl domain.SubscriptionRenewedPayload) error {
	sub, err := tx.LatestSubscription(ctx, pl.Subscriber, pl.Creator)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("subscriber %s creator %s: %w", pl.Subscriber, pl.Creator, domain.ErrNoSubscriptionToRenew)
		}
		return fmt.Errorf("lookup subscription: %w", err)
	}

	// A renewal of an already-lapsed subscription restarts from now instead of
	// stacking onto the stale expiry.
	base := sub.ExpiryDate
	if now := p.now().UTC(); base.Before(now) {
		base = now
	}
	sub.ExpiryDate = base.AddDate(0, 0, pl.DurationDays)
	sub.TierID = pl.TierID
	sub.Status = domain.StatusActive
	sub.ExpiryNotified = false
	if err := tx.UpdateSubscription(ctx, *sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	// Re-grant in case the previous grant was revoked on expiry.
	if err := tx.GrantCreatorAccess(ctx, pl.Subscriber, pl.Creator, sub.ID); err != nil {
		return fmt.Errorf("grant creator access: %w", err)
	}
	return nil
}

func (p *Projectors) projectSubscriptionCancelled(ctx context.Context, tx domain.ProjectionTx, ev domain.RawEvent, pl domain.SubscriptionCancelledPayload) error {
	sub, err := tx.LatestSubscription(ctx, pl.Subscriber, pl.Creator)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("subscriber %s creator %s: %w", pl.Subscriber, pl.Creator, domain.ErrUnknownSubscription)
		}
		return fmt.Errorf("lookup subscription: %w", err)
	}
	if sub.Status == domain.StatusExpired || sub.Status == domain.StatusCancelled {
		return nil
	}
	// Access stays until the paid period ends; the expiry sweep revokes it.
	sub.Status = domain.StatusCancelled
	sub.AutoRenew = false
	if err := tx.UpdateSubscription(ctx, *sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (p *Projectors) projectWithdrawal(ctx context.Context, tx domain.ProjectionTx, ev domain.RawEvent, pl domain.WithdrawalPayload) error {
	if err := tx.DebitBalance(ctx, pl.Creator, pl.AmountStroops); err != nil {
		if errors.Is(err, domain.ErrInsufficientRecordedBalance) {
			// Read-model and chain disagree about this creator's balance. The
			// chain is the source of truth; record the divergence for
			// reconciliation instead of forcing the balance negative.
			p.logger.Error("withdrawal exceeds recorded balance, reconciliation required",
				"event_id", ev.ID, "creator", pl.Creator, "amount_stroops", pl.AmountStroops)
		}
		return fmt.Errorf("debit balance: %w", err)
	}
	w := domain.WithdrawalRecord{
		EventID:       ev.ID,
		Creator:       pl.Creator,
		AmountStroops: pl.AmountStroops,
		Destination:   pl.Destination,
		WithdrawnAt:   ev.ObservedAt,
	}
	if err := tx.InsertWithdrawal(ctx, w); err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (p *Projectors) projectContentMinted(ctx context.Context, tx domain.ProjectionTx, ev domain.RawEvent, pl domain.ContentMintedPayload) error {
	c := domain.ContentRecord{
		ContentID:    pl.ContentID,
		EventID:      ev.ID,
		Creator:      pl.Creator,
		PriceStroops: pl.PriceStroops,
		Published:    pl.Published,
		MintedAt:     ev.ObservedAt,
	}
	if err := tx.UpsertContent(ctx, c); err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

func (p *Projectors) projectLifecycleNotice(ctx context.Context, tx domain.ProjectionTx, pl domain.LifecycleNoticePayload) error {
	sub, err := tx.SubscriptionByID(ctx, pl.SubscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("subscription %d: %w", pl.SubscriptionID, domain.ErrUnknownSubscription)
		}
		return fmt.Errorf("lookup subscription: %w", err)
	}

	switch pl.NoticeKind {
	case domain.KindExpiringSoon:
		if sub.Status != domain.StatusActive || sub.ExpiryNotified {
			// Already notified, or the subscription moved on while the notice
			// was in flight.
			return nil
		}
		sub.Status = domain.StatusExpiring
		sub.ExpiryNotified = true
		if err := tx.UpdateSubscription(ctx, *sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		p.logger.Info("subscription expiring soon",
			"subscription_id", sub.ID, "subscriber", sub.Subscriber, "creator", sub.Creator, "expiry", sub.ExpiryDate)
		return nil
	case domain.KindExpired:
		if sub.Status == domain.StatusExpired {
			return nil
		}
		sub.Status = domain.StatusExpired
		if err := tx.UpdateSubscription(ctx, *sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if err := tx.RevokeSubscriptionAccess(ctx, sub.ID); err != nil {
			return fmt.Errorf("revoke subscription access: %w", err)
		}
		p.logger.Info("subscription expired",
			"subscription_id", sub.ID, "subscriber", sub.Subscriber, "creator", sub.Creator)
		return nil
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEventKind, pl.NoticeKind)
	}
}
