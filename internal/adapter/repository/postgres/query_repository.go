package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user/lumen-indexer/internal/domain"
)

// QueryRepository implements domain.ReadModel over the projection tables.
type QueryRepository struct {
	db *sql.DB
}

func NewQueryRepository(db *sql.DB) *QueryRepository {
	return &QueryRepository{db: db}
}

// ExpiringSubscriptions returns every subscription that is not yet expired and
// whose expiry falls before the sweep horizon. Cancelled rows are included
// because cancellation keeps access until the paid period lapses.
func (r *QueryRepository) ExpiringSubscriptions(ctx context.Context, asOf time.Time, window time.Duration) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('active', 'expiring', 'cancelled') AND expiry_date < $1
		ORDER BY expiry_date`,
		asOf.Add(window))
	if err != nil {
		return nil, fmt.Errorf("query expiring subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (r *QueryRepository) SubscriptionsBySubscriber(ctx context.Context, subscriber string) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE subscriber = $1 ORDER BY id DESC`, subscriber)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows *sql.Rows) ([]domain.Subscription, error) {
	defer rows.Close()
	var out []domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *QueryRepository) PurchasesByBuyer(ctx context.Context, buyer string) ([]domain.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, buyer, creator, content_id, amount_stroops, creator_stroops, tx_hash, purchased_at
		FROM purchases WHERE buyer = $1 ORDER BY purchased_at DESC`, buyer)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.EventID, &p.Buyer, &p.Creator, &p.ContentID,
			&p.AmountStroops, &p.CreatorStroops, &p.TxHash, &p.PurchasedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasContentAccess checks both grant shapes: a per-content grant from a direct
// purchase, or a creator-wide grant from a subscription to the content's
// creator.
func (r *QueryRepository) HasContentAccess(ctx context.Context, account string, contentID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM access_grants
			WHERE account = $1 AND content_id = $2
		) OR EXISTS (
			SELECT 1 FROM access_grants g
			JOIN content c ON c.creator = g.creator
			WHERE g.account = $1 AND g.subscription_id IS NOT NULL AND c.content_id = $2
		)`, account, contentID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check content access: %w", err)
	}
	return ok, nil
}

const contentColumns = `content_id, event_id, creator, price_stroops, published, purchase_count, minted_at`

func (r *QueryRepository) Content(ctx context.Context, contentID int64) (*domain.ContentRecord, error) {
	var c domain.ContentRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+` FROM content WHERE content_id = $1`, contentID).
		Scan(&c.ContentID, &c.EventID, &c.Creator, &c.PriceStroops, &c.Published, &c.PurchaseCount, &c.MintedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	return &c, nil
}

func (r *QueryRepository) ContentByCreator(ctx context.Context, creator string) ([]domain.ContentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contentColumns+` FROM content WHERE creator = $1 ORDER BY content_id`, creator)
	if err != nil {
		return nil, fmt.Errorf("query creator content: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentRecord
	for rows.Next() {
		var c domain.ContentRecord
		if err := rows.Scan(&c.ContentID, &c.EventID, &c.Creator, &c.PriceStroops,
			&c.Published, &c.PurchaseCount, &c.MintedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *QueryRepository) CreatorEarnings(ctx context.Context, creator string) (*domain.CreatorEarnings, error) {
	e := domain.CreatorEarnings{Creator: creator}
	err := r.db.QueryRowContext(ctx, `
		SELECT total_earned_stroops, available_stroops, withdrawn_stroops
		FROM creator_balances WHERE creator = $1`, creator).
		Scan(&e.TotalEarnedStroops, &e.AvailableStroops, &e.WithdrawnStroops)
	if errors.Is(err, sql.ErrNoRows) {
		// No recorded revenue yet is a zero balance, not an error.
		return &e, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query creator earnings: %w", err)
	}
	return &e, nil
}

func (r *QueryRepository) SubscriptionStats(ctx context.Context, creator string) (*domain.SubscriptionStats, error) {
	s := domain.SubscriptionStats{Creator: creator}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'expiring'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM subscriptions WHERE creator = $1`, creator).
		Scan(&s.ActiveSubscribers, &s.ExpiringSubscribers, &s.CancelledSubscribers)
	if err != nil {
		return nil, fmt.Errorf("query subscription stats: %w", err)
	}
	return &s, nil
}
