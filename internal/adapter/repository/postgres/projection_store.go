package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/lumen-indexer/internal/domain"
)

// ProjectionStore implements domain.ProjectionStore: the projector's
// read-model mutations and the applied-event marker commit in one
// transaction.
type ProjectionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewProjectionStore(db *sql.DB, logger *slog.Logger) *ProjectionStore {
	return &ProjectionStore{db: db, logger: logger.With("component", "projection_store")}
}

func (s *ProjectionStore) Apply(ctx context.Context, event domain.RawEvent, fn func(tx domain.ProjectionTx) error) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection tx: %w", err)
	}
	defer txn.Rollback() // no-op after Commit

	if err := fn(&projectionTx{tx: txn}); err != nil {
		return err
	}

	// The dispatcher checked the marker before calling Apply and there is
	// exactly one writer, so a conflict here means a second writer snuck in.
	if _, err := txn.ExecContext(ctx,
		`INSERT INTO applied_events (event_id) VALUES ($1)`, event.ID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("applied marker already exists for event %s: %w", event.ID, err)
		}
		return fmt.Errorf("write applied marker: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit projection tx: %w", err)
	}
	return nil
}

// projectionTx implements domain.ProjectionTx on a single *sql.Tx.
type projectionTx struct {
	tx *sql.Tx
}

func (t *projectionTx) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (event_id, buyer, creator, content_id, amount_stroops, creator_stroops, tx_hash, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.EventID, p.Buyer, p.Creator, p.ContentID, p.AmountStroops, p.CreatorStroops, p.TxHash, p.PurchasedAt)
	return err
}

// IncrementPurchaseCount bumps the counter, creating a minimal content row if
// the mint event has not been indexed yet.
func (t *projectionTx) IncrementPurchaseCount(ctx context.Context, contentID int64, creator string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO content (content_id, creator, purchase_count) VALUES ($1, $2, 1)
		ON CONFLICT (content_id) DO UPDATE SET purchase_count = content.purchase_count + 1`,
		contentID, creator)
	return err
}

func (t *projectionTx) GrantContentAccess(ctx context.Context, account string, contentID int64, eventID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO access_grants (account, content_id, event_id) VALUES ($1, $2, $3)
		ON CONFLICT (account, content_id) WHERE content_id IS NOT NULL DO NOTHING`,
		account, contentID, eventID)
	return err
}

func (t *projectionTx) GrantCreatorAccess(ctx context.Context, account, creator string, subscriptionID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO access_grants (account, creator, subscription_id) VALUES ($1, $2, $3)
		ON CONFLICT (account, subscription_id) WHERE subscription_id IS NOT NULL DO NOTHING`,
		account, creator, subscriptionID)
	return err
}

func (t *projectionTx) RevokeSubscriptionAccess(ctx context.Context, subscriptionID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM access_grants WHERE subscription_id = $1`, subscriptionID)
	return err
}

func (t *projectionTx) InsertTip(ctx context.Context, tip domain.Tip) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tips (event_id, tipper, creator, amount_stroops, creator_stroops, message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tip.EventID, tip.Tipper, tip.Creator, tip.AmountStroops, tip.CreatorStroops, tip.Message, tip.SentAt)
	return err
}

func (t *projectionTx) CreditEarnings(ctx context.Context, creator string, amountStroops int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO creator_balances (creator, total_earned_stroops, available_stroops)
		VALUES ($1, $2, $2)
		ON CONFLICT (creator) DO UPDATE SET
			total_earned_stroops = creator_balances.total_earned_stroops + EXCLUDED.total_earned_stroops,
			available_stroops = creator_balances.available_stroops + EXCLUDED.available_stroops`,
		creator, amountStroops)
	return err
}

const subscriptionColumns = `id, event_id, subscriber, creator, tier_id, start_date, expiry_date, status, auto_renew, expiry_notified`

func scanSubscription(row interface{ Scan(...any) error }) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(&s.ID, &s.EventID, &s.Subscriber, &s.Creator, &s.TierID,
		&s.StartDate, &s.ExpiryDate, &s.Status, &s.AutoRenew, &s.ExpiryNotified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *projectionTx) ActiveSubscription(ctx context.Context, subscriber, creator string) (*domain.Subscription, error) {
	return scanSubscription(t.tx.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE subscriber = $1 AND creator = $2 AND status = 'active'`,
		subscriber, creator))
}

func (t *projectionTx) LatestSubscription(ctx context.Context, subscriber, creator string) (*domain.Subscription, error) {
	return scanSubscription(t.tx.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE subscriber = $1 AND creator = $2 ORDER BY id DESC LIMIT 1`,
		subscriber, creator))
}

func (t *projectionTx) SubscriptionByID(ctx context.Context, id int64) (*domain.Subscription, error) {
	return scanSubscription(t.tx.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
}

func (t *projectionTx) InsertSubscription(ctx context.Context, s domain.Subscription) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO subscriptions (event_id, subscriber, creator, tier_id, start_date, expiry_date, status, auto_renew, expiry_notified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		s.EventID, s.Subscriber, s.Creator, s.TierID, s.StartDate, s.ExpiryDate,
		string(s.Status), s.AutoRenew, s.ExpiryNotified).Scan(&id)
	if err != nil {
		// The partial unique index backs the at-most-one-active invariant even
		// if the projector's lookup raced anything.
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("subscriber %s creator %s: %w", s.Subscriber, s.Creator, domain.ErrDuplicateActiveSubscription)
		}
		return 0, err
	}
	return id, nil
}

func (t *projectionTx) UpdateSubscription(ctx context.Context, s domain.Subscription) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET tier_id = $2, start_date = $3, expiry_date = $4, status = $5, auto_renew = $6, expiry_notified = $7
		WHERE id = $1`,
		s.ID, s.TierID, s.StartDate, s.ExpiryDate, string(s.Status), s.AutoRenew, s.ExpiryNotified)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("subscription %d: %w", s.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *projectionTx) InsertWithdrawal(ctx context.Context, w domain.WithdrawalRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO withdrawals (event_id, creator, amount_stroops, destination, withdrawn_at)
		VALUES ($1, $2, $3, $4, $5)`,
		w.EventID, w.Creator, w.AmountStroops, w.Destination, w.WithdrawnAt)
	return err
}

// DebitBalance refuses to drive the available balance negative; zero affected
// rows means either no balance row or not enough in it.
func (t *projectionTx) DebitBalance(ctx context.Context, creator string, amountStroops int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE creator_balances
		SET available_stroops = available_stroops - $2,
		    withdrawn_stroops = withdrawn_stroops + $2
		WHERE creator = $1 AND available_stroops >= $2`,
		creator, amountStroops)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("creator %s debit %d: %w", creator, amountStroops, domain.ErrInsufficientRecordedBalance)
	}
	return nil
}

func (t *projectionTx) UpsertContent(ctx context.Context, c domain.ContentRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO content (content_id, event_id, creator, price_stroops, published, minted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_id) DO UPDATE SET
			event_id = EXCLUDED.event_id,
			creator = EXCLUDED.creator,
			price_stroops = EXCLUDED.price_stroops,
			published = EXCLUDED.published,
			minted_at = EXCLUDED.minted_at`,
		c.ContentID, c.EventID, c.Creator, c.PriceStroops, c.Published, c.MintedAt)
	return err
}
