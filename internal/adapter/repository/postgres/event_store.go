// Package postgres implements the event store, checkpoint and read-model
// projections on PostgreSQL via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/user/lumen-indexer/internal/domain"
)

//go:embed schema.sql
var schemaDDL string

// Migrate applies the schema. All statements are idempotent, so running it on
// every startup is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// EventStore implements domain.EventStore.
type EventStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEventStore(db *sql.DB, logger *slog.Logger) *EventStore {
	return &EventStore{db: db, logger: logger.With("component", "event_store")}
}

// Append stores the raw event if its id is new. ON CONFLICT DO NOTHING makes
// the duplicate case an idempotent no-op, reported via stored=false.
func (s *EventStore) Append(ctx context.Context, event domain.RawEvent) (bool, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal %s payload: %w", event.Kind, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_events (event_id, position, kind, payload, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		event.ID, int64(event.Position), string(event.Kind), payload, event.ObservedAt)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *EventStore) LoadCheckpoint(ctx context.Context) (domain.Position, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, `SELECT position FROM indexer_checkpoint WHERE id`).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PositionBeginning, nil
	}
	if err != nil {
		return domain.PositionBeginning, fmt.Errorf("load checkpoint: %w", err)
	}
	return domain.Position(pos), nil
}

// AdvanceCheckpoint moves the singleton row forward. The WHERE clause on the
// upsert rejects any position that is not strictly greater, which surfaces as
// zero affected rows.
func (s *EventStore) AdvanceCheckpoint(ctx context.Context, to domain.Position) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_checkpoint (id, position) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position
		WHERE indexer_checkpoint.position < EXCLUDED.position`,
		int64(to))
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("advance to %d: %w", to, domain.ErrOutOfOrderCheckpoint)
	}
	return nil
}

func (s *EventStore) IsApplied(ctx context.Context, eventID string) (bool, error) {
	var applied bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM applied_events WHERE event_id = $1)`, eventID).Scan(&applied)
	if err != nil {
		return false, fmt.Errorf("check applied marker: %w", err)
	}
	return applied, nil
}

func (s *EventStore) DeadLetter(ctx context.Context, dl domain.DeadLetter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, event_id, kind, position, payload, reason, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dl.ID, dl.EventID, string(dl.Kind), int64(dl.Position), []byte(dl.Payload), dl.Reason, dl.Attempts, dl.FailedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *EventStore) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, kind, position, COALESCE(payload, 'null'::jsonb), reason, attempts, failed_at
		FROM dead_letters ORDER BY failed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.DeadLetter
	for rows.Next() {
		var (
			dl      domain.DeadLetter
			pos     int64
			payload []byte
		)
		if err := rows.Scan(&dl.ID, &dl.EventID, &dl.Kind, &pos, &payload, &dl.Reason, &dl.Attempts, &dl.FailedAt); err != nil {
			return nil, err
		}
		dl.Position = domain.Position(pos)
		dl.Payload = payload
		out = append(out, dl)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
