package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// ReplacementStore keeps the history of finished replacements.
type ReplacementStore struct {
	pool *pgxpool.Pool
}

// NewReplacementStore creates a ReplacementStore on pool.
func NewReplacementStore(pool *pgxpool.Pool) *ReplacementStore {
	return &ReplacementStore{pool: pool}
}

// Insert stores r. Inserting the same id twice is a no-op.
func (s *ReplacementStore) Insert(ctx context.Context, r domain.Replacement) error {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return fmt.Errorf("postgres: replacement id %q: %w", r.ID, err)
	}

	const query = `
		INSERT INTO replacements (
			id, strategy, symbol, target_amount, target_rate, filled_amount,
			replaced_ids, returned_ids, outcome, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		id, r.Strategy, r.Symbol, r.TargetAmount, r.TargetRate, r.FilledAmount,
		nonNil(r.ReplacedIDs), nonNil(r.ReturnedIDs), string(r.Outcome),
		r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert replacement %s: %w", r.ID, err)
	}
	return nil
}

// ListRecent returns up to limit replacements for symbol, newest first.
func (s *ReplacementStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.Replacement, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, strategy, symbol, target_amount, target_rate, filled_amount,
		       replaced_ids, returned_ids, outcome, started_at, completed_at
		FROM replacements
		WHERE symbol = $1
		ORDER BY completed_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list replacements: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Replacement, error) {
		var (
			r       domain.Replacement
			id      uuid.UUID
			outcome string
		)
		err := row.Scan(&id, &r.Strategy, &r.Symbol, &r.TargetAmount, &r.TargetRate, &r.FilledAmount,
			&r.ReplacedIDs, &r.ReturnedIDs, &outcome, &r.StartedAt, &r.CompletedAt)
		r.ID = id.String()
		r.Outcome = domain.ReplacementOutcome(outcome)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan replacements: %w", err)
	}
	return out, nil
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

var _ domain.ReplacementStore = (*ReplacementStore)(nil)
