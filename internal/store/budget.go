package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetActiveLimit returns the active budget limit for (scope, scope_id).
// ErrNotFound means no active limit row exists for that pair.
func (s *Store) GetActiveLimit(ctx context.Context, scope, scopeID string) (BudgetLimit, error) {
	var l BudgetLimit
	err := s.pool.QueryRow(ctx, `
		SELECT scope, scope_id, limit_cost, active
		FROM budget_limits
		WHERE scope=$1 AND scope_id=$2 AND active
	`, scope, scopeID).Scan(&l.Scope, &l.ScopeID, &l.LimitCost, &l.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return BudgetLimit{}, ErrNotFound
	}
	return l, err
}

// SumUsageSince sums cost for a scope since a point in time. A zero since
// sums all-time, used for non-day scopes.
func (s *Store) SumUsageSince(ctx context.Context, scope, scopeID string, since time.Time) (float64, error) {
	q := `SELECT COALESCE(SUM(cost), 0) FROM budget_usage WHERE scope=$1 AND scope_id=$2`
	args := []any{scope, scopeID}
	if !since.IsZero() {
		q += ` AND created_at >= $3`
		args = append(args, since)
	}
	var total float64
	err := s.pool.QueryRow(ctx, q, args...).Scan(&total)
	return total, err
}

// InsertUsage appends a usage row after a paid operation completes.
func (s *Store) InsertUsage(ctx context.Context, u BudgetUsage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO budget_usage
			(scope, scope_id, trace_id, skill, provider, cost, tokens_in, tokens_out, requests)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, u.Scope, u.ScopeID, nullIfEmpty(u.TraceID), nullIfEmpty(u.Skill),
		nullIfEmpty(u.Provider), u.Cost, u.TokensIn, u.TokensOut, u.Requests)
	return err
}

// SetLimit upserts a budget limit (admin surface).
func (s *Store) SetLimit(ctx context.Context, l BudgetLimit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO budget_limits (scope, scope_id, limit_cost, active)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (scope, scope_id) DO UPDATE SET
		  limit_cost=EXCLUDED.limit_cost,
		  active=EXCLUDED.active
	`, l.Scope, l.ScopeID, l.LimitCost, l.Active)
	return err
}
