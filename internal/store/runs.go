package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const runColumns = `run_id, trace_id, collector_id, collector_path,
	COALESCE(actor,'system'), params, COALESCE(env,''), started_at, finished_at,
	duration_ms, fetched, saved, skipped, exit_code, ok,
	COALESCE(error_code,''), COALESCE(error_message,'')`

// StartRun inserts the start row of a run ledger entry. The finish update
// must follow on every terminal path; until it does, the row is in-flight.
func (s *Store) StartRun(ctx context.Context, r Run) (string, error) {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collector_runs
			(run_id, trace_id, collector_id, collector_path, actor, params, env, started_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,now())
	`, r.RunID, r.TraceID, r.CollectorID, r.CollectorPath,
		nullIfEmpty(r.Actor), jsonOrEmpty(r.ParamsJSON), nullIfEmpty(r.Env))
	if err != nil {
		return "", err
	}
	return r.RunID, nil
}

// FinishRun writes the terminal state of a ledger row exactly once.
func (s *Store) FinishRun(ctx context.Context, runID string, fin RunFinish) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE collector_runs
		SET finished_at=now(), duration_ms=$2, fetched=$3, saved=$4, skipped=$5,
		    exit_code=$6, ok=$7, error_code=$8, error_message=$9
		WHERE run_id=$1 AND finished_at IS NULL
	`, runID, fin.DurationMS, fin.Fetched, fin.Saved, fin.Skipped,
		fin.ExitCode, fin.OK, nullIfEmpty(fin.ErrorCode),
		nullIfEmpty(truncate(fin.ErrorMessage, 500)))
	return err
}

// ListRunsBetween returns ledger rows with started_at in [from, to), newest
// first so audit can collapse duplicates to the latest row per collector.
func (s *Store) ListRunsBetween(ctx context.Context, from, to time.Time) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM collector_runs
		WHERE started_at >= $1 AND started_at < $2
		ORDER BY started_at DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.TraceID, &r.CollectorID, &r.CollectorPath,
			&r.Actor, &r.ParamsJSON, &r.Env, &r.StartedAt, &r.FinishedAt,
			&r.DurationMS, &r.Fetched, &r.Saved, &r.Skipped, &r.ExitCode, &r.OK,
			&r.ErrorCode, &r.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
