package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetWatermark returns the last-processed marker for
// (skill_name, domain, detector). Detector is stored as '' for domain-level
// watermarks so the unique key never contains NULL. ErrNotFound when never
// advanced.
func (s *Store) GetWatermark(ctx context.Context, skillName, domain, detector string) (Watermark, error) {
	var w Watermark
	err := s.pool.QueryRow(ctx, `
		SELECT skill_name, domain, detector, last_processed_at
		FROM skill_state
		WHERE skill_name=$1 AND domain=$2 AND detector=$3
	`, skillName, domain, detector).Scan(&w.SkillName, &w.Domain, &w.Detector, &w.LastProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Watermark{}, ErrNotFound
	}
	return w, err
}

// AdvanceWatermark moves last_processed_at forward, monotonically: an update
// that would regress the marker is a no-op.
func (s *Store) AdvanceWatermark(ctx context.Context, skillName, domain, detector string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO skill_state (skill_name, domain, detector, last_processed_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (skill_name, domain, detector) DO UPDATE SET
		  last_processed_at = GREATEST(skill_state.last_processed_at, EXCLUDED.last_processed_at)
	`, skillName, domain, detector, ts)
	return err
}
