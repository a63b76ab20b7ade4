package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a collector id is not in the inventory.
var ErrNotFound = errors.New("collector not found")

const collectorColumns = `collector_id, path, language, schedule, status, enabled,
	expected_min_records, allow_empty, COALESCE(owner,''), tags, output_tables,
	COALESCE(description,''), created_at, updated_at`

func scanCollector(row pgx.Row) (Collector, error) {
	var c Collector
	err := row.Scan(&c.CollectorID, &c.Path, &c.Language, &c.Schedule, &c.Status,
		&c.Enabled, &c.ExpectedMinRecords, &c.AllowEmpty, &c.Owner, &c.Tags,
		&c.OutputTables, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ListCollectors returns inventory entries, optionally filtered by status,
// ordered by collector_id.
func (s *Store) ListCollectors(ctx context.Context, status string) ([]Collector, error) {
	q := `SELECT ` + collectorColumns + ` FROM collector_inventory`
	var args []any
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY collector_id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Collector
	for rows.Next() {
		c, err := scanCollector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListEnabledCollectors returns all enabled entries ordered by collector_id.
func (s *Store) ListEnabledCollectors(ctx context.Context) ([]Collector, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+collectorColumns+`
		FROM collector_inventory
		WHERE enabled
		ORDER BY collector_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Collector
	for rows.Next() {
		c, err := scanCollector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCollector fetches a single inventory entry.
func (s *Store) GetCollector(ctx context.Context, collectorID string) (Collector, error) {
	c, err := scanCollector(s.pool.QueryRow(ctx, `
		SELECT `+collectorColumns+`
		FROM collector_inventory
		WHERE collector_id = $1
	`, collectorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Collector{}, ErrNotFound
	}
	return c, err
}

// RegisterCollector inserts an inventory entry. Re-registration of an
// existing collector_id only refreshes path and updated_at (idempotent).
func (s *Store) RegisterCollector(ctx context.Context, c Collector) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collector_inventory
			(collector_id, path, language, schedule, status, enabled,
			 expected_min_records, allow_empty, owner, tags, output_tables, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (collector_id) DO UPDATE SET
		  path=EXCLUDED.path,
		  updated_at=now()
	`, c.CollectorID, c.Path, c.Language, c.Schedule, c.Status, c.Enabled,
		c.ExpectedMinRecords, c.AllowEmpty, nullIfEmpty(c.Owner),
		emptyIfNil(c.Tags), emptyIfNil(c.OutputTables), nullIfEmpty(c.Description))
	return err
}

// Patchable inventory fields accepted by UpdateCollector.
var patchableFields = map[string]string{
	"path":                 "path",
	"schedule":             "schedule",
	"status":               "status",
	"enabled":              "enabled",
	"expected_min_records": "expected_min_records",
	"allow_empty":          "allow_empty",
	"owner":                "owner",
	"description":          "description",
}

// UpdateCollector patches a subset of fields on an existing entry. Unknown
// fields in the patch are rejected; an empty patch is an error at the caller.
func (s *Store) UpdateCollector(ctx context.Context, collectorID string, patch map[string]any) error {
	sets := make([]string, 0, len(patch)+1)
	args := make([]any, 0, len(patch)+1)
	args = append(args, collectorID)

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		col, ok := patchableFields[k]
		if !ok {
			return fmt.Errorf("unknown field: %s", k)
		}
		args = append(args, patch[k])
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	sets = append(sets, "updated_at=now()")

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE collector_inventory SET %s WHERE collector_id=$1
	`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeprecateCollector retires an entry. History (ledger rows) is kept.
func (s *Store) DeprecateCollector(ctx context.Context, collectorID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE collector_inventory
		SET status=$2, enabled=false, updated_at=now()
		WHERE collector_id=$1
	`, collectorID, StatusDeprecated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
