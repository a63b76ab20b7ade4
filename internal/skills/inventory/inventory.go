// Package inventory implements the inventory.collectors skill: the registry
// of known collector scripts and the contract that keeps it honest against
// the filesystem.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/scripts"
	"sofiapulse/internal/skill"
	"sofiapulse/internal/store"
)

// Name is the canonical skill name.
const Name = "inventory.collectors"

// scanListCap bounds the orphaned / registered_but_missing lists.
const scanListCap = 50

// Noise directories skipped during scan.
var noiseDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
}

// Store is the slice of the persistence layer this skill needs.
type Store interface {
	ListCollectors(ctx context.Context, status string) ([]store.Collector, error)
	ListEnabledCollectors(ctx context.Context) ([]store.Collector, error)
	GetCollector(ctx context.Context, collectorID string) (store.Collector, error)
	RegisterCollector(ctx context.Context, c store.Collector) error
	UpdateCollector(ctx context.Context, collectorID string, patch map[string]any) error
	DeprecateCollector(ctx context.Context, collectorID string) error
}

type Skill struct {
	store Store
}

func New(st Store) *Skill {
	return &Skill{store: st}
}

func (s *Skill) Execute(ctx context.Context, in skill.Input) envelope.Envelope {
	start := time.Now()
	action := in.Params.String("action", "")
	switch action {
	case "list":
		return s.list(ctx, in, start)
	case "validate":
		return s.validate(ctx, in, start)
	case "register":
		return s.register(ctx, in, start)
	case "update":
		return s.update(ctx, in, start)
	case "deprecate":
		return s.deprecate(ctx, in, start)
	case "scan":
		return s.scan(ctx, in, start)
	default:
		return envelope.Fail(envelope.CodeInvalidInput,
			fmt.Sprintf("unknown action: %q", action), start, false)
	}
}

func (s *Skill) list(ctx context.Context, in skill.Input, start time.Time) envelope.Envelope {
	status := in.Params.String("status", "")
	entries, err := s.store.ListCollectors(ctx, status)
	if err != nil {
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}

	out := make([]map[string]any, 0, len(entries))
	for _, c := range entries {
		out = append(out, project(c))
	}
	return envelope.Ok(map[string]any{
		"collectors": out,
		"count":      len(out),
	}, start)
}

func (s *Skill) validate(ctx context.Context, in skill.Input, start time.Time) envelope.Envelope {
	entries, err := s.store.ListEnabledCollectors(ctx)
	if err != nil {
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}

	var valid int
	var invalid []map[string]any
	for _, c := range entries {
		if fileExists(c.Path) {
			valid++
			continue
		}
		invalid = append(invalid, map[string]any{
			"collector_id": c.CollectorID,
			"path":         c.Path,
		})
	}

	var warnings []envelope.Note
	if len(invalid) > 0 {
		warnings = append(warnings, envelope.Note{
			Code:    envelope.CodeInventoryNotFound,
			Message: fmt.Sprintf("%d enabled collectors point to missing files", len(invalid)),
		})
	}
	return envelope.Ok(map[string]any{
		"checked": len(entries),
		"valid":   valid,
		"invalid": invalid,
	}, start, warnings...)
}

func (s *Skill) register(ctx context.Context, in skill.Input, start time.Time) envelope.Envelope {
	id := in.Params.String("collector_id", "")
	path := in.Params.String("path", "")
	if id == "" || path == "" {
		return envelope.Fail(envelope.CodeInvalidInput, "collector_id and path are required", start, false)
	}
	lang, ok := scripts.Language(path)
	if !ok {
		return envelope.Fail(envelope.CodeInvalidInput,
			fmt.Sprintf("unsupported script extension on %s", path), start, false)
	}
	if !fileExists(path) {
		return envelope.Fail(envelope.CodeInventoryNotFound,
			fmt.Sprintf("script does not exist: %s", path), start, false)
	}

	minRecords, err := in.Params.Int("expected_min_records", 1)
	if err != nil || minRecords < 0 {
		return envelope.Fail(envelope.CodeInvalidInput,
			"expected_min_records must be a non-negative integer", start, false)
	}

	c := store.Collector{
		CollectorID:        id,
		Path:               path,
		Language:           lang,
		Schedule:           in.Params.String("schedule", "daily"),
		Status:             in.Params.String("status", store.StatusActive),
		Enabled:            in.Params.Bool("enabled", true),
		ExpectedMinRecords: minRecords,
		AllowEmpty:         in.Params.Bool("allow_empty", false),
		Owner:              in.Params.String("owner", ""),
		Tags:               in.Params.StringSlice("tags"),
		OutputTables:       in.Params.StringSlice("output_tables"),
		Description:        in.Params.String("description", ""),
	}
	if in.DryRun {
		return envelope.Ok(map[string]any{"dry_run": true, "collector_id": id}, start)
	}
	if err := s.store.RegisterCollector(ctx, c); err != nil {
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}
	return envelope.Ok(map[string]any{
		"collector_id": id,
		"path":         path,
		"language":     lang,
	}, start)
}

func (s *Skill) update(ctx context.Context, in skill.Input, start time.Time) envelope.Envelope {
	id := in.Params.String("collector_id", "")
	if id == "" {
		return envelope.Fail(envelope.CodeInvalidInput, "collector_id is required", start, false)
	}

	patch := map[string]any{}
	for _, key := range []string{"path", "schedule", "status", "owner", "description"} {
		if v, ok := in.Params[key].(string); ok {
			patch[key] = v
		}
	}
	for _, key := range []string{"enabled", "allow_empty"} {
		if v, ok := in.Params[key].(bool); ok {
			patch[key] = v
		}
	}
	if _, present := in.Params["expected_min_records"]; present {
		n, err := in.Params.Int("expected_min_records", 0)
		if err != nil || n < 0 {
			return envelope.Fail(envelope.CodeInvalidInput,
				"expected_min_records must be a non-negative integer", start, false)
		}
		patch["expected_min_records"] = n
	}
	if len(patch) == 0 {
		return envelope.Fail(envelope.CodeInvalidInput, "empty patch", start, false)
	}

	if in.DryRun {
		return envelope.Ok(map[string]any{"dry_run": true, "collector_id": id}, start)
	}
	if err := s.store.UpdateCollector(ctx, id, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return envelope.Fail(envelope.CodeInventoryNotFound,
				fmt.Sprintf("unknown collector: %s", id), start, false)
		}
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}

	updated := make([]string, 0, len(patch))
	for k := range patch {
		updated = append(updated, k)
	}
	sort.Strings(updated)
	return envelope.Ok(map[string]any{
		"collector_id": id,
		"updated":      updated,
	}, start)
}

func (s *Skill) deprecate(ctx context.Context, in skill.Input, start time.Time) envelope.Envelope {
	id := in.Params.String("collector_id", "")
	if id == "" {
		return envelope.Fail(envelope.CodeInvalidInput, "collector_id is required", start, false)
	}
	if in.DryRun {
		return envelope.Ok(map[string]any{"dry_run": true, "collector_id": id}, start)
	}
	if err := s.store.DeprecateCollector(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return envelope.Fail(envelope.CodeInventoryNotFound,
				fmt.Sprintf("unknown collector: %s", id), start, false)
		}
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}
	return envelope.Ok(map[string]any{
		"collector_id": id,
		"status":       store.StatusDeprecated,
	}, start)
}

func (s *Skill) scan(ctx context.Context, in skill.Input, start time.Time) envelope.Envelope {
	dir := in.Params.String("dir", "")
	if dir == "" {
		return envelope.Fail(envelope.CodeInvalidInput, "dir is required", start, false)
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return envelope.Fail(envelope.CodeFSError,
			fmt.Sprintf("not a directory: %s", dir), start, false)
	}

	found := map[string]bool{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep scanning
		}
		if d.IsDir() {
			if noiseDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if scripts.Permitted(path) {
			found[path] = true
		}
		return nil
	})
	if err != nil {
		return envelope.Fail(envelope.CodeFSError, err.Error(), start, false)
	}

	entries, err := s.store.ListCollectors(ctx, "")
	if err != nil {
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}
	registered := map[string]bool{}
	for _, c := range entries {
		registered[c.Path] = true
	}

	var orphaned, missing []string
	for p := range found {
		if !registered[p] {
			orphaned = append(orphaned, p)
		}
	}
	for p := range registered {
		if !found[p] {
			missing = append(missing, p)
		}
	}
	sort.Strings(orphaned)
	sort.Strings(missing)

	var warnings []envelope.Note
	if len(orphaned) > 0 {
		warnings = append(warnings, envelope.Note{
			Code:    envelope.CodeInventoryNotFound,
			Message: fmt.Sprintf("%d scripts on disk are not registered", len(orphaned)),
		})
	}
	return envelope.Ok(map[string]any{
		"scanned_dir":            dir,
		"found":                  len(found),
		"orphaned":               cap50(orphaned),
		"registered_but_missing": cap50(missing),
	}, start, warnings...)
}

func project(c store.Collector) map[string]any {
	return map[string]any{
		"collector_id":         c.CollectorID,
		"path":                 c.Path,
		"language":             c.Language,
		"schedule":             c.Schedule,
		"status":               c.Status,
		"enabled":              c.Enabled,
		"expected_min_records": c.ExpectedMinRecords,
		"allow_empty":          c.AllowEmpty,
		"owner":                c.Owner,
		"description":          c.Description,
	}
}

func cap50(s []string) []string {
	if len(s) > scanListCap {
		return s[:scanListCap]
	}
	return s
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
