// Package audit implements the runs.audit skill: compare an expected set of
// collectors against the run ledger for a window and compute an objective
// health verdict.
package audit

import (
	"context"
	"fmt"
	"time"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/skill"
	"sofiapulse/internal/store"
)

// Name is the canonical skill name.
const Name = "runs.audit"

// Store is the slice of the persistence layer this skill needs.
type Store interface {
	ListEnabledCollectors(ctx context.Context) ([]store.Collector, error)
	ListRunsBetween(ctx context.Context, from, to time.Time) ([]store.Run, error)
}

type Skill struct {
	store Store
	tz    *time.Location
	now   func() time.Time
}

// New builds the audit skill. tz fixes the wall-clock zone for day windows;
// day and UTC boundaries are never mixed in one query.
func New(st Store, tz *time.Location) *Skill {
	if tz == nil {
		tz = time.UTC
	}
	return &Skill{store: st, tz: tz, now: time.Now}
}

func (s *Skill) Execute(ctx context.Context, in skill.Input) envelope.Envelope {
	start := time.Now()
	p := in.Params

	from, to, windowLabel, err := s.window(p)
	if err != nil {
		return envelope.Fail(envelope.CodeInvalidInput, err.Error(), start, false)
	}

	enabled, err := s.store.ListEnabledCollectors(ctx)
	if err != nil {
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}
	expected := resolveExpected(p.StringSlice("expected_collectors"), enabled)

	runs, err := s.store.ListRunsBetween(ctx, from, to)
	if err != nil {
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}

	res := Classify(expected, runs)

	includeDetails := p.Bool("include_details", true)
	includeSucceeded := p.Bool("include_succeeded", true)

	data := map[string]any{
		"window": windowLabel,
		"summary": map[string]any{
			"expected":  res.Expected,
			"ran":       res.Ran,
			"succeeded": len(res.Succeeded),
			"failed":    len(res.Failed),
			"empty":     len(res.Empty),
			"missing":   len(res.Missing),
		},
		"health_check": map[string]any{
			"healthy": res.Healthy(),
			"missing": len(res.Missing),
			"failed":  len(res.Failed),
			"empty":   len(res.Empty),
		},
		"failed":  entriesOut(res.Failed, includeDetails),
		"empty":   entriesOut(res.Empty, includeDetails),
		"missing": res.Missing,
	}
	if includeSucceeded {
		data["succeeded"] = entriesOut(res.Succeeded, includeDetails)
	}

	var warnings []envelope.Note
	if !res.Healthy() {
		// Code name is historical; it covers any unhealthy state.
		warnings = append(warnings, envelope.Note{
			Code: envelope.WarnAuditNoRuns,
			Message: fmt.Sprintf("unhealthy window %s: %d missing, %d failed, %d empty",
				windowLabel, len(res.Missing), len(res.Failed), len(res.Empty)),
		})
	}
	return envelope.Ok(data, start, warnings...)
}

// window resolves the audit window: since_hours mode wins over day mode;
// day mode defaults to today in the configured wall-clock zone.
func (s *Skill) window(p skill.Params) (from, to time.Time, label string, err error) {
	sinceHours, err := p.Int("since_hours", 0)
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	now := s.now()
	if sinceHours > 0 {
		return now.Add(-time.Duration(sinceHours) * time.Hour), now,
			fmt.Sprintf("last %dh", sinceHours), nil
	}

	day := now.In(s.tz)
	if d := p.String("date", ""); d != "" {
		day, err = time.ParseInLocation("2006-01-02", d, s.tz)
		if err != nil {
			return time.Time{}, time.Time{}, "", fmt.Errorf("date must be YYYY-MM-DD: %w", err)
		}
	}
	from = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.tz)
	return from, from.AddDate(0, 0, 1), from.Format("2006-01-02"), nil
}

// resolveExpected builds the expected set. An explicit list is intersected
// with enabled entries; otherwise the legacy default is every enabled entry
// scheduled daily. The legacy path is frozen: modern drivers always pass an
// explicit list.
func resolveExpected(explicit []string, enabled []store.Collector) []Expectation {
	byID := make(map[string]store.Collector, len(enabled))
	for _, c := range enabled {
		byID[c.CollectorID] = c
	}

	var out []Expectation
	if len(explicit) > 0 {
		for _, id := range explicit {
			if c, ok := byID[id]; ok {
				out = append(out, expectation(c))
			}
		}
		return out
	}
	for _, c := range enabled {
		if c.Schedule == "daily" {
			out = append(out, expectation(c))
		}
	}
	return out
}

func expectation(c store.Collector) Expectation {
	return Expectation{
		CollectorID: c.CollectorID,
		ExpectedMin: c.ExpectedMinRecords,
		AllowEmpty:  c.AllowEmpty,
	}
}

func entriesOut(entries []Entry, details bool) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if !details {
			m := map[string]any{
				"collector_id": e.CollectorID,
				"saved":        e.Saved,
				"expected_min": e.ExpectedMin,
			}
			if e.ErrorCode != "" {
				m["error_code"] = e.ErrorCode
			}
			out = append(out, m)
			continue
		}
		m := map[string]any{
			"collector_id": e.CollectorID,
			"run_id":       e.RunID,
			"saved":        e.Saved,
			"expected_min": e.ExpectedMin,
		}
		if e.ErrorCode != "" {
			m["error_code"] = e.ErrorCode
			m["error_message"] = e.ErrorMsg
		}
		out = append(out, m)
	}
	return out
}
