// Package budget implements the budget.guard skill: before/after accounting
// of monetary cost per scope, blocking over-budget operations.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/skill"
	"sofiapulse/internal/store"
)

// Name is the canonical skill name.
const Name = "budget.guard"

const (
	// ScopeDay windows usage since local-day start; other scopes are
	// all-time.
	ScopeDay = "day"

	// GlobalScopeID is the fallback scope id when no specific limit exists.
	GlobalScopeID = "global"

	// DefaultDailyLimit applies when not even the (day, global) limit row
	// exists.
	DefaultDailyLimit = 10.0

	// warnFraction: remaining below this share of the limit attaches a
	// BUDGET_WARNING to an allowed decision.
	warnFraction = 0.2
)

// Store is the slice of the persistence layer this skill needs.
type Store interface {
	GetActiveLimit(ctx context.Context, scope, scopeID string) (store.BudgetLimit, error)
	SumUsageSince(ctx context.Context, scope, scopeID string, since time.Time) (float64, error)
	InsertUsage(ctx context.Context, u store.BudgetUsage) error
}

type Skill struct {
	store  Store
	logger *slog.Logger
	tz     *time.Location
	now    func() time.Time
}

// New builds the guard. tz fixes the wall-clock zone for day windows.
func New(st Store, logger *slog.Logger, tz *time.Location) *Skill {
	if logger == nil {
		logger = slog.Default()
	}
	if tz == nil {
		tz = time.UTC
	}
	return &Skill{store: st, logger: logger, tz: tz, now: time.Now}
}

// Execute is the check entry point: decide whether estimated_cost fits the
// active limit for (scope, scope_id).
func (s *Skill) Execute(ctx context.Context, in skill.Input) envelope.Envelope {
	start := time.Now()
	p := in.Params

	scope := p.String("scope", ScopeDay)
	scopeID := p.String("scope_id", GlobalScopeID)
	estimated, err := p.Float("estimated_cost", 0)
	if err != nil || estimated < 0 {
		return envelope.Fail(envelope.CodeInvalidInput,
			"estimated_cost must be a non-negative number", start, false)
	}

	limit, err := s.resolveLimit(ctx, scope, scopeID)
	if err != nil {
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}

	var since time.Time
	if scope == ScopeDay {
		since = dayStart(s.now().In(s.tz))
	}
	current, err := s.store.SumUsageSince(ctx, scope, scopeID, since)
	if err != nil {
		return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true)
	}

	remaining := limit - current - estimated
	allowed := current+estimated <= limit

	if !allowed {
		return envelope.Fail(envelope.CodeBudgetExceeded,
			fmt.Sprintf("budget exceeded for %s/%s: current %.4f + estimated %.4f > limit %.4f",
				scope, scopeID, current, estimated, limit), start, false)
	}

	var warnings []envelope.Note
	if remaining < warnFraction*limit {
		warnings = append(warnings, envelope.Note{
			Code: envelope.WarnBudget,
			Message: fmt.Sprintf("budget for %s/%s nearly exhausted: %.4f of %.4f remaining",
				scope, scopeID, remaining, limit),
		})
	}

	return envelope.Ok(map[string]any{
		"allowed":   true,
		"scope":     scope,
		"scope_id":  scopeID,
		"current":   current,
		"limit":     limit,
		"remaining": remaining,
		"reason":    "within budget",
	}, start, warnings...)
}

// resolveLimit looks up (scope, scope_id), falls back to (day, global), and
// finally to the built-in default.
func (s *Skill) resolveLimit(ctx context.Context, scope, scopeID string) (float64, error) {
	l, err := s.store.GetActiveLimit(ctx, scope, scopeID)
	if err == nil {
		return l.LimitCost, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	l, err = s.store.GetActiveLimit(ctx, ScopeDay, GlobalScopeID)
	if err == nil {
		return l.LimitCost, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	return DefaultDailyLimit, nil
}

// RecordUsage appends a usage row after a paid operation completes. Best
// effort: failures are logged, never propagated, so the observer cannot
// break the observed operation.
func (s *Skill) RecordUsage(ctx context.Context, u store.BudgetUsage) {
	if u.Scope == "" {
		u.Scope = ScopeDay
	}
	if u.ScopeID == "" {
		u.ScopeID = GlobalScopeID
	}
	if u.Requests == 0 {
		u.Requests = 1
	}
	if err := s.store.InsertUsage(ctx, u); err != nil {
		s.logger.Warn("budget usage record failed",
			"scope", u.Scope, "scope_id", u.ScopeID, "cost", u.Cost, "error", err)
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
