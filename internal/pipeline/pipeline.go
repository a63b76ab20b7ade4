// Package pipeline drives the daily run: sync the expected set, execute the
// required and budgeted groups, sweep the best-effort groups, audit the
// ledger, and notify operators. The gate (required + ga4) decides the exit
// code; best-effort groups never do.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/expected"
	"sofiapulse/internal/skill"
	"sofiapulse/internal/skills/audit"
	"sofiapulse/internal/skills/budget"
	"sofiapulse/internal/skills/collect"
	"sofiapulse/internal/skills/eventlog"
	"sofiapulse/internal/skills/notify"
	"sofiapulse/internal/store"
)

// Per-phase parallelism: required is serial, ga4 narrow, best-effort wider.
const (
	requiredParallel   = 1
	ga4Parallel        = 2
	bestEffortParallel = 3

	requiredRetries = 2
	retrySleep      = 5 * time.Second
)

// Runner dispatches skill invocations; satisfied by *skill.Runner.
type Runner interface {
	Run(ctx context.Context, name string, params skill.Params, opts ...skill.RunOption) envelope.Envelope
}

// Ledger records budget-denied runs so the audit sees them as failed rather
// than missing.
type Ledger interface {
	StartRun(ctx context.Context, r store.Run) (string, error)
	FinishRun(ctx context.Context, runID string, fin store.RunFinish) error
}

// Deduper blocks duplicate notifications per (date, channel, hash).
type Deduper interface {
	MarkNotificationSent(ctx context.Context, date, channel, messageHash string) (bool, error)
}

// UsageRecorder appends budget usage after paid group runs; best effort.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u store.BudgetUsage)
}

// Options configure one driver instance.
type Options struct {
	SyncExpected bool
	VerifyAll    bool
	DryRun       bool
	Date         string // YYYY-MM-DD override for the audit window
	Env          string
	Timezone     *time.Location

	DenylistPath       string
	ExpectedConfigPath string
	ExpectedLegacyPath string

	GA4EstimatedCost float64
	MaxOffenders     int
	NotifyTo         string
	AlwaysNotify     bool
}

// CollectorResult is the driver's view of one collector execution.
type CollectorResult struct {
	CollectorID string
	Group       string
	OK          bool
	Empty       bool
	Skipped     bool
	Attempts    int
	ErrorCode   string
}

// Report is the outcome of a full pipeline run.
type Report struct {
	TraceID      string
	GateHealthy  bool
	AuditHealthy bool
	Results      []CollectorResult
	Notified     bool
	NotifySkip   string
}

type Driver struct {
	runner    Runner
	inventory expected.Inventory
	ledger    Ledger
	deduper   Deduper
	usage     UsageRecorder
	logger    *slog.Logger
	opts      Options
	sleep     func(time.Duration)
	now       func() time.Time
}

func New(runner Runner, inv expected.Inventory, ledger Ledger, deduper Deduper, usage UsageRecorder, logger *slog.Logger, opts Options) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timezone == nil {
		opts.Timezone = time.UTC
	}
	if opts.GA4EstimatedCost <= 0 {
		opts.GA4EstimatedCost = 0.5
	}
	if opts.MaxOffenders <= 0 {
		opts.MaxOffenders = 10
	}
	return &Driver{
		runner:    runner,
		inventory: inv,
		ledger:    ledger,
		deduper:   deduper,
		usage:     usage,
		logger:    logger,
		opts:      opts,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Run executes the phases in strict order under one trace id. It never
// returns an error for gate failures; the report carries the verdict. Only
// catastrophic setup problems (expected set underivable) surface as errors.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	traceID := skill.TraceID()
	report := Report{TraceID: traceID}

	set, err := d.syncExpectedSet(ctx, traceID)
	if err != nil {
		return report, err
	}

	d.phaseEvent(ctx, traceID, "pipeline_start", map[string]any{
		"collectors": len(set.IDs()),
		"gate":       len(set.GateIDs()),
	})

	// Phase 1: required, serial, with retries on transient source errors.
	report.Results = append(report.Results,
		d.runGroup(ctx, traceID, expected.GroupRequired, set.Groups[expected.GroupRequired], requiredParallel, requiredRetries)...)

	// Phase 2: ga4, gated by budget.
	report.Results = append(report.Results, d.runGA4(ctx, traceID, set)...)

	// Phase 3: best-effort groups; failures here never move the gate.
	for _, g := range []string{expected.GroupTech, expected.GroupResearch, expected.GroupJobs, expected.GroupPatents, expected.GroupOther} {
		report.Results = append(report.Results,
			d.runGroup(ctx, traceID, g, set.Groups[g], bestEffortParallel, 0)...)
	}

	// Phase 4: audit. The gate audit decides the exit code; the full audit
	// feeds the notification. VerifyAll widens the gate to every collector.
	gateIDs := set.GateIDs()
	if d.opts.VerifyAll {
		gateIDs = set.IDs()
	}
	gateEnv := d.audit(ctx, traceID, gateIDs)
	fullEnv := d.audit(ctx, traceID, set.IDs())
	report.GateHealthy = auditHealthy(gateEnv)
	report.AuditHealthy = auditHealthy(fullEnv)

	// Phase 5: notify, deduped by content hash per local day.
	d.notify(ctx, traceID, &report, fullEnv)

	d.phaseEvent(ctx, traceID, "pipeline_done", map[string]any{
		"gate_healthy":  report.GateHealthy,
		"audit_healthy": report.AuditHealthy,
	})
	return report, nil
}

// syncExpectedSet rebuilds and persists the expected set, or loads the last
// persisted one when syncing is disabled.
func (d *Driver) syncExpectedSet(ctx context.Context, traceID string) (expected.Set, error) {
	if !d.opts.SyncExpected {
		if set, err := expected.Load(d.opts.ExpectedConfigPath); err == nil {
			return set, nil
		}
		// No usable file; fall through to an in-memory build.
	}
	d.phaseEvent(ctx, traceID, "sync_expected", nil)

	deny, err := expected.LoadDenylist(d.opts.DenylistPath)
	if err != nil {
		return expected.Set{}, err
	}
	set, err := expected.Build(ctx, d.inventory, deny)
	if err != nil {
		return expected.Set{}, err
	}
	if d.opts.SyncExpected && !d.opts.DryRun {
		if err := set.WriteFiles(d.opts.ExpectedConfigPath, d.opts.ExpectedLegacyPath); err != nil {
			d.logger.Warn("expected set write failed", "error", err)
		}
	}
	return set, nil
}

func (d *Driver) runGroup(ctx context.Context, traceID, group string, members []expected.Member, parallel, retries int) []CollectorResult {
	if len(members) == 0 {
		return nil
	}
	d.phaseEvent(ctx, traceID, "group_start", map[string]any{"group": group, "size": len(members)})

	results := make([]CollectorResult, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, m := range members {
		i, m := i, m
		g.Go(func() error {
			results[i] = d.runCollector(gctx, traceID, group, m, retries)
			return nil
		})
	}
	_ = g.Wait()

	d.phaseEvent(ctx, traceID, "group_done", map[string]any{"group": group})
	return results
}

// runCollector invokes collect.run, retrying only transient source failures.
func (d *Driver) runCollector(ctx context.Context, traceID, group string, m expected.Member, retries int) CollectorResult {
	res := CollectorResult{CollectorID: m.CollectorID, Group: group}

	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1
		env := d.runner.Run(ctx, collect.Name, skill.Params{
			"collector_id": m.CollectorID,
			"timeout_ms":   m.TimeoutS * 1000,
		}, skill.WithTraceID(traceID), skill.WithDryRun(d.opts.DryRun))

		if env.OK {
			res.OK = true
			res.Empty = env.HasWarning(envelope.WarnCollectEmpty)
			return res
		}

		first := env.FirstError()
		res.ErrorCode = first.Code
		if first.Code == envelope.CodeSourceDown && attempt < retries {
			d.logger.Warn("collector source down, retrying",
				"collector_id", m.CollectorID, "attempt", attempt+1)
			d.sleep(retrySleep)
			continue
		}
		return res
	}
}

// runGA4 checks the budget for the whole group, then either executes it or
// records every member as failed with BUDGET_EXCEEDED.
func (d *Driver) runGA4(ctx context.Context, traceID string, set expected.Set) []CollectorResult {
	members := set.Groups[expected.GroupGA4]
	if len(members) == 0 {
		return nil
	}

	check := d.runner.Run(ctx, budget.Name, skill.Params{
		"scope":          budget.ScopeDay,
		"scope_id":       budget.GlobalScopeID,
		"estimated_cost": d.opts.GA4EstimatedCost,
	}, skill.WithTraceID(traceID))

	if !check.OK {
		if check.FirstError().Code == envelope.CodeBudgetExceeded {
			d.phaseEvent(ctx, traceID, "ga4_budget_denied", map[string]any{
				"estimated_cost": d.opts.GA4EstimatedCost,
			})
			out := make([]CollectorResult, 0, len(members))
			for _, m := range members {
				d.recordBudgetSkip(ctx, traceID, m)
				out = append(out, CollectorResult{
					CollectorID: m.CollectorID,
					Group:       expected.GroupGA4,
					Skipped:     true,
					ErrorCode:   envelope.CodeBudgetExceeded,
					Attempts:    0,
				})
			}
			return out
		}
		// A broken guard (store error, bad input) is not a denial; run the
		// group and let the usage row land as usual.
		d.logger.Warn("budget check failed, proceeding",
			"code", check.FirstError().Code, "error", check.FirstError().Message)
	}

	results := d.runGroup(ctx, traceID, expected.GroupGA4, members, ga4Parallel, 0)
	if d.usage != nil && !d.opts.DryRun {
		d.usage.RecordUsage(ctx, store.BudgetUsage{
			Scope:   budget.ScopeDay,
			ScopeID: budget.GlobalScopeID,
			TraceID: traceID,
			Skill:   "pipeline.ga4",
			Cost:    d.opts.GA4EstimatedCost,
		})
	}
	return results
}

// recordBudgetSkip writes a failed ledger row so the audit classifies the
// collector as failed (not missing) with the budget error code.
func (d *Driver) recordBudgetSkip(ctx context.Context, traceID string, m expected.Member) {
	if d.ledger == nil || d.opts.DryRun {
		return
	}
	runID, err := d.ledger.StartRun(ctx, store.Run{
		TraceID:     traceID,
		CollectorID: m.CollectorID,
		Actor:       "system",
		Env:         d.opts.Env,
	})
	if err != nil {
		d.logger.Warn("budget-skip ledger start failed", "collector_id", m.CollectorID, "error", err)
		return
	}
	if err := d.ledger.FinishRun(ctx, runID, store.RunFinish{
		ExitCode:     -1,
		OK:           false,
		ErrorCode:    envelope.CodeBudgetExceeded,
		ErrorMessage: "run skipped: daily budget exhausted",
	}); err != nil {
		d.logger.Warn("budget-skip ledger finish failed", "collector_id", m.CollectorID, "error", err)
	}
}

func (d *Driver) audit(ctx context.Context, traceID string, ids []string) envelope.Envelope {
	params := skill.Params{
		"expected_collectors": toAny(ids),
		"include_details":     true,
		"include_succeeded":   false,
	}
	if d.opts.Date != "" {
		params["date"] = d.opts.Date
	}
	return d.runner.Run(ctx, audit.Name, params, skill.WithTraceID(traceID))
}

func (d *Driver) notify(ctx context.Context, traceID string, report *Report, fullAudit envelope.Envelope) {
	severity := "info"
	switch {
	case !report.GateHealthy:
		severity = "critical"
	case !report.AuditHealthy:
		severity = "warning"
	}
	if severity == "info" && !d.opts.AlwaysNotify {
		report.NotifySkip = "healthy, always-notify off"
		return
	}

	title := "Sofia daily pipeline"
	body, summary := d.renderAudit(fullAudit, report)
	formatted := notify.FormatMessage(severity, title, body, summary)

	date := d.now().In(d.opts.Timezone).Format("2006-01-02")
	if d.deduper != nil && !d.opts.DryRun {
		h := sha256.Sum256([]byte(formatted))
		firstSend, err := d.deduper.MarkNotificationSent(ctx, date, "whatsapp", hex.EncodeToString(h[:]))
		if err != nil {
			d.logger.Warn("notify dedupe check failed", "error", err)
		} else if !firstSend {
			d.phaseEvent(ctx, traceID, "notify_deduped", map[string]any{"date": date})
			report.NotifySkip = "duplicate for " + date
			return
		}
	}

	env := d.runner.Run(ctx, notify.Name, skill.Params{
		"to":       d.opts.NotifyTo,
		"severity": severity,
		"title":    title,
		"message":  body,
		"summary":  map[string]any(summary),
	}, skill.WithTraceID(traceID), skill.WithDryRun(d.opts.DryRun))
	report.Notified = env.OK && !env.HasWarning(envelope.WarnWppDisabled)
}

// renderAudit turns the full audit envelope into the operator message: the
// counts plus the top offenders when unhealthy.
func (d *Driver) renderAudit(fullAudit envelope.Envelope, report *Report) (string, skill.Params) {
	summary := skill.Params{}
	if fullAudit.OK {
		if s, ok := fullAudit.Data["summary"].(map[string]any); ok {
			for k, v := range s {
				summary[k] = v
			}
		}
	}

	var offenders []string
	for _, r := range report.Results {
		if !r.OK && !r.Empty {
			offenders = append(offenders, fmt.Sprintf("%s (%s)", r.CollectorID, r.ErrorCode))
		} else if r.Empty {
			offenders = append(offenders, fmt.Sprintf("%s (empty)", r.CollectorID))
		}
	}
	sort.Strings(offenders)
	if len(offenders) > d.opts.MaxOffenders {
		offenders = offenders[:d.opts.MaxOffenders]
	}

	body := "gate healthy"
	if !report.GateHealthy {
		body = "gate UNHEALTHY"
	} else if !report.AuditHealthy {
		body = "gate healthy, best-effort groups degraded"
	}
	if len(offenders) > 0 {
		body += "\noffenders:"
		for _, o := range offenders {
			body += "\n  - " + o
		}
	}
	return body, summary
}

func (d *Driver) phaseEvent(ctx context.Context, traceID, event string, fields map[string]any) {
	params := skill.Params{
		"level":   "info",
		"event":   event,
		"skill":   "pipeline.daily",
		"message": event,
	}
	if fields != nil {
		params["fields"] = fields
	}
	_ = d.runner.Run(ctx, eventlog.Name, params,
		skill.WithTraceID(traceID), skill.WithDryRun(d.opts.DryRun))
}

func auditHealthy(env envelope.Envelope) bool {
	if !env.OK {
		return false
	}
	hc, ok := env.Data["health_check"].(map[string]any)
	if !ok {
		return false
	}
	healthy, _ := hc["healthy"].(bool)
	return healthy
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
