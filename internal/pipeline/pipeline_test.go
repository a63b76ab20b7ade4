package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/skill"
	"sofiapulse/internal/skills/audit"
	"sofiapulse/internal/skills/budget"
	"sofiapulse/internal/skills/collect"
	"sofiapulse/internal/skills/notify"
	"sofiapulse/internal/store"
)

type call struct {
	name   string
	params skill.Params
}

// fakeRunner scripts per-skill behavior and records every invocation.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]func(skill.Params) envelope.Envelope
}

func newFakeRunner() *fakeRunner {
	f := &fakeRunner{handlers: map[string]func(skill.Params) envelope.Envelope{}}
	// Defaults keep the pipeline green unless a test overrides them.
	f.handlers["logger.event"] = okEnv
	f.handlers[collect.Name] = func(p skill.Params) envelope.Envelope {
		return envelope.Ok(map[string]any{"saved": 5}, time.Now())
	}
	f.handlers[budget.Name] = okEnv
	f.handlers[audit.Name] = func(skill.Params) envelope.Envelope { return auditEnv(true) }
	f.handlers[notify.Name] = func(skill.Params) envelope.Envelope {
		return envelope.Ok(map[string]any{"sent": true}, time.Now())
	}
	return f
}

func okEnv(skill.Params) envelope.Envelope {
	return envelope.Ok(map[string]any{}, time.Now())
}

func auditEnv(healthy bool) envelope.Envelope {
	return envelope.Ok(map[string]any{
		"summary":      map[string]any{"expected": 3, "failed": 0},
		"health_check": map[string]any{"healthy": healthy},
	}, time.Now())
}

func (f *fakeRunner) Run(_ context.Context, name string, params skill.Params, _ ...skill.RunOption) envelope.Envelope {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, params: params})
	h := f.handlers[name]
	f.mu.Unlock()
	if h == nil {
		return envelope.Fail(envelope.CodeInvalidInput, "unscripted skill "+name, time.Now(), false)
	}
	return h(params)
}

func (f *fakeRunner) callsTo(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

type fakeInventory struct {
	collectors []store.Collector
}

func (f *fakeInventory) ListCollectors(_ context.Context, status string) ([]store.Collector, error) {
	var out []store.Collector
	for _, c := range f.collectors {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	starts   []store.Run
	finishes []store.RunFinish
}

func (f *fakeLedger) StartRun(_ context.Context, r store.Run) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, r)
	return "run-" + r.CollectorID, nil
}

func (f *fakeLedger) FinishRun(_ context.Context, _ string, fin store.RunFinish) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes = append(f.finishes, fin)
	return nil
}

type fakeDeduper struct {
	firstSend bool
	calls     []string
}

func (f *fakeDeduper) MarkNotificationSent(_ context.Context, date, channel, hash string) (bool, error) {
	f.calls = append(f.calls, date+"/"+channel+"/"+hash)
	return f.firstSend, nil
}

func testCollectors() []store.Collector {
	mk := func(id string) store.Collector {
		return store.Collector{
			CollectorID:        id,
			Path:               "/opt/" + id + ".py",
			Status:             store.StatusActive,
			Enabled:            true,
			ExpectedMinRecords: 1,
		}
	}
	return []store.Collector{mk("bacen-sgs"), mk("ga4-events"), mk("misc-scraper")}
}

func newTestDriver(r Runner, ledger Ledger, deduper Deduper, opts Options) *Driver {
	inv := &fakeInventory{collectors: testCollectors()}
	if opts.DenylistPath == "" {
		opts.DenylistPath = "/nonexistent/denylist.json"
	}
	if opts.ExpectedConfigPath == "" {
		opts.ExpectedConfigPath = "/nonexistent/expected.json"
	}
	opts.Env = "test"
	opts.Timezone = time.UTC
	d := New(r, inv, ledger, deduper, nil, nil, opts)
	d.sleep = func(time.Duration) {}
	d.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return d
}

func TestPipelineHealthyDay(t *testing.T) {
	r := newFakeRunner()

	report, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true}, Options{}).
		Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.GateHealthy)
	assert.True(t, report.AuditHealthy)
	assert.Len(t, r.callsTo(collect.Name), 3, "every expected collector runs once")
	assert.Len(t, r.callsTo(audit.Name), 2, "gate audit plus full audit")
	assert.Empty(t, r.callsTo(notify.Name), "healthy day without always-notify stays quiet")
	assert.Equal(t, "healthy, always-notify off", report.NotifySkip)
	assert.NotEmpty(t, report.TraceID)
}

func TestPipelineAlwaysNotify(t *testing.T) {
	r := newFakeRunner()

	report, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true},
		Options{AlwaysNotify: true, NotifyTo: "admin"}).Run(context.Background())
	require.NoError(t, err)

	notifies := r.callsTo(notify.Name)
	require.Len(t, notifies, 1)
	assert.Equal(t, "info", notifies[0].params.String("severity", ""))
	assert.True(t, report.Notified)
}

func TestPipelineRetriesOnlySourceDown(t *testing.T) {
	r := newFakeRunner()
	attempts := map[string]int{}
	var mu sync.Mutex
	r.handlers[collect.Name] = func(p skill.Params) envelope.Envelope {
		mu.Lock()
		defer mu.Unlock()
		id := p.String("collector_id", "")
		attempts[id]++
		if id == "bacen-sgs" && attempts[id] < 3 {
			return envelope.Fail(envelope.CodeSourceDown, "connection refused", time.Now(), true)
		}
		if id == "misc-scraper" {
			return envelope.Fail(envelope.CodeScriptError, "exit 1", time.Now(), false)
		}
		return envelope.Ok(map[string]any{"saved": 5}, time.Now())
	}

	report, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true}, Options{}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, attempts["bacen-sgs"], "source-down retried twice, then succeeded")
	assert.Equal(t, 1, attempts["misc-scraper"], "script errors never retried")

	byID := map[string]CollectorResult{}
	for _, res := range report.Results {
		byID[res.CollectorID] = res
	}
	assert.True(t, byID["bacen-sgs"].OK)
	assert.Equal(t, 3, byID["bacen-sgs"].Attempts)
	assert.Equal(t, envelope.CodeScriptError, byID["misc-scraper"].ErrorCode)
}

func TestPipelineSourceDownExhaustion(t *testing.T) {
	r := newFakeRunner()
	attempts := 0
	var mu sync.Mutex
	r.handlers[collect.Name] = func(p skill.Params) envelope.Envelope {
		mu.Lock()
		defer mu.Unlock()
		if p.String("collector_id", "") == "bacen-sgs" {
			attempts++
			return envelope.Fail(envelope.CodeSourceDown, "down", time.Now(), true)
		}
		return envelope.Ok(map[string]any{"saved": 1}, time.Now())
	}

	report, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true}, Options{}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
	for _, res := range report.Results {
		if res.CollectorID == "bacen-sgs" {
			assert.False(t, res.OK)
			assert.Equal(t, envelope.CodeSourceDown, res.ErrorCode)
		}
	}
}

func TestPipelineBestEffortNeverRetries(t *testing.T) {
	r := newFakeRunner()
	attempts := 0
	var mu sync.Mutex
	r.handlers[collect.Name] = func(p skill.Params) envelope.Envelope {
		mu.Lock()
		defer mu.Unlock()
		if p.String("collector_id", "") == "misc-scraper" {
			attempts++
			return envelope.Fail(envelope.CodeSourceDown, "down", time.Now(), true)
		}
		return envelope.Ok(map[string]any{"saved": 1}, time.Now())
	}

	_, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true}, Options{}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, attempts, "retries are a required-group policy only")
}

func TestPipelineBudgetDenialSkipsGA4(t *testing.T) {
	r := newFakeRunner()
	r.handlers[budget.Name] = func(skill.Params) envelope.Envelope {
		return envelope.Fail(envelope.CodeBudgetExceeded, "over budget", time.Now(), false)
	}
	ledger := &fakeLedger{}

	report, err := newTestDriver(r, ledger, &fakeDeduper{firstSend: true}, Options{}).
		Run(context.Background())
	require.NoError(t, err)

	for _, c := range r.callsTo(collect.Name) {
		assert.NotEqual(t, "ga4-events", c.params.String("collector_id", ""),
			"denied ga4 collectors must not spawn")
	}

	require.Len(t, ledger.starts, 1)
	assert.Equal(t, "ga4-events", ledger.starts[0].CollectorID)
	require.Len(t, ledger.finishes, 1)
	assert.False(t, ledger.finishes[0].OK)
	assert.Equal(t, envelope.CodeBudgetExceeded, ledger.finishes[0].ErrorCode)

	byID := map[string]CollectorResult{}
	for _, res := range report.Results {
		byID[res.CollectorID] = res
	}
	assert.True(t, byID["ga4-events"].Skipped)
	assert.Equal(t, envelope.CodeBudgetExceeded, byID["ga4-events"].ErrorCode)
}

func TestPipelineBrokenBudgetGuardStillRunsGA4(t *testing.T) {
	r := newFakeRunner()
	r.handlers[budget.Name] = func(skill.Params) envelope.Envelope {
		return envelope.Fail(envelope.CodeUnknownError, "store unavailable", time.Now(), true)
	}
	ledger := &fakeLedger{}

	report, err := newTestDriver(r, ledger, &fakeDeduper{firstSend: true}, Options{}).
		Run(context.Background())
	require.NoError(t, err)

	var ranGA4 bool
	for _, c := range r.callsTo(collect.Name) {
		if c.params.String("collector_id", "") == "ga4-events" {
			ranGA4 = true
		}
	}
	assert.True(t, ranGA4, "a broken guard is not a denial")
	assert.Empty(t, ledger.starts, "no budget-skip rows without a real denial")

	for _, res := range report.Results {
		assert.False(t, res.Skipped)
		assert.NotEqual(t, envelope.CodeBudgetExceeded, res.ErrorCode)
	}
}

func TestPipelineUnhealthyGateNotifiesCritical(t *testing.T) {
	r := newFakeRunner()
	r.handlers[audit.Name] = func(skill.Params) envelope.Envelope { return auditEnv(false) }
	dedupe := &fakeDeduper{firstSend: true}

	report, err := newTestDriver(r, &fakeLedger{}, dedupe, Options{NotifyTo: "admin"}).
		Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.GateHealthy)
	notifies := r.callsTo(notify.Name)
	require.Len(t, notifies, 1)
	assert.Equal(t, "critical", notifies[0].params.String("severity", ""))
	assert.Len(t, dedupe.calls, 1)
}

func TestPipelineNotificationDedupe(t *testing.T) {
	r := newFakeRunner()
	r.handlers[audit.Name] = func(skill.Params) envelope.Envelope { return auditEnv(false) }
	dedupe := &fakeDeduper{firstSend: false} // same content already sent today

	report, err := newTestDriver(r, &fakeLedger{}, dedupe, Options{NotifyTo: "admin"}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, r.callsTo(notify.Name), "duplicate content is not re-sent")
	assert.False(t, report.Notified)
	assert.Contains(t, report.NotifySkip, "2026-08-30")
}

func TestPipelineDryRunSkipsLedgerAndDedupe(t *testing.T) {
	r := newFakeRunner()
	r.handlers[budget.Name] = func(skill.Params) envelope.Envelope {
		return envelope.Fail(envelope.CodeBudgetExceeded, "over", time.Now(), false)
	}
	r.handlers[audit.Name] = func(skill.Params) envelope.Envelope { return auditEnv(false) }
	ledger := &fakeLedger{}
	dedupe := &fakeDeduper{firstSend: true}

	_, err := newTestDriver(r, ledger, dedupe, Options{DryRun: true, NotifyTo: "admin"}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, ledger.starts, "dry run writes no ledger rows")
	assert.Empty(t, dedupe.calls, "dry run records no dedupe markers")
}

func TestPipelineAuditReceivesExplicitExpectedSets(t *testing.T) {
	r := newFakeRunner()

	_, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true}, Options{}).
		Run(context.Background())
	require.NoError(t, err)

	audits := r.callsTo(audit.Name)
	require.Len(t, audits, 2)
	gate := audits[0].params.StringSlice("expected_collectors")
	full := audits[1].params.StringSlice("expected_collectors")
	assert.Equal(t, []string{"bacen-sgs", "ga4-events"}, gate)
	assert.Equal(t, []string{"bacen-sgs", "ga4-events", "misc-scraper"}, full)
}

func TestPipelineVerifyAllWidensGateAudit(t *testing.T) {
	r := newFakeRunner()

	_, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true},
		Options{VerifyAll: true}).Run(context.Background())
	require.NoError(t, err)

	audits := r.callsTo(audit.Name)
	require.Len(t, audits, 2)
	gate := audits[0].params.StringSlice("expected_collectors")
	assert.Equal(t, []string{"bacen-sgs", "ga4-events", "misc-scraper"}, gate)
}

func TestPipelineDatePassedToAudit(t *testing.T) {
	r := newFakeRunner()

	_, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true},
		Options{Date: "2026-08-29"}).Run(context.Background())
	require.NoError(t, err)

	for _, a := range r.callsTo(audit.Name) {
		assert.Equal(t, "2026-08-29", a.params.String("date", ""))
	}
}

func TestPipelineTimeoutPropagatedToCollect(t *testing.T) {
	r := newFakeRunner()

	_, err := newTestDriver(r, &fakeLedger{}, &fakeDeduper{firstSend: true}, Options{}).
		Run(context.Background())
	require.NoError(t, err)

	for _, c := range r.callsTo(collect.Name) {
		ms, errInt := c.params.Int("timeout_ms", 0)
		require.NoError(t, errInt)
		if c.params.String("collector_id", "") == "ga4-events" {
			assert.Equal(t, 600_000, ms)
		} else {
			assert.Equal(t, 300_000, ms)
		}
	}
}
