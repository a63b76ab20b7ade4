// Package collect implements the collect.run skill: execute one collector
// script as a child process, parse its counters, classify failures, and
// persist a run ledger row around the whole thing.
package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/fsboot"
	"sofiapulse/internal/scripts"
	"sofiapulse/internal/skill"
	"sofiapulse/internal/store"
)

// Name is the canonical skill name.
const Name = "collect.run"

const (
	defaultTimeoutMS = 300_000
	outputCap        = 64 * 1024
)

// Store is the slice of the persistence layer this skill needs.
type Store interface {
	GetCollector(ctx context.Context, collectorID string) (store.Collector, error)
	StartRun(ctx context.Context, r store.Run) (string, error)
	FinishRun(ctx context.Context, runID string, fin store.RunFinish) error
}

type Skill struct {
	store    Store
	logDir   string
	fallback string
}

func New(st Store, logDir, logFallback string) *Skill {
	return &Skill{store: st, logDir: logDir, fallback: logFallback}
}

func (s *Skill) Execute(ctx context.Context, in skill.Input) envelope.Envelope {
	start := time.Now()
	p := in.Params

	collectorID := p.String("collector_id", "")
	if collectorID == "" {
		return envelope.Fail(envelope.CodeInvalidInput, "collector_id is required", start, false)
	}

	var warnings []envelope.Note
	if res, err := fsboot.EnsureLogDir(s.logDir, s.fallback); err == nil && res.FellBack {
		warnings = append(warnings, envelope.Note{Code: envelope.WarnFS, Message: res.Warning})
	}

	// Explicit path wins; otherwise the enabled inventory entry.
	path := p.String("collector_path", "")
	if path == "" {
		c, err := s.store.GetCollector(ctx, collectorID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return envelope.Fail(envelope.CodeInventoryNotFound,
					fmt.Sprintf("unknown collector: %s", collectorID), start, false, warnings...)
			}
			return envelope.Fail(envelope.CodeUnknownError, err.Error(), start, true, warnings...)
		}
		if !c.Enabled {
			return envelope.Fail(envelope.CodeInventoryNotFound,
				fmt.Sprintf("collector disabled: %s", collectorID), start, false, warnings...)
		}
		path = c.Path
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		return envelope.Fail(envelope.CodeInventoryNotFound,
			fmt.Sprintf("script does not exist: %s", path), start, false, warnings...)
	}

	argv, err := scripts.Command(path)
	if err != nil {
		return envelope.Fail(envelope.CodeInvalidInput, err.Error(), start, false, warnings...)
	}
	argv = append(argv, cliFlags(p)...)

	timeoutMS, err := p.Int("timeout_ms", defaultTimeoutMS)
	if err != nil || timeoutMS <= 0 {
		return envelope.Fail(envelope.CodeInvalidInput, "timeout_ms must be a positive integer", start, false, warnings...)
	}

	if in.DryRun {
		return envelope.Ok(map[string]any{
			"dry_run":      true,
			"collector_id": collectorID,
			"command":      argv,
		}, start, warnings...)
	}

	paramsJSON, _ := json.Marshal(p)
	runID := uuid.NewString()
	if _, err := s.store.StartRun(ctx, store.Run{
		RunID:         runID,
		TraceID:       in.TraceID,
		CollectorID:   collectorID,
		CollectorPath: path,
		Actor:         in.Actor,
		ParamsJSON:    paramsJSON,
		Env:           in.Context.Env,
	}); err != nil {
		return envelope.Fail(envelope.CodeUnknownError,
			fmt.Sprintf("ledger start: %v", err), start, true, warnings...)
	}

	res := s.spawn(ctx, argv, in.TraceID, runID, time.Duration(timeoutMS)*time.Millisecond)
	counters := ParseCounters(res.stdout + "\n" + res.stderr)

	finish := func(ok bool, code, msg string) {
		// The finish update must land on every terminal path; ledger
		// write failures must not mask the run result.
		_ = s.store.FinishRun(context.WithoutCancel(ctx), runID, store.RunFinish{
			Fetched:      counters.Fetched,
			Saved:        counters.Saved,
			Skipped:      counters.Skipped,
			ExitCode:     res.exitCode,
			OK:           ok,
			ErrorCode:    code,
			ErrorMessage: msg,
			DurationMS:   time.Since(start).Milliseconds(),
		})
	}

	switch {
	case res.timedOut:
		finish(false, envelope.CodeTimeout, fmt.Sprintf("killed after %d ms", timeoutMS))
		return envelope.Fail(envelope.CodeTimeout,
			fmt.Sprintf("%s timed out after %d ms", collectorID, timeoutMS), start, true, warnings...)

	case res.spawnErr != nil:
		msg := res.spawnErr.Error()
		finish(false, envelope.CodeDependencyMissing, msg)
		return envelope.Fail(envelope.CodeDependencyMissing, msg, start, false, warnings...)

	case res.exitCode != 0:
		code, retryable := ClassifyFailure(res.stderr)
		msg := fmt.Sprintf("exit %d: %s", res.exitCode, firstLine(res.stderr))
		finish(false, code, msg)
		return envelope.Fail(code, msg, start, retryable, warnings...)
	}

	// Success in the ledger. A zero-record, non-forced run is a business
	// classification layered on top by the caller and by the audit.
	empty := counters.Fetched == 0 && counters.Saved == 0 && !p.Bool("force", false)
	finish(true, "", "")
	if empty {
		warnings = append(warnings, envelope.Note{
			Code:    envelope.WarnCollectEmpty,
			Message: fmt.Sprintf("%s returned no records", collectorID),
		})
	}

	return envelope.Ok(map[string]any{
		"run_id":         runID,
		"collector_id":   collectorID,
		"collector_path": path,
		"fetched":        counters.Fetched,
		"saved":          counters.Saved,
		"skipped":        counters.Skipped,
		"duration_ms":    time.Since(start).Milliseconds(),
		"exit_code":      res.exitCode,
	}, start, warnings...)
}

type spawnResult struct {
	stdout   string
	stderr   string
	exitCode int
	timedOut bool
	spawnErr error
}

func (s *Skill) spawn(ctx context.Context, argv []string, traceID, runID string, timeout time.Duration) spawnResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"SOFIA_TRACE_ID="+traceID,
		"SOFIA_RUN_ID="+runID,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: outputCap}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: outputCap}

	err := cmd.Run()

	res := spawnResult{stdout: stdout.String(), stderr: stderr.String()}
	if runCtx.Err() == context.DeadlineExceeded {
		res.timedOut = true
		res.exitCode = -1
		return res
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			return res
		}
		// The interpreter itself could not be started.
		res.spawnErr = err
		res.exitCode = -1
		return res
	}
	return res
}

// cliFlags renders the child CLI: --<k> <v> per args entry, then the
// standard pass-through flags.
func cliFlags(p skill.Params) []string {
	var flags []string

	args := p.Map("args")
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flags = append(flags, "--"+k, fmt.Sprint(args[k]))
	}

	for _, k := range []string{"since", "until"} {
		if v := p.String(k, ""); v != "" {
			flags = append(flags, "--"+k, v)
		}
	}
	if limit, err := p.Int("limit", 0); err == nil && limit > 0 {
		flags = append(flags, "--limit", strconv.Itoa(limit))
	}
	if p.Bool("force", false) {
		flags = append(flags, "--force")
	}
	return flags
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

type limitedWriter struct {
	w         *bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	orig := len(p)
	if l.w.Len() >= l.limit {
		l.truncated = true
		return orig, nil
	}
	if l.w.Len()+orig > l.limit {
		p = p[:l.limit-l.w.Len()]
		l.truncated = true
	}
	if _, err := l.w.Write(p); err != nil {
		return 0, err
	}
	return orig, nil
}
