package collect

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/skill"
	"sofiapulse/internal/store"
)

type fakeStore struct {
	collectors map[string]store.Collector
	starts     []store.Run
	finishes   map[string]store.RunFinish
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collectors: map[string]store.Collector{},
		finishes:   map[string]store.RunFinish{},
	}
}

func (f *fakeStore) GetCollector(_ context.Context, id string) (store.Collector, error) {
	c, ok := f.collectors[id]
	if !ok {
		return store.Collector{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) StartRun(_ context.Context, r store.Run) (string, error) {
	f.starts = append(f.starts, r)
	return r.RunID, nil
}

func (f *fakeStore) FinishRun(_ context.Context, runID string, fin store.RunFinish) error {
	f.finishes[runID] = fin
	return nil
}

func writeScript(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("print('ok')\n"), 0o755))
	return path
}

func testInput(params skill.Params) skill.Input {
	return skill.Input{
		TraceID: "trace-test",
		Actor:   "test",
		Params:  params,
		Context: skill.Context{Env: "test", Timezone: "UTC", Locale: "en-US"},
	}
}

func TestExecuteRequiresCollectorID(t *testing.T) {
	s := New(newFakeStore(), t.TempDir(), "")

	env := s.Execute(context.Background(), testInput(skill.Params{}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInvalidInput, env.FirstError().Code)
}

func TestExecuteUnknownCollector(t *testing.T) {
	s := New(newFakeStore(), t.TempDir(), "")

	env := s.Execute(context.Background(), testInput(skill.Params{"collector_id": "nope"}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInventoryNotFound, env.FirstError().Code)
	assert.False(t, env.FirstError().Retryable)
}

func TestExecuteDisabledCollector(t *testing.T) {
	fs := newFakeStore()
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Path: "/x.py", Enabled: false}
	s := New(fs, t.TempDir(), "")

	env := s.Execute(context.Background(), testInput(skill.Params{"collector_id": "c1"}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInventoryNotFound, env.FirstError().Code)
}

func TestExecuteMissingScriptFile(t *testing.T) {
	fs := newFakeStore()
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Path: "/does/not/exist.py", Enabled: true}
	s := New(fs, t.TempDir(), "")

	env := s.Execute(context.Background(), testInput(skill.Params{"collector_id": "c1"}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInventoryNotFound, env.FirstError().Code)
	assert.Empty(t, fs.starts, "no ledger row before the script resolves")
}

func TestExecuteRejectsBadTimeout(t *testing.T) {
	fs := newFakeStore()
	path := writeScript(t, "c1.py")
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Path: path, Enabled: true}
	s := New(fs, t.TempDir(), "")

	env := s.Execute(context.Background(), testInput(skill.Params{
		"collector_id": "c1",
		"timeout_ms":   -5,
	}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInvalidInput, env.FirstError().Code)
}

func TestExecuteDryRun(t *testing.T) {
	fs := newFakeStore()
	path := writeScript(t, "c1.py")
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Path: path, Enabled: true}
	s := New(fs, t.TempDir(), "")

	in := testInput(skill.Params{"collector_id": "c1", "since": "2026-08-01"})
	in.DryRun = true
	env := s.Execute(context.Background(), in)

	require.True(t, env.OK)
	assert.Equal(t, true, env.Data["dry_run"])
	cmd, ok := env.Data["command"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"python3", path, "--since", "2026-08-01"}, cmd)
	assert.Empty(t, fs.starts, "dry run must not touch the ledger")
}

func TestExecuteExplicitPathWins(t *testing.T) {
	fs := newFakeStore()
	path := writeScript(t, "override.py")
	s := New(fs, t.TempDir(), "")

	in := testInput(skill.Params{"collector_id": "c1", "collector_path": path})
	in.DryRun = true
	env := s.Execute(context.Background(), in)

	require.True(t, env.OK, "explicit path skips the inventory lookup")
}

func TestCliFlags(t *testing.T) {
	flags := cliFlags(skill.Params{
		"args":  map[string]any{"year": 2026, "region": "br"},
		"since": "2026-01-01",
		"until": "2026-01-31",
		"limit": 100,
		"force": true,
	})

	assert.Equal(t, []string{
		"--region", "br",
		"--year", "2026",
		"--since", "2026-01-01",
		"--until", "2026-01-31",
		"--limit", "100",
		"--force",
	}, flags)
}

func TestCliFlagsEmpty(t *testing.T) {
	assert.Empty(t, cliFlags(skill.Params{}))
}

// The tests below spawn real interpreter child processes.

func writePython(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	path := filepath.Join(t.TempDir(), "collector.py")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestExecuteSpawnSuccessCounters(t *testing.T) {
	fs := newFakeStore()
	path := writePython(t, "print('fetched: 5')\nprint('saved: 3')\nprint('skipped: 1')\n")
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Path: path, Enabled: true}
	s := New(fs, t.TempDir(), "")

	env := s.Execute(context.Background(), testInput(skill.Params{"collector_id": "c1"}))

	require.True(t, env.OK)
	assert.Equal(t, 5, env.Data["fetched"])
	assert.Equal(t, 3, env.Data["saved"])
	assert.Equal(t, 1, env.Data["skipped"])
	assert.Equal(t, 0, env.Data["exit_code"])
	assert.False(t, env.HasWarning(envelope.WarnCollectEmpty))

	require.Len(t, fs.starts, 1)
	runID := fs.starts[0].RunID
	assert.Equal(t, runID, env.Data["run_id"])
	fin, ok := fs.finishes[runID]
	require.True(t, ok, "finish row must land")
	assert.True(t, fin.OK)
	assert.Equal(t, 3, fin.Saved)
	assert.Empty(t, fin.ErrorCode)
}

func TestExecuteSpawnZeroSavedReturnsEmptyWarning(t *testing.T) {
	fs := newFakeStore()
	path := writePython(t, "print('saved: 0')\n")
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Path: path, Enabled: true}
	s := New(fs, t.TempDir(), "")

	env := s.Execute(context.Background(), testInput(skill.Params{"collector_id": "c1"}))

	require.True(t, env.OK, "a clean zero-record run is still ok")
	assert.True(t, env.HasWarning(envelope.WarnCollectEmpty))

	// The ledger records what happened; emptiness is a classification on top.
	fin := fs.finishes[fs.starts[0].RunID]
	assert.True(t, fin.OK)
	assert.Equal(t, 0, fin.Saved)
}

func TestExecuteSpawnStderrClassifiedSourceDown(t *testing.T) {
	fs := newFakeStore()
	path := writePython(t,
		"import sys\nsys.stderr.write('requests.exceptions.ConnectionError: connection refused\\n')\nsys.exit(1)\n")
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Path: path, Enabled: true}
	s := New(fs, t.TempDir(), "")

	env := s.Execute(context.Background(), testInput(skill.Params{"collector_id": "c1"}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeSourceDown, env.FirstError().Code)
	assert.True(t, env.FirstError().Retryable)

	fin := fs.finishes[fs.starts[0].RunID]
	assert.False(t, fin.OK)
	assert.Equal(t, envelope.CodeSourceDown, fin.ErrorCode)
	assert.Equal(t, 1, fin.ExitCode)
}

func TestExecuteSpawnTimeoutFinishesLedgerRow(t *testing.T) {
	fs := newFakeStore()
	path := writePython(t, "import time\ntime.sleep(5)\n")
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Path: path, Enabled: true}
	s := New(fs, t.TempDir(), "")

	env := s.Execute(context.Background(),
		testInput(skill.Params{"collector_id": "c1", "timeout_ms": 300}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeTimeout, env.FirstError().Code)
	assert.True(t, env.FirstError().Retryable)

	fin, ok := fs.finishes[fs.starts[0].RunID]
	require.True(t, ok, "timeout is a terminal path and must finish the row")
	assert.False(t, fin.OK)
	assert.Equal(t, envelope.CodeTimeout, fin.ErrorCode)
}

func TestLimitedWriterCapsButReportsFullWrite(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 4}

	n, err := lw.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n, "report the full length so io plumbing keeps flowing")
	assert.Equal(t, "abcd", buf.String())
	assert.True(t, lw.truncated)

	n, err = lw.Write([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abcd", buf.String(), "writes past the cap are dropped")
}
