package inventory

import (
	"context"
	"os"
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
	patches    map[string]map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collectors: map[string]store.Collector{},
		patches:    map[string]map[string]any{},
	}
}

func (f *fakeStore) ListCollectors(_ context.Context, status string) ([]store.Collector, error) {
	var out []store.Collector
	for _, c := range f.collectors {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListEnabledCollectors(context.Context) ([]store.Collector, error) {
	var out []store.Collector
	for _, c := range f.collectors {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCollector(_ context.Context, id string) (store.Collector, error) {
	c, ok := f.collectors[id]
	if !ok {
		return store.Collector{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) RegisterCollector(_ context.Context, c store.Collector) error {
	if prev, ok := f.collectors[c.CollectorID]; ok {
		// Same conflict semantics as the real store: re-register refreshes
		// the path only.
		prev.Path = c.Path
		f.collectors[c.CollectorID] = prev
		return nil
	}
	f.collectors[c.CollectorID] = c
	return nil
}

func (f *fakeStore) UpdateCollector(_ context.Context, id string, patch map[string]any) error {
	if _, ok := f.collectors[id]; !ok {
		return store.ErrNotFound
	}
	f.patches[id] = patch
	return nil
}

func (f *fakeStore) DeprecateCollector(_ context.Context, id string) error {
	c, ok := f.collectors[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = store.StatusDeprecated
	c.Enabled = false
	f.collectors[id] = c
	return nil
}

func input(p skill.Params) skill.Input {
	return skill.Input{TraceID: "t", Actor: "test", Params: p}
}

func writeScript(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("print('x')\n"), 0o644))
	return path
}

func TestInventoryUnknownAction(t *testing.T) {
	env := New(newFakeStore()).Execute(context.Background(), input(skill.Params{"action": "explode"}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInvalidInput, env.FirstError().Code)
}

func TestInventoryRegisterAndList(t *testing.T) {
	fs := newFakeStore()
	s := New(fs)
	path := writeScript(t, t.TempDir(), "bacen_sgs.py")

	env := s.Execute(context.Background(), input(skill.Params{
		"action":       "register",
		"collector_id": "bacen-sgs",
		"path":         path,
	}))
	require.True(t, env.OK)
	assert.Equal(t, "python", env.Data["language"])

	env = s.Execute(context.Background(), input(skill.Params{"action": "list"}))
	require.True(t, env.OK)
	assert.Equal(t, 1, env.Data["count"])
}

func TestInventoryRegisterIdempotent(t *testing.T) {
	fs := newFakeStore()
	s := New(fs)
	dir := t.TempDir()
	p1 := writeScript(t, dir, "a.py")
	p2 := writeScript(t, dir, "b.py")

	for _, p := range []string{p1, p2} {
		env := s.Execute(context.Background(), input(skill.Params{
			"action":       "register",
			"collector_id": "c1",
			"path":         p,
		}))
		require.True(t, env.OK)
	}

	assert.Len(t, fs.collectors, 1)
	assert.Equal(t, p2, fs.collectors["c1"].Path, "re-register refreshes the path")
}

func TestInventoryRegisterRejectsBadExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	env := New(newFakeStore()).Execute(context.Background(), input(skill.Params{
		"action":       "register",
		"collector_id": "c1",
		"path":         path,
	}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInvalidInput, env.FirstError().Code)
}

func TestInventoryRegisterRequiresFile(t *testing.T) {
	env := New(newFakeStore()).Execute(context.Background(), input(skill.Params{
		"action":       "register",
		"collector_id": "c1",
		"path":         "/nope/missing.py",
	}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInventoryNotFound, env.FirstError().Code)
}

func TestInventoryValidate(t *testing.T) {
	fs := newFakeStore()
	good := writeScript(t, t.TempDir(), "good.py")
	fs.collectors["good"] = store.Collector{CollectorID: "good", Path: good, Enabled: true}
	fs.collectors["bad"] = store.Collector{CollectorID: "bad", Path: "/gone.py", Enabled: true}

	env := New(fs).Execute(context.Background(), input(skill.Params{"action": "validate"}))

	require.True(t, env.OK)
	assert.Equal(t, 2, env.Data["checked"])
	assert.Equal(t, 1, env.Data["valid"])
	invalid := env.Data["invalid"].([]map[string]any)
	require.Len(t, invalid, 1)
	assert.Equal(t, "bad", invalid[0]["collector_id"])
	assert.True(t, env.HasWarning(envelope.CodeInventoryNotFound))
}

func TestInventoryUpdatePatchesOnlyGivenFields(t *testing.T) {
	fs := newFakeStore()
	fs.collectors["c1"] = store.Collector{CollectorID: "c1"}

	env := New(fs).Execute(context.Background(), input(skill.Params{
		"action":       "update",
		"collector_id": "c1",
		"enabled":      false,
		"owner":        "data-team",
	}))

	require.True(t, env.OK)
	assert.Equal(t, []string{"enabled", "owner"}, env.Data["updated"])
	assert.Equal(t, map[string]any{"enabled": false, "owner": "data-team"}, fs.patches["c1"])
}

func TestInventoryUpdateEmptyPatch(t *testing.T) {
	fs := newFakeStore()
	fs.collectors["c1"] = store.Collector{CollectorID: "c1"}

	env := New(fs).Execute(context.Background(), input(skill.Params{
		"action":       "update",
		"collector_id": "c1",
	}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInvalidInput, env.FirstError().Code)
}

func TestInventoryUpdateUnknownCollector(t *testing.T) {
	env := New(newFakeStore()).Execute(context.Background(), input(skill.Params{
		"action":       "update",
		"collector_id": "ghost",
		"enabled":      true,
	}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeInventoryNotFound, env.FirstError().Code)
}

func TestInventoryDeprecate(t *testing.T) {
	fs := newFakeStore()
	fs.collectors["c1"] = store.Collector{CollectorID: "c1", Status: store.StatusActive, Enabled: true}

	env := New(fs).Execute(context.Background(), input(skill.Params{
		"action":       "deprecate",
		"collector_id": "c1",
	}))

	require.True(t, env.OK)
	assert.Equal(t, store.StatusDeprecated, fs.collectors["c1"].Status)
	assert.False(t, fs.collectors["c1"].Enabled)
}

func TestInventoryScan(t *testing.T) {
	fs := newFakeStore()
	dir := t.TempDir()
	registered := writeScript(t, dir, "registered.py")
	orphan := writeScript(t, dir, "orphan.py")
	writeScript(t, dir, "notes.txt") // not a script, ignored
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	writeScript(t, filepath.Join(dir, "node_modules"), "dep.js") // noise dir, skipped

	fs.collectors["r"] = store.Collector{CollectorID: "r", Path: registered}
	fs.collectors["gone"] = store.Collector{CollectorID: "gone", Path: "/gone.py"}

	env := New(fs).Execute(context.Background(), input(skill.Params{
		"action": "scan",
		"dir":    dir,
	}))

	require.True(t, env.OK)
	assert.Equal(t, 2, env.Data["found"])
	assert.Equal(t, []string{orphan}, env.Data["orphaned"])
	assert.Equal(t, []string{"/gone.py"}, env.Data["registered_but_missing"])
	assert.True(t, env.HasWarning(envelope.CodeInventoryNotFound))
}

func TestInventoryScanNotADir(t *testing.T) {
	env := New(newFakeStore()).Execute(context.Background(), input(skill.Params{
		"action": "scan",
		"dir":    "/definitely/not/here",
	}))

	require.False(t, env.OK)
	assert.Equal(t, envelope.CodeFSError, env.FirstError().Code)
}
