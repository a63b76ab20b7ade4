package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"sofiapulse/internal/config"
	"sofiapulse/internal/fsboot"
	"sofiapulse/internal/skill"
	"sofiapulse/internal/skills/audit"
	"sofiapulse/internal/skills/budget"
	"sofiapulse/internal/skills/collect"
	"sofiapulse/internal/skills/eventlog"
	"sofiapulse/internal/skills/httpfetch"
	"sofiapulse/internal/skills/inventory"
	"sofiapulse/internal/skills/notify"
	"sofiapulse/internal/store"
)

// app bundles the wired runtime: config, logger, store, and a runner with
// every skill registered. Commands build one, use it, and Close it.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	runner *skill.Runner
	budget *budget.Skill
	tz     *time.Location

	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if rf.DSN != "" {
		cfg.DatabaseURL = rf.DSN
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing --dsn (or set DATABASE_URL)")
	}

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	logDir, err := fsboot.EnsureLogDir(cfg.LogDir, cfg.LogFallback)
	if err != nil {
		return nil, fmt.Errorf("prepare log dir: %w", err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(logDir.Dir, "sofia.log")
	}
	logger, closeLog := config.SetupLogger(logFile, cfg.LogLevel)
	if logDir.FellBack {
		logger.Warn("log directory fell back", "dir", logDir.Dir, "warning", logDir.Warning)
	}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		closeLog()
		return nil, err
	}

	events := eventlog.New(cfg.LogDir, cfg.LogFallback)
	budgetSkill := budget.New(st, logger, tz)

	reg := skill.NewRegistry()
	reg.Register(eventlog.Name, events)
	reg.Register(httpfetch.Name, httpfetch.New())
	reg.Register(inventory.Name, inventory.New(st))
	reg.Register(collect.Name, collect.New(st, cfg.LogDir, cfg.LogFallback))
	reg.Register(budget.Name, budgetSkill)
	reg.Register(audit.Name, audit.New(st, tz))
	reg.Register(notify.Name, notify.New(notify.Options{
		Enabled:      cfg.WppEnabled,
		TransportURL: cfg.WppTransportURL,
		AdminTo:      cfg.WppTo,
	}))

	runner := skill.NewRunner(reg, skill.RunnerOptions{
		Env:      cfg.Env,
		Timezone: cfg.Timezone,
		Locale:   cfg.Locale,
		Logger:   logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		runner:  runner,
		budget:  budgetSkill,
		tz:      tz,
		closers: []func() error{events.Close, closeLog},
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	for _, c := range a.closers {
		_ = c()
	}
}
