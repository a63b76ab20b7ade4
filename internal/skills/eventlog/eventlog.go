// Package eventlog implements the logger.event skill: structured JSON lines
// with trace context appended to per-skill rotating files.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"sofiapulse/internal/envelope"
	"sofiapulse/internal/fsboot"
	"sofiapulse/internal/skill"
)

// Name is the canonical skill name.
const Name = "logger.event"

var validLevels = map[string]bool{
	"debug": true, "info": true, "warning": true, "error": true, "critical": true,
}

// Skill appends one JSON line per call to <dir>/<skill>.log. Writers are
// memoized per skill name for the process lifetime.
type Skill struct {
	preferred string
	fallback  string

	mu      sync.Mutex
	dir     string
	fsWarn  string
	writers map[string]*lumberjack.Logger
	lastDay map[string]string
	now     func() time.Time
}

// New configures the skill with the preferred and fallback log directories.
// Directory creation is deferred to the first write.
func New(preferredDir, fallbackDir string) *Skill {
	return &Skill{
		preferred: preferredDir,
		fallback:  fallbackDir,
		writers:   make(map[string]*lumberjack.Logger),
		lastDay:   make(map[string]string),
		now:       time.Now,
	}
}

var fileSafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *Skill) Execute(ctx context.Context, in skill.Input) envelope.Envelope {
	start := time.Now()

	level := in.Params.String("level", "info")
	if !validLevels[level] {
		return envelope.Fail(envelope.CodeInvalidInput,
			fmt.Sprintf("invalid level: %s", level), start, false)
	}
	event := in.Params.String("event", "")
	if event == "" {
		return envelope.Fail(envelope.CodeInvalidInput, "event is required", start, false)
	}
	origin := in.Params.String("skill", "core")
	message := in.Params.String("message", "")
	fields := in.Params.Map("fields")

	line := map[string]any{
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"level":    level,
		"event":    event,
		"skill":    origin,
		"trace_id": in.TraceID,
		"actor":    in.Actor,
		"env":      in.Context.Env,
		"message":  message,
	}
	for k, v := range fields {
		if _, taken := line[k]; !taken {
			line[k] = v
		}
	}

	var warnings []envelope.Note
	if !in.DryRun {
		warn, err := s.write(origin, line)
		if err != nil {
			return envelope.Fail(envelope.CodeFSError, err.Error(), start, false)
		}
		if warn != "" {
			warnings = append(warnings, envelope.Note{Code: envelope.WarnFS, Message: warn})
		}
	}

	return envelope.Ok(map[string]any{"logged": !in.DryRun, "event": event}, start, warnings...)
}

func (s *Skill) write(origin string, line map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" {
		res, err := fsboot.EnsureLogDir(s.preferred, s.fallback)
		if err != nil {
			return "", err
		}
		s.dir = res.Dir
		s.fsWarn = res.Warning
	}

	w, ok := s.writers[origin]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   filepath.Join(s.dir, fileSafe.ReplaceAllString(origin, "_")+".log"),
			MaxSize:    20, // MB
			MaxAge:     14, // days
			MaxBackups: 14,
			Compress:   false,
		}
		s.writers[origin] = w
	}

	// Size/age limits are a backstop; day files roll at local midnight.
	day := s.now().Format("2006-01-02")
	if prev, ok := s.lastDay[origin]; ok && prev != day {
		if err := w.Rotate(); err != nil {
			return "", fmt.Errorf("rotate log: %w", err)
		}
	}
	s.lastDay[origin] = day

	b, err := json.Marshal(line)
	if err != nil {
		return "", fmt.Errorf("marshal log line: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return "", fmt.Errorf("write log line: %w", err)
	}
	return s.fsWarn, nil
}

// Close flushes and closes all memoized writers.
func (s *Skill) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, w := range s.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
