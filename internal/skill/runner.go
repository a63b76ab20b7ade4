package skill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sofiapulse/internal/envelope"
)

// Registry maps skill names to implementations. Registration happens at
// startup; lookups are read-only afterwards, the mutex only guards against
// misuse from tests that register concurrently.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds a skill under its canonical dotted name (e.g. "collect.run").
// Re-registering a name replaces the previous implementation.
func (r *Registry) Register(name string, s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[name] = s
}

// Lookup resolves a skill by name.
func (r *Registry) Lookup(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Names returns all registered skill names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.skills))
	for n := range r.skills {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Runner is the single indirection every skill call flows through. It owns
// the cross-cutting concerns: trace id generation, trace stripping from
// params, ambient context, and dispatch through the registry.
type Runner struct {
	reg    *Registry
	logger *slog.Logger

	env      string
	timezone string
	locale   string
}

// RunnerOptions configure the ambient context stamped on every invocation.
type RunnerOptions struct {
	Env      string
	Timezone string
	Locale   string
	Logger   *slog.Logger
}

func NewRunner(reg *Registry, opts RunnerOptions) *Runner {
	if opts.Env == "" {
		opts.Env = "prod"
	}
	if opts.Timezone == "" {
		opts.Timezone = "America/Sao_Paulo"
	}
	if opts.Locale == "" {
		opts.Locale = "pt-BR"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		reg:      reg,
		logger:   opts.Logger,
		env:      opts.Env,
		timezone: opts.Timezone,
		locale:   opts.Locale,
	}
}

// RunOption tweaks a single invocation.
type RunOption func(*Input)

func WithTraceID(id string) RunOption { return func(in *Input) { in.TraceID = id } }
func WithActor(actor string) RunOption {
	return func(in *Input) {
		if actor != "" {
			in.Actor = actor
		}
	}
}
func WithDryRun(dry bool) RunOption { return func(in *Input) { in.DryRun = dry } }

// Run invokes a skill by name and returns its envelope verbatim. A missing
// trace id is replaced with a fresh UUIDv4. Any trace_id smuggled into params
// is stripped: the trace is runner state, never a skill parameter.
func (r *Runner) Run(ctx context.Context, name string, params Params, opts ...RunOption) envelope.Envelope {
	start := time.Now()

	in := Input{
		Actor: "system",
		Context: Context{
			Env:      r.env,
			Timezone: r.timezone,
			Locale:   r.locale,
		},
	}
	for _, opt := range opts {
		opt(&in)
	}
	if in.TraceID == "" {
		in.TraceID = uuid.NewString()
	}

	if params == nil {
		params = Params{}
	} else {
		clean := make(Params, len(params))
		for k, v := range params {
			if k == "trace_id" {
				continue
			}
			clean[k] = v
		}
		params = clean
	}
	in.Params = params

	s, ok := r.reg.Lookup(name)
	if !ok {
		return envelope.Fail(envelope.CodeInvalidInput,
			fmt.Sprintf("unknown skill: %s", name), start, false)
	}

	r.logger.Debug("skill invoke",
		"skill", name, "trace_id", in.TraceID, "actor", in.Actor, "dry_run", in.DryRun)

	env := s.Execute(ctx, in)

	r.logger.Debug("skill done",
		"skill", name, "trace_id", in.TraceID, "ok", env.OK, "duration_ms", env.Meta.DurationMS)

	return env
}

// Names lists the registered skill names, sorted.
func (r *Runner) Names() []string { return r.reg.Names() }

// TraceID generates a fresh trace id for a new pipeline run.
func TraceID() string { return uuid.NewString() }
