// Package skill defines the skill contract and the runner that dispatches
// invocations through an explicit registry with trace propagation.
package skill

import (
	"context"

	"sofiapulse/internal/envelope"
)

// Context is the ambient execution context handed to every skill. It is
// built by the runner and is not mutable by callers.
type Context struct {
	Env      string
	Timezone string
	Locale   string
}

// Input is the uniform argument set of a skill invocation.
type Input struct {
	TraceID string
	Actor   string
	DryRun  bool
	Params  Params
	Context Context
}

// Skill is a uniformly-callable unit of work. Execute must never panic and
// must always return a well-formed envelope; infrastructure errors become
// failure envelopes, not Go errors.
type Skill interface {
	Execute(ctx context.Context, in Input) envelope.Envelope
}

// Func adapts a plain function to the Skill interface.
type Func func(ctx context.Context, in Input) envelope.Envelope

func (f Func) Execute(ctx context.Context, in Input) envelope.Envelope {
	return f(ctx, in)
}
