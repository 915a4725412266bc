// Package taskrunner defines the external task-runner plug point (spec
// §6): the opaque execution of one agent prompt. The core never
// implements a real provider client itself — that is deliberately out
// of scope (spec §1) — but ships a MockRunner so the rest of the engine
// can be exercised without one.
package taskrunner

import (
	"context"
	"encoding/json"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// OutputCallback streams one chunk of a runner's output as it arrives.
// Runners without native streaming support simply never call it.
type OutputCallback func(chunk string, agentID string)

// Options is the input to Run.
type Options struct {
	AgentID         string
	Provider        string
	Model           string
	ModelLevel      string
	ReasoningEffort string
	OutputFormat    domain.OutputFormat
	JSONSchema      json.RawMessage
	StrictSchema    bool
	Cwd             string
	Isolation       domain.IsolationRef
	OnOutput        OutputCallback
}

// Result is the outcome of one Run call.
type Result struct {
	Success bool
	Output  string
	Error   string
	TaskID  string
}

// Runner is the pluggable provider-invocation boundary. Implementations
// build the argument vector for a specific AI CLI and parse its
// streaming NDJSON output; the core only sees prompt in, Result out.
// Cancellation is via ctx, in place of the source's separate cancel
// token — idiomatic for a blocking Go call.
type Runner interface {
	Run(ctx context.Context, prompt string, opts Options) (Result, error)
}
