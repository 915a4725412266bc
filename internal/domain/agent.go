package domain

import (
	"encoding/json"
	"fmt"
)

// AgentDefinition is the input schema for one agent within a cluster
// config. All fields are optional unless noted.
type AgentDefinition struct {
	ID      string `json:"id"` // required, unique within cluster
	Role    string `json:"role,omitempty"`
	Prompt  Prompt `json:"prompt,omitempty"`

	Triggers []Trigger `json:"triggers,omitempty"`
	Hooks    Hooks     `json:"hooks,omitempty"`

	ContextStrategy ContextStrategy `json:"context_strategy,omitempty"`

	ModelConfig ModelConfig `json:"model_config,omitempty"`

	OutputFormat OutputFormat    `json:"output_format,omitempty"` // default json
	JSONSchema   json.RawMessage `json:"json_schema,omitempty"`
	StrictSchema *bool           `json:"strict_schema,omitempty"` // default true

	MaxIterations    int `json:"max_iterations,omitempty"`     // default 100
	TimeoutMs        int `json:"timeout_ms,omitempty"`         // 0 = no timeout
	StaleDurationMs  int `json:"stale_duration_ms,omitempty"`   // default 30min

	Cwd string `json:"cwd,omitempty"`
}

// DefaultMaxIterations is used when an AgentDefinition omits MaxIterations.
const DefaultMaxIterations = 100

// DefaultStaleDurationMs is used when an AgentDefinition omits StaleDurationMs.
const DefaultStaleDurationMs = 30 * 60 * 1000

// EffectiveMaxIterations returns MaxIterations or its default.
func (a AgentDefinition) EffectiveMaxIterations() int {
	if a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return DefaultMaxIterations
}

// EffectiveStaleDurationMs returns StaleDurationMs or its default.
func (a AgentDefinition) EffectiveStaleDurationMs() int {
	if a.StaleDurationMs > 0 {
		return a.StaleDurationMs
	}
	return DefaultStaleDurationMs
}

// EffectiveOutputFormat returns OutputFormat or its default (json).
func (a AgentDefinition) EffectiveOutputFormat() OutputFormat {
	if a.OutputFormat == "" {
		return OutputFormatJSON
	}
	return a.OutputFormat
}

// EffectiveStrictSchema returns StrictSchema or its default (true).
func (a AgentDefinition) EffectiveStrictSchema() bool {
	if a.StrictSchema == nil {
		return true
	}
	return *a.StrictSchema
}

// DefaultJSONSchema is used when an AgentDefinition omits JSONSchema.
const DefaultJSONSchema = `{"type":"object","properties":{"summary":{"type":"string"},"result":{}},"required":["summary","result"]}`

// EffectiveJSONSchema returns JSONSchema or the minimal default.
func (a AgentDefinition) EffectiveJSONSchema() json.RawMessage {
	if len(a.JSONSchema) > 0 {
		return a.JSONSchema
	}
	return json.RawMessage(DefaultJSONSchema)
}

// Prompt is a static string, an {initial, subsequent} pair, or an
// iteration-matched list of system prompts.
type Prompt struct {
	Static     string             `json:"-"`
	Initial    string             `json:"-"`
	Subsequent string             `json:"-"`
	Iterations []PromptIteration  `json:"-"`
	kind       promptKind
}

type promptKind int

const (
	promptKindEmpty promptKind = iota
	promptKindStatic
	promptKindInitialSubsequent
	promptKindIterations
)

// PromptIteration matches an iteration pattern to a system prompt.
type PromptIteration struct {
	Match  string `json:"match"`
	System string `json:"system"`
}

type promptObjectForm struct {
	Initial    string            `json:"initial"`
	Subsequent string            `json:"subsequent"`
	Iterations []PromptIteration `json:"iterations"`
}

// UnmarshalJSON accepts a bare string, an {initial,subsequent} object, or
// an {iterations:[...]} object.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		p.Static = asString
		p.kind = promptKindStatic
		return nil
	}

	var obj promptObjectForm
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	if len(obj.Iterations) > 0 {
		p.Iterations = obj.Iterations
		p.kind = promptKindIterations
		return nil
	}
	p.Initial = obj.Initial
	p.Subsequent = obj.Subsequent
	p.kind = promptKindInitialSubsequent
	return nil
}

// MarshalJSON round-trips whichever form was parsed.
func (p Prompt) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case promptKindStatic:
		return json.Marshal(p.Static)
	case promptKindIterations:
		return json.Marshal(promptObjectForm{Iterations: p.Iterations})
	case promptKindInitialSubsequent:
		return json.Marshal(promptObjectForm{Initial: p.Initial, Subsequent: p.Subsequent})
	default:
		return json.Marshal("")
	}
}

// SystemFor resolves the system prompt text for a given 1-based iteration
// number, using the same iteration-pattern matcher as model rules (§4.5).
func (p Prompt) SystemFor(iteration int) string {
	switch p.kind {
	case promptKindStatic:
		return p.Static
	case promptKindInitialSubsequent:
		if iteration <= 1 {
			return p.Initial
		}
		return p.Subsequent
	case promptKindIterations:
		for _, it := range p.Iterations {
			if MatchesIterationPattern(it.Match, iteration) {
				return it.System
			}
		}
		return ""
	default:
		return ""
	}
}

// Trigger is a (topic, logic, action) triple attached to an agent.
type Trigger struct {
	Topic  string        `json:"topic"`
	Logic  string        `json:"logic,omitempty"`
	Action TriggerAction `json:"action"`
	Config json.RawMessage `json:"config,omitempty"`

	// ExcludeRepublished defaults to true per spec §4.2 and is read from
	// Config.filter.excludeRepublished when present.
	excludeRepublishedSet  bool
	excludeRepublishedVal  bool
}

type triggerConfigFilter struct {
	Filter struct {
		ExcludeRepublished *bool `json:"excludeRepublished"`
	} `json:"filter"`
}

// ExcludeRepublished reports whether this trigger should ignore republished
// messages. Defaults to true when unset, per spec §4.2.
func (t *Trigger) ExcludeRepublished() bool {
	if !t.excludeRepublishedSet {
		var cfg triggerConfigFilter
		t.excludeRepublishedVal = true
		if len(t.Config) > 0 {
			if err := json.Unmarshal(t.Config, &cfg); err == nil && cfg.Filter.ExcludeRepublished != nil {
				t.excludeRepublishedVal = *cfg.Filter.ExcludeRepublished
			}
		}
		t.excludeRepublishedSet = true
	}
	return t.excludeRepublishedVal
}

// Hooks is the set of post-task side effects declared by an agent.
type Hooks struct {
	OnStart    []HookSpec `json:"on_start,omitempty"`
	OnComplete []HookSpec `json:"on_complete,omitempty"`
	OnError    []HookSpec `json:"on_error,omitempty"`
}

// HookSpec is one declarative hook action.
type HookSpec struct {
	Action HookAction      `json:"action"`
	Config json.RawMessage `json:"config,omitempty"`
}

// ContextStrategy describes how an agent's prompt context is assembled.
type ContextStrategy struct {
	Sources []ContextSource `json:"sources,omitempty"`
}

// ContextSource is one ordered ledger slice contributing to the prompt.
type ContextSource struct {
	Topic  string `json:"topic"`
	Sender string `json:"sender,omitempty"`
	Since  string `json:"since,omitempty"` // cluster_start | last_task_end | ISO-time
	Limit  int    `json:"limit,omitempty"`
}

// ModelConfig selects the model for a task, either statically or via
// iteration-matched rules.
type ModelConfig struct {
	Type  string      `json:"type,omitempty"` // "static" | "rules"
	Model string      `json:"model,omitempty"`
	ModelLevel string `json:"model_level,omitempty"`
	Rules []ModelRule `json:"rules,omitempty"`
}

// ModelRule matches an iteration pattern to a model/level/reasoning
// effort selection.
type ModelRule struct {
	Iterations      string `json:"iterations"` // "N" | "N-M" | "N+" | "all"
	Model           string `json:"model,omitempty"`
	ModelLevel      string `json:"model_level,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}
