// Package template expands parameterized cluster templates (spec §4.8)
// into concrete agent lists, following the same read-YAML-into-a-generic-
// tree-then-decode pattern the Lattice workflow loader uses for its own
// on-disk definitions.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// Template references a base definition file and the params to
// substitute into it. No inheritance beyond one base, no recursion:
// templates are acyclic by construction (spec §4.8).
type Template struct {
	Base   string                 `json:"base"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// baseFile is the on-disk shape of a base template: a plain list of
// agent definitions, optionally containing {{param}} tokens anywhere a
// string, number, or array is otherwise legal.
type baseFile struct {
	Agents []map[string]interface{} `yaml:"agents"`
}

// Resolver loads and resolves templates rooted at a base directory.
type Resolver struct {
	baseDir string
}

// NewResolver returns a Resolver that loads base files relative to
// baseDir (falling back to treating Template.Base as an absolute or
// already-relative path when baseDir is empty).
func NewResolver(baseDir string) *Resolver {
	return &Resolver{baseDir: baseDir}
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Resolve loads t.Base, deep-substitutes t.Params, validates the result,
// and returns the materialized agent list plus any non-fatal reachability
// warnings. Resolution is pure: Resolve(Resolve(t)) over the returned
// agents is unreachable, but repeated calls with the same Template always
// return the same result since no state is mutated (spec §8 property).
func (r *Resolver) Resolve(t Template) ([]domain.AgentDefinition, []string, error) {
	path := t.Base
	if r.baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(r.baseDir, t.Base)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("template: read base %s: %w", t.Base, err)
	}
	return r.ResolveBytes(raw, t.Params)
}

// ResolveBytes resolves an already-loaded base file's contents, useful
// for templates embedded directly in a cluster config rather than read
// from disk.
func (r *Resolver) ResolveBytes(raw []byte, params map[string]interface{}) ([]domain.AgentDefinition, []string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, fmt.Errorf("template: base definition is empty")
	}
	var base baseFile
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return nil, nil, fmt.Errorf("template: decode base: %w", err)
	}

	agents := make([]domain.AgentDefinition, 0, len(base.Agents))
	for i, tree := range base.Agents {
		substituted := substitute(tree, params)
		encoded, err := json.Marshal(substituted)
		if err != nil {
			return nil, nil, fmt.Errorf("template: agent[%d]: encode: %w", i, err)
		}
		var def domain.AgentDefinition
		if err := json.Unmarshal(encoded, &def); err != nil {
			return nil, nil, fmt.Errorf("template: agent[%d]: decode: %w", i, err)
		}
		agents = append(agents, def)
	}

	if err := validateIDs(agents); err != nil {
		return nil, nil, err
	}
	warnings := reachabilityWarnings(agents)
	return agents, warnings, nil
}

// substitute walks a decoded YAML tree replacing {{param}} tokens. A leaf
// string that is, after trimming whitespace, exactly one token is
// replaced by the param's raw value (preserving its number/bool/array
// type); a leaf string containing tokens mixed with other text gets
// textual interpolation instead.
func substitute(node interface{}, params map[string]interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = substitute(val, params)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = substitute(val, params)
		}
		return out
	case string:
		return substituteString(v, params)
	default:
		return v
	}
}

func substituteString(s string, params map[string]interface{}) interface{} {
	if m := tokenPattern.FindStringSubmatch(strings.TrimSpace(s)); m != nil && m[0] == strings.TrimSpace(s) {
		if val, ok := lookupParam(params, m[1]); ok {
			return val
		}
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		if val, ok := lookupParam(params, name); ok {
			return fmt.Sprint(val)
		}
		return tok
	})
}

// lookupParam supports dotted paths (e.g. "limits.maxFiles") into nested
// param maps, in addition to a flat key.
func lookupParam(params map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := params[key]; ok {
		return v, true
	}
	parts := strings.Split(key, ".")
	var cur interface{} = params
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func validateIDs(agents []domain.AgentDefinition) error {
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		if a.ID == "" {
			return fmt.Errorf("template: agent definition missing required id")
		}
		if seen[a.ID] {
			return fmt.Errorf("template: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// reachabilityWarnings flags triggers whose topic is never published by
// any agent in the resolved set and never matches a well-known system
// topic — a likely typo rather than a hard error (spec §4.8 step 3).
func reachabilityWarnings(agents []domain.AgentDefinition) []string {
	published := map[string]bool{
		domain.TopicIssueOpened:        true,
		domain.TopicTaskStarted:        true,
		domain.TopicTaskCompleted:      true,
		domain.TopicAgentHalted:        true,
		domain.TopicAgentStale:         true,
		domain.TopicAgentTimeout:       true,
		domain.TopicAgentError:         true,
		domain.TopicAgentSchemaWarning: true,
		domain.TopicLogicError:         true,
		domain.TopicHookError:          true,
	}
	for _, a := range agents {
		for _, h := range append(append([]domain.HookSpec{}, a.Hooks.OnStart...), append(a.Hooks.OnComplete, a.Hooks.OnError...)...) {
			if h.Action == domain.HookActionPublishMessage {
				published[publishTopicFromConfig(h.Config)] = true
			}
		}
	}
	var warnings []string
	for _, a := range agents {
		for _, trig := range a.Triggers {
			if trig.Topic == "" || published[trig.Topic] {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("agent %q: trigger on topic %q is never published by any agent in this template", a.ID, trig.Topic))
		}
	}
	sort.Strings(warnings)
	return warnings
}

func publishTopicFromConfig(cfg json.RawMessage) string {
	var v struct {
		Topic string `json:"topic"`
	}
	_ = json.Unmarshal(cfg, &v)
	return v.Topic
}
