// Package contextbuilder assembles the prompt handed to the task runner
// for one agent execution, from the agent's declared context sources and
// selected model, per spec §4.4.
package contextbuilder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/pathtemplate"
)

// Querier is the read-only ledger access needed to resolve context
// sources.
type Querier interface {
	Query(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error)
}

// ClusterMeta is the slice of cluster state needed to resolve "since".
type ClusterMeta struct {
	ID        string
	CreatedAt time.Time
}

// ModelSelection is the model already chosen for this task by the
// model-policy step (spec §4.5 step 3), threaded through into the
// returned metadata.
type ModelSelection struct {
	Model           string
	ModelLevel      string
	ReasoningEffort string
}

// Options bundles everything Build needs for one agent execution.
type Options struct {
	Agent   domain.AgentDefinition
	State   domain.AgentRuntimeState
	Cluster ClusterMeta
	Model   ModelSelection
}

// Result is the composed prompt plus the metadata the task runner needs.
type Result struct {
	Prompt       string
	OutputFormat domain.OutputFormat
	JSONSchema   json.RawMessage
	StrictSchema bool
	Model        string
	ModelLevel   string
	ReasoningEffort string
	Cwd          string
}

// Build assembles the prompt per spec §4.4 points 1-6.
func Build(ctx context.Context, q Querier, opts Options) (Result, error) {
	var body strings.Builder
	for _, src := range opts.Agent.ContextStrategy.Sources {
		since, err := resolveSince(src.Since, opts.Cluster.CreatedAt, opts.State.LastTaskEndTime)
		if err != nil {
			return Result{}, fmt.Errorf("resolve since for source %q: %w", src.Topic, err)
		}

		msgs, err := q.Query(ctx, domain.MessageFilter{
			ClusterID: opts.Cluster.ID,
			Topic:     src.Topic,
			Sender:    src.Sender,
			Since:     since,
			Limit:     src.Limit,
		})
		if err != nil {
			return Result{}, fmt.Errorf("query context source %q: %w", src.Topic, err)
		}

		body.WriteString(fmt.Sprintf("Messages from topic: %s\n", src.Topic))
		for _, m := range msgs {
			body.WriteString(renderMessage(m))
		}
	}

	system := opts.Agent.Prompt.SystemFor(opts.State.Iteration)
	var full strings.Builder
	if system != "" {
		full.WriteString(system)
		full.WriteString("\n\n")
	}
	full.WriteString(body.String())

	outputFormat := opts.Agent.EffectiveOutputFormat()
	schema := opts.Agent.EffectiveJSONSchema()
	if outputFormat == domain.OutputFormatStreamJSON && len(schema) > 0 {
		block, err := outputFormatBlock(schema)
		if err != nil {
			return Result{}, fmt.Errorf("render output format block: %w", err)
		}
		full.WriteString("\n\n")
		full.WriteString(block)
	}

	return Result{
		Prompt:          full.String(),
		OutputFormat:    outputFormat,
		JSONSchema:      schema,
		StrictSchema:    opts.Agent.EffectiveStrictSchema(),
		Model:           opts.Model.Model,
		ModelLevel:      opts.Model.ModelLevel,
		ReasoningEffort: opts.Model.ReasoningEffort,
		Cwd:             opts.Agent.Cwd,
	}, nil
}

func resolveSince(since string, clusterCreatedAt, lastTaskEndTime time.Time) (int64, error) {
	switch domain.SinceKind(since) {
	case domain.SinceClusterStart, "":
		return clusterCreatedAt.UnixMilli(), nil
	case domain.SinceLastTaskEnd:
		if lastTaskEndTime.IsZero() {
			return clusterCreatedAt.UnixMilli(), nil
		}
		return lastTaskEndTime.UnixMilli(), nil
	default:
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return 0, fmt.Errorf("invalid since %q: %w", since, err)
		}
		return t.UnixMilli(), nil
	}
}

// renderMessage renders one ledger record per spec §4.4 point 3:
// "<sender> (<ISO time>): <text>\n<JSON-pretty data if present>".
func renderMessage(m domain.Message) string {
	var sb strings.Builder
	isoTime := time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339)
	sb.WriteString(fmt.Sprintf("%s (%s): %s\n", m.Sender, isoTime, m.Content.Text))
	if len(m.Content.Data) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, m.Content.Data, "", "  "); err == nil {
			sb.Write(pretty.Bytes())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// outputFormatBlock renders the canonical instruction block for
// stream-json output with an inline schema, via the same
// {{path.to.field}} rendering pathway as hook templates.
func outputFormatBlock(schema json.RawMessage) (string, error) {
	const tpl = "OUTPUT FORMAT: emit exactly one JSON object matching this schema, with no markdown and no code fences:\n{{schema.body}}"
	return pathtemplate.Resolve(tpl, map[string]interface{}{
		"schema": map[string]interface{}{"body": string(schema)},
	})
}
