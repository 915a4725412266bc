// Package hook executes the declarative post-task side effects an agent
// may declare under onStart/onComplete/onError, per spec §4.6.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/pathtemplate"
)

// Publisher is the bus surface a hook needs: publishing a message and
// finding the latest record on a topic (for ledger.last(TOPIC) lookups).
type Publisher interface {
	Publish(ctx context.Context, clusterID, topic, sender string, content domain.Content, metadata map[string]interface{}) (domain.Message, error)
	FindLast(ctx context.Context, clusterID, topic string) (domain.Message, bool, error)
}

// SubClusterSpawner recursively starts a sub-cluster, for the
// spawn_sub_cluster hook action.
type SubClusterSpawner interface {
	SpawnSubCluster(ctx context.Context, parentClusterID string, config json.RawMessage, input json.RawMessage, waitForTopic string) (string, error)
}

// ClusterStopper stops a cluster cooperatively, for the stop_cluster
// hook action.
type ClusterStopper interface {
	StopCluster(ctx context.Context, clusterID, reason string) error
}

// Runner executes one agent's declared hooks.
type Runner struct {
	pub     Publisher
	spawner SubClusterSpawner
	stopper ClusterStopper
}

// New creates a Runner.
func New(pub Publisher, spawner SubClusterSpawner, stopper ClusterStopper) *Runner {
	return &Runner{pub: pub, spawner: spawner, stopper: stopper}
}

// Run executes specs in order against clusterID/agentID, resolving
// {{result.x}} / {{ledger.last(TOPIC).content.data.x}} placeholders
// against result (the agent's parsed task output, or nil). Any failure
// is logged and published as HOOK_ERROR — never silently swallowed, per
// spec §4.6 and the stricter of the two documented Open Questions.
func (r *Runner) Run(ctx context.Context, clusterID, agentID string, specs []domain.HookSpec, result map[string]interface{}) {
	for _, spec := range specs {
		if err := r.runOne(ctx, clusterID, agentID, spec, result); err != nil {
			log.Printf("ERROR: hook %s failed for agent=%s cluster=%s: %v", spec.Action, agentID, clusterID, err)
			r.publishHookError(ctx, clusterID, agentID, spec, err)
		}
	}
}

func (r *Runner) runOne(ctx context.Context, clusterID, agentID string, spec domain.HookSpec, result map[string]interface{}) error {
	switch spec.Action {
	case domain.HookActionNoop:
		return nil

	case domain.HookActionPublishMessage:
		return r.runPublishMessage(ctx, clusterID, agentID, spec, result)

	case domain.HookActionStopCluster:
		var cfg struct {
			Reason string `json:"reason"`
		}
		if len(spec.Config) > 0 {
			if err := json.Unmarshal(spec.Config, &cfg); err != nil {
				return fmt.Errorf("decode stop_cluster config: %w", err)
			}
		}
		return r.stopper.StopCluster(ctx, clusterID, cfg.Reason)

	case domain.HookActionSpawnSubCluster:
		var cfg struct {
			Config       json.RawMessage `json:"config"`
			Input        json.RawMessage `json:"input"`
			WaitForTopic string          `json:"wait_for_topic"`
		}
		if err := json.Unmarshal(spec.Config, &cfg); err != nil {
			return fmt.Errorf("decode spawn_sub_cluster config: %w", err)
		}
		resolvedInput, err := r.resolveJSON(ctx, clusterID, cfg.Input, result)
		if err != nil {
			return fmt.Errorf("resolve spawn_sub_cluster input: %w", err)
		}
		_, err = r.spawner.SpawnSubCluster(ctx, clusterID, cfg.Config, resolvedInput, cfg.WaitForTopic)
		return err

	default:
		return fmt.Errorf("unknown hook action %q", spec.Action)
	}
}

func (r *Runner) runPublishMessage(ctx context.Context, clusterID, agentID string, spec domain.HookSpec, result map[string]interface{}) error {
	var cfg struct {
		Topic    string                 `json:"topic"`
		Content  json.RawMessage        `json:"content"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := json.Unmarshal(spec.Config, &cfg); err != nil {
		return fmt.Errorf("decode publish_message config: %w", err)
	}

	resolvedContent, err := r.resolveJSON(ctx, clusterID, cfg.Content, result)
	if err != nil {
		return fmt.Errorf("resolve publish_message content: %w", err)
	}
	var content domain.Content
	if err := json.Unmarshal(resolvedContent, &content); err != nil {
		content = domain.Content{Text: string(resolvedContent)}
	}

	_, err = r.pub.Publish(ctx, clusterID, cfg.Topic, agentID, content, cfg.Metadata)
	return err
}

// resolveJSON walks raw looking for string leaves and runs them through
// pathtemplate.Resolve against a view of {result, ledger.last(<topic>)}.
func (r *Runner) resolveJSON(ctx context.Context, clusterID string, raw json.RawMessage, result map[string]interface{}) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode template source: %w", err)
	}

	data := map[string]interface{}{"result": result}
	lastCache := map[string]map[string]interface{}{}
	resolved, err := r.resolveNode(ctx, clusterID, tree, data, lastCache)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resolved)
}

func (r *Runner) resolveNode(ctx context.Context, clusterID string, node interface{}, data map[string]interface{}, lastCache map[string]map[string]interface{}) (interface{}, error) {
	switch v := node.(type) {
	case string:
		return r.resolveString(ctx, clusterID, v, data, lastCache)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			resolved, err := r.resolveNode(ctx, clusterID, child, data, lastCache)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			resolved, err := r.resolveNode(ctx, clusterID, child, data, lastCache)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString handles both the plain {{result.x}} form and the
// ledger.last(TOPIC).content.data.x form, which needs a topic lookup
// before the ordinary dotted-path resolver can run.
func (r *Runner) resolveString(ctx context.Context, clusterID, s string, data map[string]interface{}, lastCache map[string]map[string]interface{}) (interface{}, error) {
	topic := extractLedgerLastTopic(s)
	if topic != "" {
		last, ok := lastCache[topic]
		if !ok {
			msg, found, err := r.pub.FindLast(ctx, clusterID, topic)
			if err != nil {
				return nil, fmt.Errorf("ledger.last(%s): %w", topic, err)
			}
			last = map[string]interface{}{}
			if found {
				var contentData interface{}
				if len(msg.Content.Data) > 0 {
					_ = json.Unmarshal(msg.Content.Data, &contentData)
				}
				last = map[string]interface{}{
					"sender": msg.Sender,
					"content": map[string]interface{}{
						"text": msg.Content.Text,
						"data": contentData,
					},
				}
			}
			lastCache[topic] = last
		}
		data["ledger"] = map[string]interface{}{"last": last}
	}
	return pathtemplate.Resolve(rewriteLedgerLast(s), data)
}

func (r *Runner) publishHookError(ctx context.Context, clusterID, agentID string, spec domain.HookSpec, cause error) {
	content := domain.Content{Text: cause.Error()}
	metadata := map[string]interface{}{"action": string(spec.Action), "agent_id": agentID}
	if _, err := r.pub.Publish(ctx, clusterID, domain.TopicHookError, agentID, content, metadata); err != nil {
		log.Printf("ERROR: failed to publish HOOK_ERROR for agent=%s cluster=%s: %v", agentID, clusterID, err)
	}
}
