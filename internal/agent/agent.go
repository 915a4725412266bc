// Package agent implements one agent's bounded lifecycle (spec §4.5):
// idle → executing → hooks → idle, with iteration counting, model
// selection, context assembly, output parsing, and deferred-trigger
// replay.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmctl/swarmctl/internal/bus"
	"github.com/swarmctl/swarmctl/internal/contextbuilder"
	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/hook"
	"github.com/swarmctl/swarmctl/internal/modelpolicy"
	"github.com/swarmctl/swarmctl/internal/taskrunner"
	"github.com/swarmctl/swarmctl/internal/trigger"
)

// ClusterInfo is the slice of cluster-level state an agent needs but
// does not own: its creation time (for "since: cluster_start" scoping),
// its model ceiling/floor settings, and the current agent roster (for
// trigger logic's cluster.getAgents()).
type ClusterInfo interface {
	CreatedAt() time.Time
	Settings() domain.Settings
	GetAgents() []string
	Provider() string
}

// Deps bundles the coordination-fabric components one Agent needs to
// run its lifecycle; shared across every agent in a cluster.
type Deps struct {
	Bus     *bus.Bus
	Engine  *trigger.Engine
	Hooks   *hook.Runner
	Policy  *modelpolicy.Engine
	Runner  taskrunner.Runner
	Cluster ClusterInfo
}

type pendingTrigger struct {
	index int
	msg   domain.Message
}

// Agent is one running instance of an AgentDefinition within a cluster.
type Agent struct {
	def       domain.AgentDefinition
	clusterID string
	deps      Deps

	mu      sync.Mutex
	state   domain.AgentRuntimeState
	pending []pendingTrigger
	cancel  context.CancelFunc

	unsubscribe []func()
}

// New creates an idle Agent for def within clusterID.
func New(def domain.AgentDefinition, clusterID string, deps Deps) *Agent {
	return &Agent{
		def:       def,
		clusterID: clusterID,
		deps:      deps,
		state: domain.AgentRuntimeState{
			AgentID:      def.ID,
			ClusterID:    clusterID,
			State:        domain.AgentStateIdle,
			LastActivity: time.Now(),
		},
	}
}

// Definition returns the agent's static definition.
func (a *Agent) Definition() domain.AgentDefinition { return a.def }

// State returns a snapshot of the agent's current runtime state.
func (a *Agent) State() domain.AgentRuntimeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Restore overwrites the runtime state, e.g. after Resume reconstructs
// iteration/lastTaskEndTime from ledger replay (spec §4.7).
func (a *Agent) Restore(state domain.AgentRuntimeState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
}

// Subscribe registers this agent's triggers with the bus, one
// subscription per distinct topic referenced.
func (a *Agent) Subscribe() {
	seen := make(map[string]bool)
	for _, t := range a.def.Triggers {
		if seen[t.Topic] {
			continue
		}
		seen[t.Topic] = true
		a.unsubscribe = append(a.unsubscribe, a.deps.Bus.SubscribeTopic(a.clusterID, t.Topic, a.handleMessage))
	}
}

// Close unsubscribes from the bus. The agent does not otherwise hold
// handles to other agents or to the cluster (spec §9 "Dynamic agent
// graph").
func (a *Agent) Close() {
	for _, u := range a.unsubscribe {
		u()
	}
}

// Cancel aborts the in-flight task, if any. Used by stale/timeout
// handling.
func (a *Agent) Cancel() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handleMessage implements trigger evaluation order (spec §4.3): first
// matching, not-yet-fired trigger wins. Evaluation itself (which may run
// sandboxed logic for up to the trigger budget) is deliberately done
// without holding a.mu, so a slow predicate never blocks State() reads
// or the stale sweep; only the state transition decision is locked.
// "evaluating" is a transient call-stack condition here rather than a
// stored state, since nothing durable is ever observed mid-evaluation.
func (a *Agent) handleMessage(msg domain.Message) {
	ctx := context.Background()
	for i := range a.def.Triggers {
		trig := a.def.Triggers[i]
		if trig.Topic != msg.Topic {
			continue
		}
		if trig.ExcludeRepublished() && msg.Republished() {
			continue
		}
		if a.deps.Engine.AlreadyFired(a.def.ID, i, msg.ID) {
			continue
		}

		ok, err := a.deps.Engine.Evaluate(ctx, trig.Logic, msg, a.deps.Bus, a.deps.Cluster)
		if err != nil {
			a.publishLogicError(ctx, msg, trig, err)
			continue
		}
		if !ok {
			continue
		}

		a.mu.Lock()
		if trig.Action == domain.TriggerActionExecuteTask && a.state.State != domain.AgentStateIdle {
			a.state.DeferredTriggers = append(a.state.DeferredTriggers, domain.DeferredTrigger{TriggerIndex: i, MessageID: msg.ID})
			a.pending = append(a.pending, pendingTrigger{index: i, msg: msg})
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()

		a.deps.Engine.MarkFired(a.def.ID, i, msg.ID)
		a.fire(ctx, i, trig, msg)
		return
	}
}

func (a *Agent) fire(ctx context.Context, index int, trig domain.Trigger, msg domain.Message) {
	switch trig.Action {
	case domain.TriggerActionExecuteTask:
		go a.executeTask(msg)
	case domain.TriggerActionStopCluster:
		a.deps.Hooks.Run(ctx, a.clusterID, a.def.ID, []domain.HookSpec{{Action: domain.HookActionStopCluster, Config: trig.Config}}, nil)
	case domain.TriggerActionPublishMessage:
		a.deps.Hooks.Run(ctx, a.clusterID, a.def.ID, []domain.HookSpec{{Action: domain.HookActionPublishMessage, Config: trig.Config}}, nil)
	case domain.TriggerActionNoop:
	}
}

func (a *Agent) executeTask(msg domain.Message) {
	ctx := context.Background()

	a.mu.Lock()
	if a.state.Iteration+1 > a.def.EffectiveMaxIterations() {
		a.mu.Unlock()
		a.publish(ctx, domain.TopicAgentHalted, domain.Content{Text: fmt.Sprintf("agent %s exceeded max iterations (%d)", a.def.ID, a.def.EffectiveMaxIterations())}, nil)
		return
	}
	a.state.State = domain.AgentStateExecuting
	a.state.Iteration++
	a.state.LastActivity = time.Now()
	iteration := a.state.Iteration
	snapshot := a.state
	a.mu.Unlock()

	a.deps.Hooks.Run(ctx, a.clusterID, a.def.ID, a.def.Hooks.OnStart, nil)

	taskID := uuid.NewString()
	a.mu.Lock()
	a.state.InFlightTaskID = taskID
	a.mu.Unlock()
	a.publishTaskStarted(ctx, taskID, iteration)

	model, err := a.selectModel(ctx, iteration)
	if err != nil {
		a.failTask(ctx, err)
		return
	}

	defForContext := a.def
	defForContext.OutputFormat = a.effectiveRunnerFormat()
	built, err := contextbuilder.Build(ctx, a.deps.Bus, contextbuilder.Options{
		Agent: defForContext,
		State: snapshot,
		Cluster: contextbuilder.ClusterMeta{
			ID:        a.clusterID,
			CreatedAt: a.deps.Cluster.CreatedAt(),
		},
		Model: contextbuilder.ModelSelection{
			Model:           model.Model,
			ModelLevel:      string(model.Level),
			ReasoningEffort: model.ReasoningEffort,
		},
	})
	if err != nil {
		a.failTask(ctx, domain.NewCoordError(domain.ErrKindConfigError, "build context", err))
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	if a.def.TimeoutMs > 0 {
		var timeoutCancel context.CancelFunc
		taskCtx, timeoutCancel = context.WithTimeout(taskCtx, time.Duration(a.def.TimeoutMs)*time.Millisecond)
		prev := cancel
		cancel = func() { timeoutCancel(); prev() }
	}
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
		cancel()
	}()

	res, err := a.deps.Runner.Run(taskCtx, built.Prompt, taskrunner.Options{
		AgentID:         a.def.ID,
		Provider:        a.deps.Cluster.Provider(),
		Model:           built.Model,
		ModelLevel:      built.ModelLevel,
		ReasoningEffort: built.ReasoningEffort,
		OutputFormat:    built.OutputFormat,
		JSONSchema:      built.JSONSchema,
		StrictSchema:    built.StrictSchema,
		Cwd:             built.Cwd,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.publish(ctx, domain.TopicAgentTimeout, domain.Content{Text: "task exceeded timeout_ms"}, nil)
		} else {
			a.publishAgentError(ctx, domain.ErrKindRunnerError, err)
		}
		a.runErrorHooksAndFinish(ctx)
		return
	}
	if !res.Success {
		a.publishAgentError(ctx, domain.ErrKindRunnerError, errors.New(res.Error))
		a.runErrorHooksAndFinish(ctx)
		return
	}

	parsed, parseErr := a.parseAndValidate(res.Output, built.JSONSchema)
	if parseErr != nil {
		if a.def.Role == "validator" {
			a.publishAgentError(ctx, parseErr.Kind, parseErr)
			a.runErrorHooksAndFinish(ctx)
			return
		}
		a.publish(ctx, domain.TopicAgentSchemaWarning, domain.Content{Text: parseErr.Error()}, map[string]interface{}{"raw_output": res.Output})
		parsed = map[string]interface{}{"text": res.Output}
	}

	a.publishTaskCompleted(ctx, taskID, iteration, res.Output, parsed)
	a.deps.Hooks.Run(ctx, a.clusterID, a.def.ID, a.def.Hooks.OnComplete, parsed)
	a.finish(ctx)
}

func (a *Agent) failTask(ctx context.Context, err error) {
	var ce *domain.CoordError
	kind := domain.ErrKindRunnerError
	if errors.As(err, &ce) {
		kind = ce.Kind
	}
	a.publishAgentError(ctx, kind, err)
	a.runErrorHooksAndFinish(ctx)
}

func (a *Agent) runErrorHooksAndFinish(ctx context.Context) {
	a.deps.Hooks.Run(ctx, a.clusterID, a.def.ID, a.def.Hooks.OnError, nil)
	a.finish(ctx)
}

// finish transitions the agent back to idle and replays any triggers
// that matched while it was executing (spec §4.5 step 9).
func (a *Agent) finish(ctx context.Context) {
	a.mu.Lock()
	a.state.State = domain.AgentStateIdle
	a.state.LastTaskEndTime = time.Now()
	a.state.LastActivity = time.Now()
	a.state.InFlightTaskID = ""
	pending := a.pending
	a.pending = nil
	a.state.DeferredTriggers = nil
	a.mu.Unlock()

	for _, p := range pending {
		a.deps.Engine.MarkFired(a.def.ID, p.index, p.msg.ID)
		a.fire(ctx, p.index, a.def.Triggers[p.index], p.msg)
	}
}

// effectiveRunnerFormat applies the schema-vs-streaming policy (spec
// §4.5 step 5): a non-strict json-with-schema agent is actually run as
// stream-json so the caller can observe live output, with the schema
// validated only after the stream completes.
func (a *Agent) effectiveRunnerFormat() domain.OutputFormat {
	format := a.def.EffectiveOutputFormat()
	if !a.def.EffectiveStrictSchema() && format == domain.OutputFormatJSON && len(a.def.EffectiveJSONSchema()) > 0 {
		return domain.OutputFormatStreamJSON
	}
	return format
}

func (a *Agent) publish(ctx context.Context, topic string, content domain.Content, metadata map[string]interface{}) {
	if _, err := a.deps.Bus.Publish(ctx, bus.PublishInput{
		ClusterID: a.clusterID,
		Topic:     topic,
		Sender:    a.def.ID,
		Content:   content,
		Metadata:  metadata,
	}); err != nil {
		log.Printf("ERROR: agent %s failed to publish %s: %v", a.def.ID, topic, err)
	}
}

func (a *Agent) publishAgentError(ctx context.Context, kind string, err error) {
	a.publish(ctx, domain.TopicAgentError, domain.Content{Text: err.Error()}, map[string]interface{}{"kind": kind})
}

func (a *Agent) publishLogicError(ctx context.Context, msg domain.Message, trig domain.Trigger, err error) {
	a.publish(ctx, domain.TopicLogicError, domain.Content{Text: err.Error()}, map[string]interface{}{"topic": trig.Topic, "message_id": msg.ID})
}

func (a *Agent) publishTaskStarted(ctx context.Context, taskID string, iteration int) {
	data, _ := json.Marshal(map[string]interface{}{"task_id": taskID, "iteration": iteration})
	a.publish(ctx, domain.TopicTaskStarted, domain.Content{Data: data}, nil)
}

func (a *Agent) publishTaskCompleted(ctx context.Context, taskID string, iteration int, output string, parsed map[string]interface{}) {
	data, _ := json.Marshal(map[string]interface{}{"task_id": taskID, "iteration": iteration, "result": parsed})
	a.publish(ctx, domain.TopicTaskCompleted, domain.Content{Text: output, Data: data}, nil)
}
