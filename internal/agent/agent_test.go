package agent

import (
	"context"
	"testing"
	"time"

	busPkg "github.com/swarmctl/swarmctl/internal/bus"
	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/hook"
	"github.com/swarmctl/swarmctl/internal/modelpolicy"
	store "github.com/swarmctl/swarmctl/internal/repository"
	"github.com/swarmctl/swarmctl/internal/taskrunner"
	"github.com/swarmctl/swarmctl/internal/trigger"
)

type testHarness struct {
	t       *testing.T
	bus     *busPkg.Bus
	engine  *trigger.Engine
	hooks   *hook.Runner
	policy  *modelpolicy.Engine
	stopper *fakeStopper
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	m, err := store.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	b := busPkg.New(m)
	stopper := &fakeStopper{}
	policy, err := modelpolicy.NewDefaultEngine(context.Background())
	if err != nil {
		t.Fatalf("NewDefaultEngine failed: %v", err)
	}
	return &testHarness{
		t:       t,
		bus:     b,
		engine:  trigger.NewEngine(),
		hooks:   hook.New(busPublisher{b}, noopSpawner{}, stopper),
		policy:  policy,
		stopper: stopper,
	}
}

func (h *testHarness) newAgent(def domain.AgentDefinition, runner *fakeRunner, cluster fakeClusterInfo) *Agent {
	return New(def, "c1", Deps{
		Bus:     h.bus,
		Engine:  h.engine,
		Hooks:   h.hooks,
		Policy:  h.policy,
		Runner:  runner,
		Cluster: cluster,
	})
}

// waitForTopic polls the ledger until a record on topic appears or the
// deadline elapses, since execute_task dispatch happens on its own
// goroutine.
func (h *testHarness) waitForTopic(topic string, timeout time.Duration) (domain.Message, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg, ok, err := h.bus.FindLast(context.Background(), domain.MessageFilter{ClusterID: "c1", Topic: topic})
		if err != nil {
			h.t.Fatalf("FindLast failed: %v", err)
		}
		if ok {
			return msg, true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return domain.Message{}, false
}

func workerDef() domain.AgentDefinition {
	return domain.AgentDefinition{
		ID:   "worker",
		Role: "worker",
		Triggers: []domain.Trigger{
			{Topic: domain.TopicIssueOpened, Action: domain.TriggerActionExecuteTask},
		},
		ModelConfig: domain.ModelConfig{Type: "static", ModelLevel: "level1"},
	}
}

func TestExecuteTaskPublishesStartedAndCompleted(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{Success: true, Output: `{"summary":"done","result":{"ok":true}}`}
	a := h.newAgent(workerDef(), runner, fakeClusterInfo{createdAt: time.Now()})
	a.Subscribe()
	defer a.Close()

	if _, err := h.bus.Publish(context.Background(), busPkg.PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if _, ok := h.waitForTopic(domain.TopicTaskCompleted, time.Second); !ok {
		t.Fatalf("expected TASK_COMPLETED to be published")
	}
	if a.State().Iteration != 1 {
		t.Fatalf("expected iteration 1, got %d", a.State().Iteration)
	}
	if a.State().State != domain.AgentStateIdle {
		t.Fatalf("expected agent to return to idle, got %s", a.State().State)
	}
}

func TestModelCeilingViolationHaltsTaskWithoutRunning(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{Success: true, Output: `{}`}
	def := workerDef()
	def.ModelConfig = domain.ModelConfig{Type: "static", ModelLevel: "level3"}
	a := h.newAgent(def, runner, fakeClusterInfo{
		createdAt: time.Now(),
		settings:  domain.Settings{MaxModel: domain.ModelLevel2},
	})
	a.Subscribe()
	defer a.Close()

	if _, err := h.bus.Publish(context.Background(), busPkg.PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg, ok := h.waitForTopic(domain.TopicAgentError, time.Second)
	if !ok {
		t.Fatalf("expected AGENT_ERROR to be published")
	}
	if kind, _ := msg.Metadata["kind"].(string); kind != domain.ErrKindModelCeilingViolation {
		t.Fatalf("expected kind %s, got %v", domain.ErrKindModelCeilingViolation, msg.Metadata["kind"])
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected the task runner never to be invoked, got %d calls", len(runner.calls))
	}
}

func TestIterationCeilingPublishesHalted(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{Success: true, Output: `{"summary":"x","result":1}`}
	def := workerDef()
	def.MaxIterations = 1
	a := h.newAgent(def, runner, fakeClusterInfo{createdAt: time.Now()})
	a.Restore(domain.AgentRuntimeState{AgentID: "worker", ClusterID: "c1", State: domain.AgentStateIdle, Iteration: 1})
	a.Subscribe()
	defer a.Close()

	if _, err := h.bus.Publish(context.Background(), busPkg.PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if _, ok := h.waitForTopic(domain.TopicAgentHalted, time.Second); !ok {
		t.Fatalf("expected AGENT_HALTED to be published")
	}
}

func TestValidatorSchemaFailureIsFatalForIteration(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{Success: true, Output: `not json`}
	def := workerDef()
	def.ID = "validator"
	def.Role = "validator"
	a := h.newAgent(def, runner, fakeClusterInfo{createdAt: time.Now()})
	a.Subscribe()
	defer a.Close()

	if _, err := h.bus.Publish(context.Background(), busPkg.PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg, ok := h.waitForTopic(domain.TopicAgentError, time.Second)
	if !ok {
		t.Fatalf("expected AGENT_ERROR for validator parse failure")
	}
	if kind, _ := msg.Metadata["kind"].(string); kind != domain.ErrKindParseError {
		t.Fatalf("expected kind %s, got %v", domain.ErrKindParseError, msg.Metadata["kind"])
	}
}

func TestWorkerSchemaFailureIsWarningNotFatal(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{Success: true, Output: `not json`}
	a := h.newAgent(workerDef(), runner, fakeClusterInfo{createdAt: time.Now()})
	a.Subscribe()
	defer a.Close()

	if _, err := h.bus.Publish(context.Background(), busPkg.PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if _, ok := h.waitForTopic(domain.TopicAgentSchemaWarning, time.Second); !ok {
		t.Fatalf("expected AGENT_SCHEMA_WARNING")
	}
	if _, ok := h.waitForTopic(domain.TopicTaskCompleted, time.Second); !ok {
		t.Fatalf("expected TASK_COMPLETED to still be published for a non-validator")
	}
}

func TestDeferredTriggerReplaysAfterExecutingAgentGoesIdle(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	// A blocking runner so the first execute_task keeps the agent busy
	// while a second ISSUE_OPENED arrives and must be deferred.
	blocking := &fakeRunner{Handler: func(ctx context.Context, prompt string, opts taskrunner.Options) (taskrunner.Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return taskrunner.Result{Success: true, Output: `{"summary":"ok","result":1}`}, nil
	}}
	a := h.newAgent(workerDef(), blocking, fakeClusterInfo{createdAt: time.Now()})
	a.Subscribe()
	defer a.Close()

	if _, err := h.bus.Publish(context.Background(), busPkg.PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	<-started

	if _, err := h.bus.Publish(context.Background(), busPkg.PublishInput{ClusterID: "c1", Topic: domain.TopicIssueOpened, Sender: "system"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if got := a.State().DeferredTriggers; len(got) != 1 {
		t.Fatalf("expected the second trigger to be deferred while executing, got %+v", got)
	}

	close(release)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		count, err := h.bus.Count(context.Background(), domain.MessageFilter{ClusterID: "c1", Topic: domain.TopicTaskCompleted})
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if count == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected deferred trigger to be replayed, producing 2 TASK_COMPLETED records")
}
