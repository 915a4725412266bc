package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/swarmctl/swarmctl/internal/bus"
	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/isolation"
	"github.com/swarmctl/swarmctl/internal/modelpolicy"
	store "github.com/swarmctl/swarmctl/internal/repository"
	"github.com/swarmctl/swarmctl/internal/taskrunner"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	m, err := store.NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	b := bus.New(m)
	policy, err := modelpolicy.NewDefaultEngine(context.Background())
	if err != nil {
		t.Fatalf("NewDefaultEngine failed: %v", err)
	}
	runner := taskrunner.NewMockRunner()
	iso := isolation.NewMockBackend(t.TempDir())
	settings := StaticSettingsProvider{Value: domain.Settings{MaxModel: domain.ModelLevel3}}
	return New(dir, t.TempDir(), m, b, policy, runner, iso, settings, "")
}

func worker(id string) domain.AgentDefinition {
	return domain.AgentDefinition{
		ID:   id,
		Role: "worker",
		Triggers: []domain.Trigger{
			{Topic: domain.TopicIssueOpened, Action: domain.TriggerActionExecuteTask},
		},
		ModelConfig: domain.ModelConfig{Type: "static", ModelLevel: "level1"},
	}
}

func waitForCount(t *testing.T, o *Orchestrator, clusterID, topic string, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msgs, err := o.Logs(context.Background(), clusterID, domain.MessageFilter{Topic: topic})
		if err != nil {
			t.Fatalf("Logs failed: %v", err)
		}
		if len(msgs) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d records on %s", want, topic)
}

func TestStartSeedsIssueOpenedAndRunsWorker(t *testing.T) {
	o := newTestOrchestrator(t)
	cluster, err := o.Start(context.Background(), StartOptions{
		Config:   []domain.AgentDefinition{worker("alpha")},
		Provider: "mock",
		Input:    InputSpec{Source: domain.InputSourceText, Text: "do the thing"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForCount(t, o, cluster.ID, domain.TopicTaskCompleted, 1, time.Second)

	_, states, err := o.Status(cluster.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(states) != 1 || states[0].Iteration != 1 {
		t.Fatalf("expected one agent at iteration 1, got %+v", states)
	}
}

func TestClusterOperationsAddAgentThenPublishSeesIt(t *testing.T) {
	o := newTestOrchestrator(t)
	cluster, err := o.Start(context.Background(), StartOptions{
		Config:   []domain.AgentDefinition{worker("alpha")},
		Provider: "mock",
		Input:    InputSpec{Source: domain.InputSourceText, Text: "seed"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForCount(t, o, cluster.ID, domain.TopicTaskCompleted, 1, time.Second)

	ops := domain.ClusterOperationsPayload{
		Operations: []domain.ClusterOperation{
			{AddAgents: []domain.AgentDefinition{worker("beta")}},
			{Publish: &domain.PublishOperation{Topic: domain.TopicIssueOpened, Content: &domain.Content{Text: "round two"}}},
		},
	}
	data, err := json.Marshal(ops)
	if err != nil {
		t.Fatalf("marshal ops: %v", err)
	}
	if _, err := o.bus.Publish(context.Background(), bus.PublishInput{
		ClusterID: cluster.ID,
		Topic:     domain.TopicClusterOperations,
		Sender:    "test",
		Content:   domain.Content{Data: data},
	}); err != nil {
		t.Fatalf("publish CLUSTER_OPERATIONS: %v", err)
	}

	waitForCount(t, o, cluster.ID, domain.TopicTaskCompleted, 3, time.Second)

	_, states, err := o.Status(cluster.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 agents after add_agents, got %d", len(states))
	}
}

func TestStopPreventsFurtherTriggers(t *testing.T) {
	o := newTestOrchestrator(t)
	cluster, err := o.Start(context.Background(), StartOptions{
		Config:   []domain.AgentDefinition{worker("alpha")},
		Provider: "mock",
		Input:    InputSpec{Source: domain.InputSourceText, Text: "seed"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForCount(t, o, cluster.ID, domain.TopicTaskCompleted, 1, time.Second)

	if err := o.Stop(context.Background(), cluster.ID, "done for now"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, err := o.bus.Publish(context.Background(), bus.PublishInput{ClusterID: cluster.ID, Topic: domain.TopicIssueOpened, Sender: "test"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	msgs, err := o.Logs(context.Background(), cluster.ID, domain.MessageFilter{Topic: domain.TopicTaskCompleted})
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected no new tasks after stop, got %d completions", len(msgs))
	}
}

func TestResumeRebuildsIterationFromLedger(t *testing.T) {
	o := newTestOrchestrator(t)
	cluster, err := o.Start(context.Background(), StartOptions{
		ClusterID: "resume-me",
		Config:    []domain.AgentDefinition{worker("alpha")},
		Provider:  "mock",
		Input:     InputSpec{Source: domain.InputSourceText, Text: "seed"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForCount(t, o, cluster.ID, domain.TopicTaskCompleted, 1, time.Second)
	if err := o.Stop(context.Background(), cluster.ID, "restart test"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	o.mu.Lock()
	delete(o.clusters, cluster.ID)
	o.mu.Unlock()

	resumed, err := o.Resume(context.Background(), cluster.ID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.ID != cluster.ID {
		t.Fatalf("expected resumed cluster id %s, got %s", cluster.ID, resumed.ID)
	}
	_, states, err := o.Status(cluster.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(states) != 1 || states[0].Iteration != 1 {
		t.Fatalf("expected rebuilt iteration 1, got %+v", states)
	}
}
