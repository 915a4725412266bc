package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swarmctl/swarmctl/internal/bus"
	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/taskrunner"
)

// busPublisher adapts *bus.Bus to hook.Publisher's narrower signature.
type busPublisher struct{ b *bus.Bus }

func (p busPublisher) Publish(ctx context.Context, clusterID, topic, sender string, content domain.Content, metadata map[string]interface{}) (domain.Message, error) {
	return p.b.Publish(ctx, bus.PublishInput{ClusterID: clusterID, Topic: topic, Sender: sender, Content: content, Metadata: metadata})
}

func (p busPublisher) FindLast(ctx context.Context, clusterID, topic string) (domain.Message, bool, error) {
	return p.b.FindLast(ctx, domain.MessageFilter{ClusterID: clusterID, Topic: topic})
}

type noopSpawner struct{}

func (noopSpawner) SpawnSubCluster(ctx context.Context, parentClusterID string, config, input json.RawMessage, waitForTopic string) (string, error) {
	return "", nil
}

type fakeStopper struct{ stopped []string }

func (s *fakeStopper) StopCluster(ctx context.Context, clusterID, reason string) error {
	s.stopped = append(s.stopped, clusterID)
	return nil
}

type fakeClusterInfo struct {
	createdAt time.Time
	settings  domain.Settings
	provider  string
	agents    []string
}

func (f fakeClusterInfo) CreatedAt() time.Time      { return f.createdAt }
func (f fakeClusterInfo) Settings() domain.Settings { return f.settings }
func (f fakeClusterInfo) GetAgents() []string       { return f.agents }
func (f fakeClusterInfo) Provider() string          { return f.provider }

// fakeRunner is a scriptable taskrunner.Runner: by default it echoes a
// canned successful JSON output, but a test may override Output/Success/Err
// or supply a Handler for per-call behavior (e.g. simulating a timeout).
type fakeRunner struct {
	Output  string
	Success bool
	Err     error
	Handler func(ctx context.Context, prompt string, opts taskrunner.Options) (taskrunner.Result, error)

	calls []taskrunner.Options
}

func (r *fakeRunner) Run(ctx context.Context, prompt string, opts taskrunner.Options) (taskrunner.Result, error) {
	r.calls = append(r.calls, opts)
	if r.Handler != nil {
		return r.Handler(ctx, prompt, opts)
	}
	if r.Err != nil {
		return taskrunner.Result{}, r.Err
	}
	return taskrunner.Result{Success: r.Success, Output: r.Output}, nil
}

var _ taskrunner.Runner = (*fakeRunner)(nil)
