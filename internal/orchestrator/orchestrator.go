// Package orchestrator implements Start/Resume/Stop/Kill and
// CLUSTER_OPERATIONS handling (spec §4.7): the component that wires a
// cluster's ledger, bus, trigger engine, hooks, and agent registry
// together and owns their lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmctl/swarmctl/internal/agent"
	"github.com/swarmctl/swarmctl/internal/bus"
	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/hook"
	"github.com/swarmctl/swarmctl/internal/isolation"
	"github.com/swarmctl/swarmctl/internal/modelpolicy"
	store "github.com/swarmctl/swarmctl/internal/repository"
	"github.com/swarmctl/swarmctl/internal/taskrunner"
	"github.com/swarmctl/swarmctl/internal/template"
	"github.com/swarmctl/swarmctl/internal/trigger"
)

// Orchestrator owns every running cluster in this process.
type Orchestrator struct {
	stateDir  string
	processWD string

	ledgers  *store.Manager
	bus      *bus.Bus
	policy   *modelpolicy.Engine
	runner   taskrunner.Runner
	iso      isolation.Backend
	settings SettingsProvider
	resolver *template.Resolver

	mu       sync.Mutex
	clusters map[string]*runningCluster
}

// runningCluster is the live state backing one cluster: its materialized
// config, agent registry, and the per-cluster collaborators an Agent
// needs (trigger engine, hook runner).
type runningCluster struct {
	mu      sync.Mutex
	cluster domain.Cluster

	registry *agent.Registry
	engine   *trigger.Engine
	hooks    *hook.Runner

	settings domain.Settings
	provider string

	sweepCancel context.CancelFunc
	unsubOps    func()
}

// New creates an Orchestrator. templateBaseDir may be empty if templates
// are always resolved from already-loaded bytes.
func New(stateDir, processWD string, ledgers *store.Manager, b *bus.Bus, policy *modelpolicy.Engine, runner taskrunner.Runner, iso isolation.Backend, settings SettingsProvider, templateBaseDir string) *Orchestrator {
	return &Orchestrator{
		stateDir:  stateDir,
		processWD: processWD,
		ledgers:   ledgers,
		bus:       b,
		policy:    policy,
		runner:    runner,
		iso:       iso,
		settings:  settings,
		resolver:  template.NewResolver(templateBaseDir),
		clusters:  make(map[string]*runningCluster),
	}
}

// clusterInfoAdapter implements agent.ClusterInfo over a runningCluster.
// Settings is re-read from the external store on every call rather than
// cached, since agent.ClusterInfo.Settings has no context parameter to
// thread a per-call refresh through and spec §5 requires settings to be
// consumed fresh "at task spawn" — the call site for this method.
type clusterInfoAdapter struct {
	o  *Orchestrator
	rc *runningCluster
}

func (c clusterInfoAdapter) CreatedAt() time.Time {
	c.rc.mu.Lock()
	defer c.rc.mu.Unlock()
	return c.rc.cluster.CreatedAt
}

func (c clusterInfoAdapter) Settings() domain.Settings {
	if fresh, err := c.o.settings.Settings(context.Background()); err == nil {
		return fresh
	}
	c.rc.mu.Lock()
	defer c.rc.mu.Unlock()
	return c.rc.settings
}

func (c clusterInfoAdapter) GetAgents() []string {
	return c.rc.registry.GetAgents()
}

func (c clusterInfoAdapter) Provider() string {
	c.rc.mu.Lock()
	defer c.rc.mu.Unlock()
	return c.rc.provider
}

// InputSpec describes the seed input a Start call publishes as
// ISSUE_OPENED (spec §4.7 step 4).
type InputSpec struct {
	Source   domain.InputSource
	Text     string
	FilePath string // read and used as Text with Source=file when set
}

// StartOptions configures Start. Exactly one of Config or Template
// should be set.
type StartOptions struct {
	ClusterID string // generated if empty
	Config    []domain.AgentDefinition
	Template  *template.Template
	Provider  string
	Input     InputSpec
	Isolation *isolation.Spec
}

// Start resolves templates, allocates the cluster's ledger and bus,
// registers its agents, and seeds the run with an ISSUE_OPENED message
// (spec §4.7 Start).
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (domain.Cluster, error) {
	agents := opts.Config
	if opts.Template != nil {
		resolved, warnings, err := o.resolver.Resolve(*opts.Template)
		if err != nil {
			return domain.Cluster{}, fmt.Errorf("resolve template: %w", err)
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "template warning: %s\n", w)
		}
		agents = resolved
	}
	if len(agents) == 0 {
		return domain.Cluster{}, domain.NewCoordError(domain.ErrKindConfigError, "cluster config has no agents", nil)
	}

	clusterID := opts.ClusterID
	if clusterID == "" {
		clusterID = uuid.NewString()
	}

	if _, err := o.ledgers.Get(clusterID); err != nil {
		return domain.Cluster{}, fmt.Errorf("allocate ledger: %w", err)
	}

	cluster := domain.Cluster{
		ID:        clusterID,
		CreatedAt: time.Now(),
		State:     domain.ClusterStateRunning,
		Config:    agents,
	}

	if opts.Isolation != nil {
		handle, err := o.iso.Provision(ctx, *opts.Isolation)
		if err != nil {
			return domain.Cluster{}, fmt.Errorf("provision isolation: %w", err)
		}
		cluster.WorktreePath = handle.WorkDir
		cluster.ContainerID = handle.ContainerID
		cluster.Isolation = domain.IsolationRef{WorkDir: handle.WorkDir}
	}

	settingsSnapshot, err := o.settings.Settings(ctx)
	if err != nil {
		return domain.Cluster{}, fmt.Errorf("load settings: %w", err)
	}

	rc := &runningCluster{
		cluster:  cluster,
		registry: agent.NewRegistry(),
		engine:   trigger.NewEngine(),
		settings: settingsSnapshot,
		provider: opts.Provider,
	}
	rc.hooks = hook.New(busPublisher{o.bus}, o, o)

	for i := range cluster.Config {
		cluster.Config[i].Cwd = cluster.CwdDefault(cluster.Config[i].Cwd, o.processWD)
	}
	rc.cluster = cluster

	o.mu.Lock()
	o.clusters[clusterID] = rc
	o.mu.Unlock()

	for _, def := range cluster.Config {
		o.registerAgent(rc, def)
	}
	rc.unsubOps = o.bus.SubscribeTopic(clusterID, domain.TopicClusterOperations, func(msg domain.Message) {
		o.applyClusterOperations(context.Background(), rc, msg)
	})

	sweepCtx, cancel := context.WithCancel(context.Background())
	rc.sweepCancel = cancel
	go rc.registry.RunStaleSweep(sweepCtx)

	if err := o.saveClusterConfig(cluster); err != nil {
		return domain.Cluster{}, fmt.Errorf("persist cluster config: %w", err)
	}
	if err := o.ledgers.PutIndexEntry(store.IndexEntry{
		ID:           cluster.ID,
		State:        string(cluster.State),
		CreatedAt:    cluster.CreatedAt,
		WorktreePath: cluster.WorktreePath,
		ContainerID:  cluster.ContainerID,
	}); err != nil {
		return domain.Cluster{}, fmt.Errorf("index cluster: %w", err)
	}

	input := opts.Input
	if input.FilePath != "" {
		data, err := os.ReadFile(input.FilePath)
		if err != nil {
			return domain.Cluster{}, fmt.Errorf("read input file: %w", err)
		}
		input.Text = string(data)
		input.Source = domain.InputSourceFile
	}
	if _, err := o.bus.Publish(ctx, bus.PublishInput{
		ClusterID: clusterID,
		Topic:     domain.TopicIssueOpened,
		Sender:    "orchestrator",
		Content:   domain.Content{Text: input.Text},
		Metadata:  map[string]interface{}{"source": string(input.Source)},
	}); err != nil {
		return domain.Cluster{}, fmt.Errorf("seed input: %w", err)
	}

	return cluster, nil
}

// registerAgent creates, subscribes, and registers one Agent under rc.
// It does not take rc.mu itself; applyAddAgents calls it with rc.mu held
// across both the cluster.Config update and this call.
func (o *Orchestrator) registerAgent(rc *runningCluster, def domain.AgentDefinition) *agent.Agent {
	a := agent.New(def, rc.cluster.ID, agent.Deps{
		Bus:     o.bus,
		Engine:  rc.engine,
		Hooks:   rc.hooks,
		Policy:  o.policy,
		Runner:  o.runner,
		Cluster: clusterInfoAdapter{o: o, rc: rc},
	})
	a.Subscribe()
	rc.registry.Add(a)
	return a
}

// busPublisher adapts *bus.Bus to hook.Publisher's narrower signature.
type busPublisher struct{ b *bus.Bus }

func (p busPublisher) Publish(ctx context.Context, clusterID, topic, sender string, content domain.Content, metadata map[string]interface{}) (domain.Message, error) {
	return p.b.Publish(ctx, bus.PublishInput{ClusterID: clusterID, Topic: topic, Sender: sender, Content: content, Metadata: metadata})
}

func (p busPublisher) FindLast(ctx context.Context, clusterID, topic string) (domain.Message, bool, error) {
	return p.b.FindLast(ctx, domain.MessageFilter{ClusterID: clusterID, Topic: topic})
}
