package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmctl/swarmctl/internal/agent"
	"github.com/swarmctl/swarmctl/internal/domain"
	"github.com/swarmctl/swarmctl/internal/hook"
	"github.com/swarmctl/swarmctl/internal/trigger"
)

// Resume reloads a persisted cluster, rebuilds each agent's iteration
// count and lastTaskEndTime from the ledger, repairs cwd for definitions
// that predate cwd inheritance, and re-subscribes triggers. No trigger
// is replayed: the ledger already reflects the desired state (spec §4.7
// Resume).
func (o *Orchestrator) Resume(ctx context.Context, clusterID string) (domain.Cluster, error) {
	if _, ok := o.get(clusterID); ok {
		return domain.Cluster{}, fmt.Errorf("cluster %s is already loaded", clusterID)
	}

	cluster, err := o.loadClusterConfig(clusterID)
	if err != nil {
		return domain.Cluster{}, fmt.Errorf("resume %s: %w", clusterID, err)
	}
	if _, err := o.ledgers.Get(clusterID); err != nil {
		return domain.Cluster{}, fmt.Errorf("resume %s: allocate ledger: %w", clusterID, err)
	}

	settingsSnapshot, err := o.settings.Settings(ctx)
	if err != nil {
		return domain.Cluster{}, fmt.Errorf("resume %s: load settings: %w", clusterID, err)
	}

	rc := &runningCluster{
		cluster:  cluster,
		registry: agent.NewRegistry(),
		engine:   trigger.NewEngine(),
		settings: settingsSnapshot,
	}
	rc.hooks = hook.New(busPublisher{o.bus}, o, o)

	o.mu.Lock()
	o.clusters[clusterID] = rc
	o.mu.Unlock()

	for i := range rc.cluster.Config {
		def := rc.cluster.Config[i]
		def.Cwd = rc.cluster.CwdDefault(def.Cwd, o.processWD)
		rc.cluster.Config[i] = def

		a := o.registerAgent(rc, def)
		state, err := o.rebuildAgentState(ctx, clusterID, def.ID)
		if err != nil {
			return domain.Cluster{}, fmt.Errorf("resume %s: rebuild state for %s: %w", clusterID, def.ID, err)
		}
		a.Restore(state)
	}

	rc.unsubOps = o.bus.SubscribeTopic(clusterID, domain.TopicClusterOperations, func(msg domain.Message) {
		o.applyClusterOperations(context.Background(), rc, msg)
	})
	sweepCtx, cancel := context.WithCancel(context.Background())
	rc.sweepCancel = cancel
	go rc.registry.RunStaleSweep(sweepCtx)

	rc.cluster.State = domain.ClusterStateRunning
	rc.cluster.StoppedReason = ""
	if err := o.saveClusterConfig(rc.cluster); err != nil {
		return domain.Cluster{}, fmt.Errorf("resume %s: persist repaired config: %w", clusterID, err)
	}
	return rc.cluster, nil
}

// rebuildAgentState restores iteration and lastTaskEndTime by counting
// agentID's historical TASK_STARTED/TASK_COMPLETED records (spec §4.7
// Resume step 2-3). Iteration tracks TASK_STARTED since that's the point
// at which the live Agent increments its counter; a TASK_STARTED with no
// matching TASK_COMPLETED reflects a task that was in flight at crash
// time and is not replayed.
func (o *Orchestrator) rebuildAgentState(ctx context.Context, clusterID, agentID string) (domain.AgentRuntimeState, error) {
	started, err := o.bus.Count(ctx, domain.MessageFilter{ClusterID: clusterID, Topic: domain.TopicTaskStarted, Sender: agentID})
	if err != nil {
		return domain.AgentRuntimeState{}, err
	}

	var lastEnd time.Time
	if last, ok, err := o.bus.FindLast(ctx, domain.MessageFilter{ClusterID: clusterID, Topic: domain.TopicTaskCompleted, Sender: agentID}); err != nil {
		return domain.AgentRuntimeState{}, err
	} else if ok {
		lastEnd = time.UnixMilli(last.Timestamp)
	}

	now := time.Now()
	return domain.AgentRuntimeState{
		AgentID:         agentID,
		ClusterID:       clusterID,
		State:           domain.AgentStateIdle,
		Iteration:       started,
		LastTaskEndTime: lastEnd,
		LastActivity:    now,
	}, nil
}
