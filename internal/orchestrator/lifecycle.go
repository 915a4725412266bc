package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swarmctl/swarmctl/internal/domain"
	store "github.com/swarmctl/swarmctl/internal/repository"
	"github.com/swarmctl/swarmctl/internal/template"
)

func (o *Orchestrator) get(clusterID string) (*runningCluster, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rc, ok := o.clusters[clusterID]
	return rc, ok
}

// List returns a summary of every cluster this process currently has
// loaded in memory.
func (o *Orchestrator) List() []domain.ClusterSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.ClusterSummary, 0, len(o.clusters))
	for _, rc := range o.clusters {
		rc.mu.Lock()
		out = append(out, domain.ClusterSummary{
			ID:        rc.cluster.ID,
			CreatedAt: rc.cluster.CreatedAt,
			State:     rc.cluster.State,
			AgentIDs:  rc.registry.GetAgents(),
		})
		rc.mu.Unlock()
	}
	return out
}

// Status returns the cluster record and every agent's current runtime
// state.
func (o *Orchestrator) Status(clusterID string) (domain.Cluster, []domain.AgentRuntimeState, error) {
	rc, ok := o.get(clusterID)
	if !ok {
		return domain.Cluster{}, nil, fmt.Errorf("cluster %s is not loaded", clusterID)
	}
	rc.mu.Lock()
	cluster := rc.cluster
	rc.mu.Unlock()

	var states []domain.AgentRuntimeState
	for _, id := range rc.registry.GetAgents() {
		if a := rc.registry.Get(id); a != nil {
			states = append(states, a.State())
		}
	}
	return cluster, states, nil
}

// Logs is a pass-through to the cluster's ledger.
func (o *Orchestrator) Logs(ctx context.Context, clusterID string, filter domain.MessageFilter) ([]domain.Message, error) {
	filter.ClusterID = clusterID
	return o.bus.Query(ctx, filter)
}

// Stop cooperatively stops a cluster: new trigger firings are prevented
// and the cluster state flips to stopped, but any task already running
// is left to finish (spec §4.7 Kill/Stop).
func (o *Orchestrator) Stop(ctx context.Context, clusterID, reason string) error {
	rc, ok := o.get(clusterID)
	if !ok {
		return fmt.Errorf("cluster %s is not loaded", clusterID)
	}
	rc.mu.Lock()
	rc.cluster.State = domain.ClusterStateStopped
	rc.cluster.StoppedReason = reason
	snapshot := rc.cluster
	rc.mu.Unlock()

	rc.unsubOps()
	for _, id := range rc.registry.GetAgents() {
		if a := rc.registry.Get(id); a != nil {
			a.Close()
		}
	}
	if rc.sweepCancel != nil {
		rc.sweepCancel()
	}

	if err := o.saveClusterConfig(snapshot); err != nil {
		return fmt.Errorf("persist stopped cluster: %w", err)
	}
	return o.ledgers.PutIndexEntry(store.IndexEntry{ID: clusterID, State: string(domain.ClusterStateStopped), CreatedAt: snapshot.CreatedAt})
}

// Kill immediately cancels every in-flight task and stops the cluster
// (spec §4.7 Kill/Stop).
func (o *Orchestrator) Kill(ctx context.Context, clusterID, reason string) error {
	rc, ok := o.get(clusterID)
	if !ok {
		return fmt.Errorf("cluster %s is not loaded", clusterID)
	}
	for _, id := range rc.registry.GetAgents() {
		if a := rc.registry.Get(id); a != nil {
			a.Cancel()
		}
	}
	return o.Stop(ctx, clusterID, reason)
}

// Purge permanently removes a cluster's ledger, index entry, and
// persisted config. A loaded cluster must already be stopped (or
// otherwise terminal); it is dropped from memory before its files go.
func (o *Orchestrator) Purge(clusterID string) error {
	o.mu.Lock()
	if rc, loaded := o.clusters[clusterID]; loaded {
		rc.mu.Lock()
		terminal := rc.cluster.State.IsTerminal()
		rc.mu.Unlock()
		if !terminal {
			o.mu.Unlock()
			return fmt.Errorf("cluster %s is still running; stop it first", clusterID)
		}
		delete(o.clusters, clusterID)
	}
	o.mu.Unlock()
	if err := o.ledgers.Purge(clusterID); err != nil {
		return err
	}
	return removeIfExists(o.clusterConfigPath(clusterID))
}

// StopCluster implements hook.ClusterStopper, letting an agent's
// stop_cluster hook (or trigger action) reach back into the
// Orchestrator.
func (o *Orchestrator) StopCluster(ctx context.Context, clusterID, reason string) error {
	return o.Stop(ctx, clusterID, reason)
}

// SpawnSubCluster implements hook.SubClusterSpawner: config is either a
// template reference ({"template":{...}}) or a bare agent list
// ({"agents":[...]}); when waitForTopic is set, it blocks until that
// topic is observed on the new cluster, ctx is done, or 30 seconds pass,
// whichever comes first.
func (o *Orchestrator) SpawnSubCluster(ctx context.Context, parentClusterID string, config, input json.RawMessage, waitForTopic string) (string, error) {
	var spec struct {
		Template *template.Template      `json:"template"`
		Agents   []domain.AgentDefinition `json:"agents"`
		Provider string                   `json:"provider"`
	}
	if err := json.Unmarshal(config, &spec); err != nil {
		return "", fmt.Errorf("decode sub-cluster config: %w", err)
	}
	var inputSpec struct {
		Text   string              `json:"text"`
		Source domain.InputSource  `json:"source"`
	}
	_ = json.Unmarshal(input, &inputSpec)

	cluster, err := o.Start(ctx, StartOptions{
		Config:   spec.Agents,
		Template: spec.Template,
		Provider: spec.Provider,
		Input:    InputSpec{Text: inputSpec.Text, Source: inputSpec.Source},
	})
	if err != nil {
		return "", fmt.Errorf("start sub-cluster: %w", err)
	}
	if waitForTopic == "" {
		return cluster.ID, nil
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, err := o.bus.FindLast(ctx, domain.MessageFilter{ClusterID: cluster.ID, Topic: waitForTopic}); err == nil && ok {
			return cluster.ID, nil
		}
		select {
		case <-ctx.Done():
			return cluster.ID, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return cluster.ID, fmt.Errorf("sub-cluster %s: timed out waiting for %s", cluster.ID, waitForTopic)
}
