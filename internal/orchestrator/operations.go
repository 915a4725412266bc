package orchestrator

import (
	"context"
	"encoding/json"
	"log"

	"github.com/swarmctl/swarmctl/internal/bus"
	"github.com/swarmctl/swarmctl/internal/domain"
)

// applyClusterOperations processes one CLUSTER_OPERATIONS message's
// operation list in order, applying each fully (including its ledger
// append) before moving to the next — so a subsequent publish op in the
// same list always sees the add_agents it followed (spec §4.7, §5).
func (o *Orchestrator) applyClusterOperations(ctx context.Context, rc *runningCluster, msg domain.Message) {
	if msg.Republished() {
		return
	}
	var payload domain.ClusterOperationsPayload
	if len(msg.Content.Data) == 0 {
		return
	}
	if err := json.Unmarshal(msg.Content.Data, &payload); err != nil {
		log.Printf("ERROR: cluster %s: decode CLUSTER_OPERATIONS: %v", rc.cluster.ID, err)
		return
	}

	for _, op := range payload.Operations {
		switch {
		case len(op.AddAgents) > 0:
			o.applyAddAgents(rc, op.AddAgents)
		case op.RemoveAgent != "":
			o.applyRemoveAgent(rc, op.RemoveAgent)
		case op.Publish != nil:
			o.applyPublish(ctx, rc, *op.Publish)
		case op.Stop != nil:
			if err := o.Stop(ctx, rc.cluster.ID, op.Stop.Reason); err != nil {
				log.Printf("ERROR: cluster %s: stop operation: %v", rc.cluster.ID, err)
			}
		}
	}

	rc.mu.Lock()
	snapshot := rc.cluster
	rc.mu.Unlock()
	if err := o.saveClusterConfig(snapshot); err != nil {
		log.Printf("ERROR: cluster %s: persist config after operations: %v", rc.cluster.ID, err)
	}
}

func (o *Orchestrator) applyAddAgents(rc *runningCluster, defs []domain.AgentDefinition) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, def := range defs {
		def.Cwd = rc.cluster.CwdDefault(def.Cwd, o.processWD)
		o.registerAgent(rc, def)
		rc.cluster.Config = append(rc.cluster.Config, def)
	}
}

func (o *Orchestrator) applyRemoveAgent(rc *runningCluster, agentID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.registry.Remove(agentID)
	kept := rc.cluster.Config[:0]
	for _, def := range rc.cluster.Config {
		if def.ID != agentID {
			kept = append(kept, def)
		}
	}
	rc.cluster.Config = kept
}

func (o *Orchestrator) applyPublish(ctx context.Context, rc *runningCluster, op domain.PublishOperation) {
	if op.WantsRepublish() {
		if _, err := o.bus.Republish(ctx, rc.cluster.ID, op.Topic, "orchestrator"); err != nil {
			log.Printf("ERROR: cluster %s: republish %s: %v", rc.cluster.ID, op.Topic, err)
		}
		return
	}
	var content domain.Content
	if op.Content != nil {
		content = *op.Content
	}
	if _, err := o.bus.Publish(ctx, bus.PublishInput{
		ClusterID: rc.cluster.ID,
		Topic:     op.Topic,
		Sender:    "orchestrator",
		Content:   content,
		Metadata:  op.Metadata,
	}); err != nil {
		log.Printf("ERROR: cluster %s: publish %s: %v", rc.cluster.ID, op.Topic, err)
	}
}
