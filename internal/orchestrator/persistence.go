package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// clusterConfigPath is the durable record of one cluster's Config/
// Isolation/WorktreePath — the detail the ledger index (clusters.json)
// doesn't carry, needed to rebuild a runningCluster on Resume.
func (o *Orchestrator) clusterConfigPath(clusterID string) string {
	return filepath.Join(o.stateDir, clusterID+".cluster.json")
}

// saveClusterConfig persists c atomically, mirroring the ledger
// manager's temp-file-then-rename index write.
func (o *Orchestrator) saveClusterConfig(c domain.Cluster) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cluster config: %w", err)
	}
	path := o.clusterConfigPath(c.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cluster config temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename cluster config: %w", err)
	}
	return nil
}

func (o *Orchestrator) loadClusterConfig(clusterID string) (domain.Cluster, error) {
	data, err := os.ReadFile(o.clusterConfigPath(clusterID))
	if err != nil {
		return domain.Cluster{}, fmt.Errorf("read cluster config: %w", err)
	}
	var c domain.Cluster
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Cluster{}, fmt.Errorf("parse cluster config: %w", err)
	}
	return c, nil
}
