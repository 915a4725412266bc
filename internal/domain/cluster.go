package domain

import "time"

// Cluster is a running instance of a workflow: a set of agents plus their
// shared ledger and bus.
type Cluster struct {
	ID            string                 `json:"id"`
	CreatedAt     time.Time              `json:"created_at"`
	State         ClusterState           `json:"state"`
	Config        []AgentDefinition      `json:"config"`
	WorktreePath  string                 `json:"worktree_path,omitempty"`
	ContainerID   string                 `json:"container_id,omitempty"`
	StoppedReason string                 `json:"stopped_reason,omitempty"`
	Isolation     IsolationRef           `json:"isolation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// IsolationRef is the opaque reference to the optional isolation backend
// (worktree, container) a cluster runs inside. The core never interprets
// this beyond the WorkDir it reports.
type IsolationRef struct {
	WorkDir string `json:"work_dir,omitempty"`
}

// CwdDefault resolves the default chain for a dynamically added agent's
// working directory, per spec §4.7: explicit cwd, then worktree path,
// then isolation workdir, then the process working directory.
func (c Cluster) CwdDefault(explicit string, processWD string) string {
	if explicit != "" {
		return explicit
	}
	if c.WorktreePath != "" {
		return c.WorktreePath
	}
	if c.Isolation.WorkDir != "" {
		return c.Isolation.WorkDir
	}
	return processWD
}

// ClusterSummary is the list-view projection of a Cluster.
type ClusterSummary struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	State     ClusterState `json:"state"`
	AgentIDs  []string     `json:"agent_ids"`
}
