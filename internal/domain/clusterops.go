package domain

// ClusterOperationsPayload is the content.data of a CLUSTER_OPERATIONS
// message: an ordered list of operations applied sequentially, so that
// all add_agents side effects of one operation are visible before any
// later publish operation in the same list is appended (spec §4.7).
type ClusterOperationsPayload struct {
	Operations []ClusterOperation `json:"operations"`
}

// ClusterOperation is a single entry in a CLUSTER_OPERATIONS list.
// Exactly one field should be set.
type ClusterOperation struct {
	AddAgents   []AgentDefinition `json:"add_agents,omitempty"`
	RemoveAgent string            `json:"remove_agent,omitempty"`
	Publish     *PublishOperation `json:"publish,omitempty"`
	Stop        *StopOperation    `json:"stop,omitempty"`
}

// PublishOperation republishes or freshly publishes a message as part of
// a cluster operation. A nil Content with metadata["_republished"]==true
// means "republish the latest record on Topic" (spec §4.2).
type PublishOperation struct {
	Topic    string                 `json:"topic"`
	Content  *Content               `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// WantsRepublish reports whether this publish operation asks for a
// republish of the latest prior record rather than fresh content.
func (p PublishOperation) WantsRepublish() bool {
	if p.Content != nil {
		return false
	}
	v, ok := p.Metadata["_republished"]
	b, _ := v.(bool)
	return ok && b
}

// StopOperation cooperatively stops the cluster.
type StopOperation struct {
	Reason string `json:"reason,omitempty"`
}
