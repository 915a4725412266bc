package domain

import "encoding/json"

// Content is the payload of a ledger message: free text, structured data,
// or both.
type Content struct {
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is a single append-only ledger record.
type Message struct {
	ID        string                 `json:"id"`
	Timestamp int64                  `json:"timestamp"` // unix millis, monotonic per cluster
	ClusterID string                 `json:"cluster_id"`
	Topic     string                 `json:"topic"`
	Sender    string                 `json:"sender"`
	Receiver  string                 `json:"receiver"`
	Content   Content                `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Republished reports whether metadata marks this message as a republish.
func (m Message) Republished() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata["_republished"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Source returns the metadata "source" tag, or "" if unset.
func (m Message) Source() string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata["source"].(string)
	return s
}

// MessageFilter selects a slice of the ledger for Query.
type MessageFilter struct {
	ClusterID string
	Topic     string
	Sender    string
	Receiver  string
	Since     int64 // unix millis, 0 = unbounded
	Before    int64 // unix millis, 0 = unbounded
	Limit     int   // 0 = unbounded
}
