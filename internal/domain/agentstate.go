package domain

import "time"

// AgentRuntimeState is the live, in-memory state of one agent instance
// within a running cluster. It is not persisted to the ledger directly;
// on resume its iteration is rebuilt by counting the agent's TASK_STARTED
// messages and its LastTaskEndTime from its last TASK_COMPLETED message.
type AgentRuntimeState struct {
	AgentID   string
	ClusterID string

	State     AgentState
	Iteration int

	LastTaskEndTime time.Time
	InFlightTaskID  string

	// LastActivity is bumped on every state transition and is the basis
	// for stale detection (§4.5 step 9).
	LastActivity time.Time

	// DeferredTriggers holds triggers that matched while this agent was
	// executing; they are fired, without evaluating their logic again, on
	// the next idle transition.
	DeferredTriggers []DeferredTrigger
}

// DeferredTrigger is a trigger match queued for replay once its agent
// returns to idle.
type DeferredTrigger struct {
	TriggerIndex int
	MessageID    string
}

// IsStale reports whether the agent has been idle-but-unvisited (or
// executing without progress) longer than its configured stale duration.
func (s AgentRuntimeState) IsStale(staleDurationMs int, now time.Time) bool {
	if staleDurationMs <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) > time.Duration(staleDurationMs)*time.Millisecond
}
