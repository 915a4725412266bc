// Package domain defines the core domain model of the coordination engine:
// messages, clusters, agent definitions and their runtime state.
package domain

// ClusterState represents the lifecycle state of a cluster.
type ClusterState string

const (
	ClusterStateRunning   ClusterState = "running"
	ClusterStateStopped   ClusterState = "stopped"
	ClusterStateFailed    ClusterState = "failed"
	ClusterStateCompleted ClusterState = "completed"
)

// IsTerminal reports whether the state is final for the cluster.
func (s ClusterState) IsTerminal() bool {
	switch s {
	case ClusterStateStopped, ClusterStateFailed, ClusterStateCompleted:
		return true
	}
	return false
}

// AgentState represents the lifecycle state of a single agent instance.
type AgentState string

const (
	AgentStateIdle        AgentState = "idle"
	AgentStateEvaluating  AgentState = "evaluating"
	AgentStateExecuting   AgentState = "executing"
	AgentStateCoolingDown AgentState = "cooling_down"
)

// TriggerAction is the closed set of actions a trigger may fire.
type TriggerAction string

const (
	TriggerActionExecuteTask    TriggerAction = "execute_task"
	TriggerActionStopCluster    TriggerAction = "stop_cluster"
	TriggerActionPublishMessage TriggerAction = "publish_message"
	TriggerActionNoop           TriggerAction = "noop"
)

// HookAction is the closed set of actions a hook may run.
type HookAction string

const (
	HookActionPublishMessage  HookAction = "publish_message"
	HookActionStopCluster     HookAction = "stop_cluster"
	HookActionSpawnSubCluster HookAction = "spawn_sub_cluster"
	HookActionNoop            HookAction = "noop"
)

// OutputFormat is the format an agent's task runner is asked to emit.
type OutputFormat string

const (
	OutputFormatText       OutputFormat = "text"
	OutputFormatJSON       OutputFormat = "json"
	OutputFormatStreamJSON OutputFormat = "stream-json"
)

// ModelLevel is the normalized model tier. Legacy provider model names
// (haiku|sonnet|opus) are mapped onto these on settings load.
type ModelLevel string

const (
	ModelLevel1 ModelLevel = "level1"
	ModelLevel2 ModelLevel = "level2"
	ModelLevel3 ModelLevel = "level3"
)

var legacyModelLevels = map[string]ModelLevel{
	"haiku":  ModelLevel1,
	"sonnet": ModelLevel2,
	"opus":   ModelLevel3,
}

// NormalizeModelLevel maps a legacy model name onto its level, or returns
// the input unchanged if it is already a level identifier.
func NormalizeModelLevel(name string) ModelLevel {
	if lvl, ok := legacyModelLevels[name]; ok {
		return lvl
	}
	return ModelLevel(name)
}

var modelLevelRank = map[ModelLevel]int{
	ModelLevel1: 1,
	ModelLevel2: 2,
	ModelLevel3: 3,
}

// Rank returns the ordinal rank of a model level, or 0 if unknown.
func (m ModelLevel) Rank() int {
	return modelLevelRank[m]
}

// SinceKind is how a context source's "since" field is interpreted.
type SinceKind string

const (
	SinceClusterStart SinceKind = "cluster_start"
	SinceLastTaskEnd  SinceKind = "last_task_end"
)

// Well-known topics published by the core itself.
const (
	TopicIssueOpened        = "ISSUE_OPENED"
	TopicValidationResult   = "VALIDATION_RESULT"
	TopicClusterOperations  = "CLUSTER_OPERATIONS"
	TopicAgentHalted        = "AGENT_HALTED"
	TopicAgentStale         = "AGENT_STALE"
	TopicAgentTimeout       = "AGENT_TIMEOUT"
	TopicAgentError         = "AGENT_ERROR"
	TopicAgentSchemaWarning = "AGENT_SCHEMA_WARNING"
	TopicLogicError         = "LOGIC_ERROR"
	TopicHookError          = "HOOK_ERROR"
	TopicTaskStarted        = "TASK_STARTED"
	TopicTaskCompleted      = "TASK_COMPLETED"
	TopicStopCluster        = "STOP_CLUSTER"
	TopicClusterComplete    = "CLUSTER_COMPLETE"
)

// Error kinds, per spec §7. ConfigError and LedgerCorruption are fatal.
// LedgerCorruption is never published; ConfigError is published only as
// the kind of the AGENT_ERROR an agent emits when building its task
// context fails. The rest accompany an AGENT_ERROR (or their own topic)
// record.
const (
	ErrKindModelCeilingViolation = "MODEL_CEILING_VIOLATION"
	ErrKindNoModelRule           = "NO_MODEL_RULE"
	ErrKindRunnerError           = "RUNNER_ERROR"
	ErrKindParseError            = "PARSE_ERROR"
	ErrKindSchemaError           = "SCHEMA_ERROR"
	ErrKindConfigError           = "CONFIG_ERROR"
	ErrKindLedgerCorruption      = "LEDGER_CORRUPTION"
)

// InputSource identifies how a cluster's seed input arrived.
type InputSource string

const (
	InputSourceIssue InputSource = "issue"
	InputSourceFile  InputSource = "file"
	InputSourceText  InputSource = "text"
)
