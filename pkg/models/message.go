// Package models defines the shared data types passed between the
// ledger, bus, trigger engine, context builder, hooks, and agent
// lifecycle packages.
package models

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of event recorded on a cluster's ledger.
type MessageType string

const (
	// MessageUserInput is injected by an operator or the control surface.
	MessageUserInput MessageType = "USER_INPUT"
	// MessageIssueOpened seeds a cluster's ledger with the input
	// Orchestrator.Start was given (an issue, a file, or free text);
	// metadata[MetaSource] records which.
	MessageIssueOpened MessageType = "ISSUE_OPENED"
	// MessageAgentOutput is the raw output an agent produced for one iteration.
	MessageAgentOutput MessageType = "AGENT_OUTPUT"
	// MessageTaskStarted marks the beginning of one TaskRunner invocation.
	MessageTaskStarted MessageType = "TASK_STARTED"
	// MessageTaskCompleted marks the end of one TaskRunner invocation.
	MessageTaskCompleted MessageType = "TASK_COMPLETED"
	// MessageAgentError records a fatal failure in an agent's lifecycle:
	// a model policy violation, a runner failure, or a schema failure
	// from an agent whose role requires it (e.g. a validator).
	MessageAgentError MessageType = "AGENT_ERROR"
	// MessageAgentSchemaWarning records a non-fatal schema validation
	// failure from an agent whose role does not require strict output
	// (everything except a validator): the raw text is kept as output.
	MessageAgentSchemaWarning MessageType = "AGENT_SCHEMA_WARNING"
	// MessageAgentHalted marks an agent refusing further execute_task
	// triggers because it reached its configured max_iterations.
	MessageAgentHalted MessageType = "AGENT_HALTED"
	// MessageAgentStale marks a task that ran longer than the agent's
	// configured stale_after duration and was cancelled.
	MessageAgentStale MessageType = "AGENT_STALE"
	// MessageLogicError records a trigger's logic expression failing to
	// evaluate (compile error, panic, or budget timeout); the trigger
	// is treated as not having fired.
	MessageLogicError MessageType = "LOGIC_ERROR"
	// MessageHookError records a hook action that failed to apply.
	MessageHookError MessageType = "HOOK_ERROR"
	// MessageClusterOperations carries an ordered list of add_agents/
	// remove_agent/publish/stop operations the orchestrator applies
	// atomically against the cluster's agent table and ledger.
	MessageClusterOperations MessageType = "CLUSTER_OPERATIONS"
	// MessageClusterStopped marks a graceful cluster stop.
	MessageClusterStopped MessageType = "CLUSTER_STOPPED"
	// MessageClusterKilled marks a forced cluster kill.
	MessageClusterKilled MessageType = "CLUSTER_KILLED"
	// MessageSubClusterSpawned records a spawn_sub_cluster hook action.
	MessageSubClusterSpawned MessageType = "SUB_CLUSTER_SPAWNED"
)

// MetaRepublished is the metadata key the bus sets on a message republished
// because a trigger fired for it again after the original delivery.
const MetaRepublished = "_republished"

// MetaSource is the metadata key on an ISSUE_OPENED message recording
// where the seeding input came from.
const MetaSource = "source"

// InputSource is the closed set of places Orchestrator.Start's seeded
// input may have come from.
type InputSource string

const (
	InputSourceIssue InputSource = "issue"
	InputSourceFile  InputSource = "file"
	InputSourceText  InputSource = "text"
)

// Message is one immutable, ordered record on a cluster's ledger.
//
// Sequence is assigned by the ledger at append time and is strictly
// increasing per cluster; it is never reused, even across restarts.
type Message struct {
	ID        string          `json:"id"`
	ClusterID string          `json:"cluster_id"`
	Sequence  int64           `json:"sequence"`
	Type      MessageType     `json:"type"`
	FromAgent string          `json:"from_agent,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Republished reports whether the bus re-delivered this message to a
// trigger that had already seen it, per the MetaRepublished flag.
func (m Message) Republished() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[MetaRepublished]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// WithRepublished returns a copy of the message with MetaRepublished set.
func (m Message) WithRepublished() Message {
	cp := m
	meta := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	meta[MetaRepublished] = true
	cp.Metadata = meta
	return cp
}
