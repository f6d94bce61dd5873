package models

// ClusterOperationKind is the closed set of effects one step of a
// CLUSTER_OPERATIONS record may apply.
type ClusterOperationKind string

const (
	OpAddAgents   ClusterOperationKind = "add_agents"
	OpRemoveAgent ClusterOperationKind = "remove_agent"
	OpPublish     ClusterOperationKind = "publish"
	OpStop        ClusterOperationKind = "stop"
)

// OperationPublish is the message a "publish" operation appends to the
// cluster's ledger.
type OperationPublish struct {
	Topic    MessageType    `json:"topic"`
	Sender   string         `json:"sender,omitempty"`
	Content  any            `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ClusterOperation is one step of an ordered CLUSTER_OPERATIONS list.
// Exactly the fields relevant to Kind are populated.
type ClusterOperation struct {
	Kind ClusterOperationKind `json:"kind" validate:"required,oneof=add_agents remove_agent publish stop"`

	// add_agents
	Agents map[string]AgentDefinition `json:"agents,omitempty"`

	// remove_agent
	AgentName string `json:"agent_name,omitempty"`

	// publish
	Publish *OperationPublish `json:"publish,omitempty"`

	// stop
	Reason string `json:"reason,omitempty"`
}

// ClusterOperationsPayload is the ordered list carried by one
// CLUSTER_OPERATIONS message. The orchestrator applies every step in
// order and atomically with respect to the ledger: every add_agents
// side effect in a list is visible before any later publish in the
// same list is appended.
type ClusterOperationsPayload struct {
	Operations []ClusterOperation `json:"operations"`
}
