package orchestrator

import "fmt"

// ClusterNotFoundError is returned by any control-surface operation
// addressing a cluster ID the orchestrator has no record of.
type ClusterNotFoundError struct {
	ClusterID string
}

func (e *ClusterNotFoundError) Error() string {
	return fmt.Sprintf("orchestrator: cluster %q not found", e.ClusterID)
}

// InvalidTransitionError reports a control-surface operation that
// doesn't make sense for a cluster's current status (e.g. resuming a
// cluster that's still running).
type InvalidTransitionError struct {
	ClusterID string
	Status    string
	Operation string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("orchestrator: cannot %s cluster %q in status %q", e.Operation, e.ClusterID, e.Status)
}

// AgentNotFoundError is returned by a remove_agent cluster operation
// naming an agent that isn't (or is no longer) in the cluster.
type AgentNotFoundError struct {
	ClusterID string
	Agent     string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("orchestrator: cluster %q has no agent %q", e.ClusterID, e.Agent)
}

// ClusterOperationError reports a malformed or unrecognized entry in a
// CLUSTER_OPERATIONS message.
type ClusterOperationError struct {
	Reason string
}

func (e *ClusterOperationError) Error() string {
	return fmt.Sprintf("orchestrator: invalid cluster operation: %s", e.Reason)
}
