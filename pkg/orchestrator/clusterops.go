package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/meshrun/meshrun/pkg/models"
)

// runClusterOperations subscribes to rc's bus under a reserved
// consumer name and applies every CLUSTER_OPERATIONS message it sees,
// one batch at a time, for the lifetime of the cluster.
func (o *Orchestrator) runClusterOperations(rc *runningCluster) {
	ch := rc.bus.Subscribe(clusterOperationsConsumer)
	defer rc.bus.Unsubscribe(clusterOperationsConsumer)

	for msg := range ch {
		if msg.Type != models.MessageClusterOperations {
			continue
		}
		var payload models.ClusterOperationsPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			o.logger.Error("CLUSTER_OPERATIONS: invalid payload", "cluster_id", rc.cluster.ID, "error", err)
			continue
		}
		o.applyClusterOperations(rc, payload)
	}
}

// applyClusterOperations applies payload.Operations in declared order
// under rc.opsMu, so a concurrently published batch never interleaves
// with this one: add_agents grows the agent table, remove_agent tears
// one down, publish appends a new ledger message, and stop halts the
// whole cluster. An operation that fails is logged and skipped; the
// rest of the batch still applies, except that a stop (which cancels
// the cluster's context) makes any operation after it a no-op.
func (o *Orchestrator) applyClusterOperations(rc *runningCluster, payload models.ClusterOperationsPayload) {
	rc.opsMu.Lock()
	defer rc.opsMu.Unlock()

	for _, op := range payload.Operations {
		if rc.ctx.Err() != nil {
			o.logger.Debug("CLUSTER_OPERATIONS: cluster already stopped, skipping remaining operations", "cluster_id", rc.cluster.ID)
			return
		}
		if err := o.applyOneClusterOperation(rc, op); err != nil {
			o.logger.Error("CLUSTER_OPERATIONS: operation failed", "cluster_id", rc.cluster.ID, "kind", op.Kind, "error", err)
		}
	}
}

func (o *Orchestrator) applyOneClusterOperation(rc *runningCluster, op models.ClusterOperation) error {
	switch op.Kind {
	case models.OpAddAgents:
		o.addAgentsLocked(rc, op.Agents)
		return nil

	case models.OpRemoveAgent:
		return o.removeAgentLocked(rc, op.AgentName)

	case models.OpPublish:
		if op.Publish == nil {
			return &ClusterOperationError{Reason: "publish operation missing its publish field"}
		}
		_, err := rc.bus.Publish(context.Background(), op.Publish.Topic, op.Publish.Sender, op.Publish.Content, op.Publish.Metadata)
		return err

	case models.OpStop:
		return o.Stop(context.Background(), rc.cluster.ID)

	default:
		return &ClusterOperationError{Reason: "unknown cluster operation kind: " + string(op.Kind)}
	}
}

// addAgentsLocked wires and starts every agent in defs, dynamically
// growing rc's agent table. Each new agent is wired with the same
// shared collaborators (trigger engine, fire guard, prompt builder,
// hook runner, base isolation) every agent present at cluster start
// got, so its own Cwd override is honored exactly the same way.
func (o *Orchestrator) addAgentsLocked(rc *runningCluster, defs map[string]models.AgentDefinition) {
	for name, def := range defs {
		o.startAgent(rc, name, def)
	}
}

// removeAgentLocked unsubscribes and forgets one agent. Its ledger
// history is untouched; only future messages stop reaching it.
func (o *Orchestrator) removeAgentLocked(rc *runningCluster, name string) error {
	rc.agentsMu.Lock()
	a, ok := rc.agents[name]
	if !ok {
		rc.agentsMu.Unlock()
		return &AgentNotFoundError{ClusterID: rc.cluster.ID, Agent: name}
	}
	delete(rc.agents, name)
	rc.agentsMu.Unlock()

	a.Runtime().Cancel()
	rc.bus.Unsubscribe(name)
	return nil
}
