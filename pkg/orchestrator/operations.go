package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/meshrun/meshrun/pkg/hooks"
	"github.com/meshrun/meshrun/pkg/ledger"
	"github.com/meshrun/meshrun/pkg/models"
)

// Apply implements agent.OperationSink: it is the only place a hook's
// output is turned into an actual cluster-level effect, and it only
// ever does one of the four things in models.HookAction.
func (o *Orchestrator) Apply(ctx context.Context, clusterID, agentName string, op hooks.Operation) error {
	switch op.Kind {
	case models.HookNoop:
		return nil

	case models.HookPublishMessage:
		rc, ok := o.lookup(clusterID)
		if !ok {
			return &ClusterNotFoundError{ClusterID: clusterID}
		}
		_, err := rc.bus.Publish(ctx, op.MessageType, agentName, op.Payload, nil)
		return err

	case models.HookStopCluster:
		return o.Stop(ctx, clusterID)

	case models.HookSpawnSubCluster:
		_, err := o.Start(ctx, op.Template, StartOptions{Params: op.Params, ParentID: clusterID})
		return err

	default:
		return &InvalidTransitionError{ClusterID: clusterID, Status: "n/a", Operation: string(op.Kind)}
	}
}

// Stop gracefully stops a cluster by cancelling the cluster's context,
// under which agents evaluate triggers and run tasks; the agents'
// notification loops stay subscribed to the bus. The ledger is left
// intact for Logs, Status, and a future Resume.
func (o *Orchestrator) Stop(ctx context.Context, clusterID string) error {
	return o.halt(clusterID, models.ClusterStopped, models.MessageClusterStopped)
}

// Kill forcefully stops a cluster, cancelling any in-flight agent task
// immediately rather than letting it finish.
func (o *Orchestrator) Kill(ctx context.Context, clusterID string) error {
	o.mu.RLock()
	rc, ok := o.clusters[clusterID]
	o.mu.RUnlock()
	if ok {
		rc.agentsMu.RLock()
		for _, a := range rc.agents {
			a.Runtime().Cancel()
		}
		rc.agentsMu.RUnlock()
	}
	return o.halt(clusterID, models.ClusterKilled, models.MessageClusterKilled)
}

func (o *Orchestrator) halt(clusterID string, status models.ClusterStatus, marker models.MessageType) error {
	o.mu.Lock()
	rc, ok := o.clusters[clusterID]
	if !ok {
		o.mu.Unlock()
		return &ClusterNotFoundError{ClusterID: clusterID}
	}
	rc.cluster.Status = status
	rc.cluster.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()

	rc.cancel()
	_, _ = rc.bus.Publish(context.Background(), marker, "", nil, nil)

	if err := o.persistLocked(); err != nil {
		o.logger.Error("failed to persist cluster registry", "error", err)
	}
	return nil
}

// Resume reopens a previously stopped or crashed cluster's ledger and
// reconciles each agent's runtime state by replaying TASK_STARTED and
// TASK_COMPLETED counts: an agent with more starts than completions
// was mid-execution when the process stopped, so it is demoted back
// to idle rather than left permanently "executing".
func (o *Orchestrator) Resume(ctx context.Context, clusterID string, templateID string, opts StartOptions) (models.Cluster, error) {
	clusters, err := o.registry.load()
	if err != nil {
		return models.Cluster{}, err
	}
	prior, ok := clusters[clusterID]
	if !ok {
		return models.Cluster{}, &ClusterNotFoundError{ClusterID: clusterID}
	}
	if prior.Status == models.ClusterRunning {
		return models.Cluster{}, &InvalidTransitionError{ClusterID: clusterID, Status: string(prior.Status), Operation: "resume"}
	}

	if templateID == "" {
		templateID = prior.TemplateID
	}
	agentDefs, err := o.resolver.Resolve(templateID, opts.Params)
	if err != nil {
		return models.Cluster{}, err
	}

	l, err := ledger.Open(clusterID, filepath.Join(prior.StateDir, clusterID+".db"))
	if err != nil {
		return models.Cluster{}, err
	}

	rc, err := o.wireCluster(prior, l, agentDefs, opts)
	if err != nil {
		_ = l.Close()
		return models.Cluster{}, err
	}

	reconciled := 0
	rc.agentsMu.RLock()
	agentCount := len(rc.agents)
	for name, a := range rc.agents {
		started, err := l.CountByType(ctx, name, models.MessageTaskStarted)
		if err != nil {
			continue
		}
		completed, err := l.CountByType(ctx, name, models.MessageTaskCompleted)
		if err != nil {
			continue
		}
		a.Runtime().SetState(models.AgentIdle)
		for i := 0; i < completed; i++ {
			a.Runtime().IncrementIteration()
		}
		if started > completed {
			reconciled++
		}
	}
	rc.agentsMu.RUnlock()

	rc.cluster.Status = models.ClusterRunning
	rc.cluster.UpdatedAt = time.Now().UTC()

	o.mu.Lock()
	o.clusters[clusterID] = rc
	o.mu.Unlock()

	if err := o.persistLocked(); err != nil {
		o.logger.Error("failed to persist cluster registry", "error", err)
	}

	o.logger.Info("cluster resumed", "cluster_id", clusterID, "agents", agentCount, "demoted_from_executing", reconciled)
	return rc.cluster, nil
}

// Purge deletes a stopped or killed cluster's ledger file and registry
// entry once it is no longer running. It refuses to purge a running
// cluster.
func (o *Orchestrator) Purge(clusterID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rc, tracked := o.clusters[clusterID]
	if tracked {
		if rc.cluster.Status == models.ClusterRunning || rc.cluster.Status == models.ClusterStarting {
			return &InvalidTransitionError{ClusterID: clusterID, Status: string(rc.cluster.Status), Operation: "purge"}
		}
		_ = rc.ledger.Close()
		delete(o.clusters, clusterID)
	}

	path := filepath.Join(o.settings.Defaults.StateDir, clusterID+".db")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	clusters, err := o.registry.load()
	if err != nil {
		return err
	}
	delete(clusters, clusterID)
	return o.registry.save(clusters)
}
