package orchestrator

import "github.com/meshrun/meshrun/pkg/models"

// Health is the control surface's aggregate view of the orchestrator:
// how many clusters it knows about by status, and how many agents are
// in each lifecycle state across all of them.
type Health struct {
	ClusterCount int                      `json:"cluster_count"`
	ByStatus     map[models.ClusterStatus]int `json:"by_status"`
	AgentsByState map[models.AgentState]int  `json:"agents_by_state"`
}

// Health reports the orchestrator's current aggregate state, the way
// Status reports one cluster's.
func (o *Orchestrator) Health() Health {
	o.mu.RLock()
	defer o.mu.RUnlock()

	h := Health{
		ClusterCount:  len(o.clusters),
		ByStatus:      map[models.ClusterStatus]int{},
		AgentsByState: map[models.AgentState]int{},
	}
	for _, rc := range o.clusters {
		h.ByStatus[rc.cluster.Status]++
		for _, a := range rc.agents {
			h.AgentsByState[a.Runtime().State()]++
		}
	}
	return h
}

// Reports builds one ClusterStatusReport per cluster, the snapshot the
// metrics collector refreshes its gauges from.
func (o *Orchestrator) Reports() []ClusterStatusReport {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]ClusterStatusReport, 0, len(o.clusters))
	for _, rc := range o.clusters {
		snaps := make([]models.Snapshot, 0, len(rc.agents))
		for _, a := range rc.agents {
			snaps = append(snaps, a.Runtime().Snapshot())
		}
		out = append(out, ClusterStatusReport{Status: rc.cluster.Status, Agents: snaps})
	}
	return out
}

// ClusterStatusReport is the minimal per-cluster shape metrics.Refresh
// needs; it mirrors metrics.ClusterReport so callers don't need to
// import pkg/metrics from pkg/orchestrator.
type ClusterStatusReport struct {
	Status models.ClusterStatus
	Agents []models.Snapshot
}
