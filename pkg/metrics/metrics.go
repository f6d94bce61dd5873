// Package metrics exposes Prometheus gauges for the orchestrator's
// cluster and agent population, refreshed on demand from a snapshot
// rather than pushed incrementally, since cluster/agent counts are
// cheap to recompute and this avoids every state transition needing a
// metrics-aware code path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshrun/meshrun/pkg/models"
)

// Collector holds the gauges this package registers.
type Collector struct {
	Clusters    *prometheus.GaugeVec
	AgentStates *prometheus.GaugeVec
}

// NewCollector creates and registers the gauges against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Clusters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshrun_clusters",
			Help: "Number of clusters known to the orchestrator, by status.",
		}, []string{"status"}),
		AgentStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshrun_agent_states",
			Help: "Number of agents currently in each lifecycle state.",
		}, []string{"state"}),
	}
	reg.MustRegister(c.Clusters, c.AgentStates)
	return c
}

// ClusterReport is the minimal shape Refresh needs from the
// orchestrator: every cluster's status and its agents' snapshots.
type ClusterReport struct {
	Status models.ClusterStatus
	Agents []models.Snapshot
}

// Refresh recomputes every gauge from a fresh snapshot of cluster/agent
// state, replacing whatever was there before.
func (c *Collector) Refresh(reports []ClusterReport) {
	c.Clusters.Reset()
	c.AgentStates.Reset()

	statusCounts := map[models.ClusterStatus]float64{}
	stateCounts := map[models.AgentState]float64{}

	for _, r := range reports {
		statusCounts[r.Status]++
		for _, a := range r.Agents {
			stateCounts[a.State]++
		}
	}
	for status, n := range statusCounts {
		c.Clusters.WithLabelValues(string(status)).Set(n)
	}
	for state, n := range stateCounts {
		c.AgentStates.WithLabelValues(string(state)).Set(n)
	}
}
