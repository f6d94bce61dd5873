package models

import "time"

// ClusterStatus is the coarse lifecycle state of a cluster as tracked
// by the orchestrator's cluster table.
type ClusterStatus string

const (
	ClusterStarting ClusterStatus = "starting"
	ClusterRunning  ClusterStatus = "running"
	ClusterStopped  ClusterStatus = "stopped"
	ClusterKilled   ClusterStatus = "killed"
	ClusterCrashed  ClusterStatus = "crashed"
)

// Cluster is the persisted, registry-level record of one running or
// historical cluster. It is distinct from the per-agent runtime state
// tracked in AgentRuntime; Cluster answers "what cluster is this and
// where does its state live", not "what is agent X doing right now".
type Cluster struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	TemplateID   string        `json:"template_id,omitempty"`
	Status       ClusterStatus `json:"status"`
	StateDir     string        `json:"state_dir"`
	WorktreePath string        `json:"worktree_path,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// LedgerPath returns the per-cluster ledger file path per the storage
// layout: <stateDir>/<clusterId>.db.
func (c Cluster) LedgerPath() string {
	return c.StateDir + "/" + c.ID + ".db"
}
