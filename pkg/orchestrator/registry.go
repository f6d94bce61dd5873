package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/meshrun/meshrun/pkg/models"
)

// registry persists the cluster table to <stateDir>/clusters.json so
// the orchestrator can enumerate and resume clusters across restarts
// without having to open every ledger file up front.
type registry struct {
	path string
	mu   sync.Mutex
}

func newRegistry(stateDir string) *registry {
	return &registry{path: filepath.Join(stateDir, "clusters.json")}
}

func (r *registry) load() (map[string]models.Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.Cluster{}, nil
		}
		return nil, err
	}
	var clusters map[string]models.Cluster
	if err := json.Unmarshal(data, &clusters); err != nil {
		return nil, err
	}
	if clusters == nil {
		clusters = map[string]models.Cluster{}
	}
	return clusters, nil
}

func (r *registry) save(clusters map[string]models.Cluster) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(clusters, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
