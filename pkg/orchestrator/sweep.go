package orchestrator

import (
	"context"
	"time"

	"github.com/meshrun/meshrun/pkg/models"
)

// Sweep purges every stopped or killed cluster whose last update is
// older than the configured retention period. It is safe to call
// concurrently with normal control-surface operations; a cluster that
// transitions back to running between the listing and the purge
// attempt is simply skipped by Purge's own status check.
func (o *Orchestrator) Sweep(ctx context.Context) (purged int, err error) {
	if o.settings.Defaults.RetentionPeriod <= 0 {
		return 0, nil
	}

	clusters, err := o.registry.load()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-o.settings.Defaults.RetentionPeriod)
	for id, c := range clusters {
		if c.Status != models.ClusterStopped && c.Status != models.ClusterKilled {
			continue
		}
		if c.UpdatedAt.After(cutoff) {
			continue
		}
		if err := o.Purge(id); err != nil {
			o.logger.Error("sweep: failed to purge cluster", "cluster_id", id, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		o.logger.Info("sweep: purged expired clusters", "count", purged)
	}
	return purged, nil
}

// RunSweeper runs Sweep on interval until ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Sweep(ctx); err != nil {
				o.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
