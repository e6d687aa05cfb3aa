// Package reconciler implements the supervisor's startup reconciliation:
// per spec §4.5's failure model, the workers table is rebuilt from
// scratch on restart and RUNNING rows are left for the orphan scan to
// reclassify, rather than assumed dead or alive by adopting PIDs.
package reconciler

import (
	"fmt"

	"github.com/fathomquant/supervisor/pkg/log"
	"github.com/fathomquant/supervisor/pkg/storage"
)

// ReconcileOnStartup rebuilds worker bookkeeping once, before the
// Supervisor Loop starts ticking. It intentionally does not touch
// QUEUED or RUNNING job rows: QUEUED rows are simply re-selected by the
// first spawn phase, and RUNNING rows are left for the orphan scan,
// which will find their heartbeats already stale and reclassify them
// deterministically rather than guessing at process liveness by PID.
func ReconcileOnStartup(store storage.Store) error {
	logger := log.WithComponent("reconciler")

	workers, err := store.ListWorkers()
	if err != nil {
		return fmt.Errorf("reconciler: list workers: %w", err)
	}

	if err := store.ReconcileOnStartup(); err != nil {
		return fmt.Errorf("reconciler: rebuild workers table: %w", err)
	}

	logger.Info().Int("stale_workers", len(workers)).Msg("startup reconciliation complete")
	return nil
}
