package metrics

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/fathomquant/supervisor/pkg/log"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

// Collector periodically refreshes the gauge metrics from the store, the
// way the teacher's Collector refreshes node/service/container gauges
// from cluster state.
type Collector struct {
	store  storage.Store
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewCollector returns a Collector over store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		logger: log.WithComponent("metrics-collector"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the collection loop on a 10 second interval.
func (c *Collector) Start() {
	go c.run()
}

// Stop stops the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) collect() {
	for _, state := range []types.JobState{
		types.JobQueued, types.JobRunning, types.JobSucceeded,
		types.JobFailed, types.JobAborted, types.JobOrphaned,
	} {
		jobs, err := c.store.List(types.ListFilter{State: state})
		if err != nil {
			c.logger.Error().Err(err).Str("state", string(state)).Msg("list jobs for metrics")
			continue
		}
		JobsByState.WithLabelValues(string(state)).Set(float64(len(jobs)))
	}

	workers, err := c.store.ListWorkers()
	if err != nil {
		c.logger.Error().Err(err).Msg("list workers for metrics")
		return
	}
	active := 0
	for _, w := range workers {
		if w.Status == types.WorkerBusy || w.Status == types.WorkerIdle {
			active++
		}
	}
	ActiveWorkers.Set(float64(active))
}
