package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomquant/supervisor/pkg/config"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/worker"
)

var (
	workerJobID    string
	workerWorkerID string
)

// workerCmd is the re-exec target the Supervisor Loop's spawn phase
// forks: it is never meant to be invoked by a human, only by
// supervisord itself (see pkg/scheduler.Supervisor.spawnWorker).
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the bootstrap protocol for a single claimed job (internal)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerJobID, "job-id", "", "Job identifier to run")
	workerCmd.Flags().StringVar(&workerWorkerID, "worker-id", "", "Worker identifier assigned by the supervisor")
	_ = workerCmd.MarkFlagRequired("job-id")
	_ = workerCmd.MarkFlagRequired("worker-id")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("worker: load config: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("worker: open store: %w", err)
	}
	defer store.Close()

	reg := registryWithBuiltins()

	exitCode := worker.Bootstrap(workerJobID, workerWorkerID, os.Getpid(), store, reg, worker.Config{
		HeartbeatPeriod: cfg.HeartbeatPeriod(),
		OutputsRoot:     cfg.OutputsRoot,
	})
	os.Exit(exitCode)
	return nil
}
