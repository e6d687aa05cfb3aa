// Package worker implements the Worker Bootstrap: the entry routine that
// runs inside each child process the Supervisor Loop spawns. It loads a
// job by identifier, resolves its handler, executes it under a context
// providing heartbeat and abort signals, marshals the outcome back into
// the store, and writes the evidence bundle.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fathomquant/supervisor/pkg/evidence"
	"github.com/fathomquant/supervisor/pkg/log"
	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

// Process exit codes, per spec §6.4. A claim conflict (another instance
// already claimed the row) also exits 0, cleanly, with no side effects —
// it is not a terminal job state.
const (
	ExitSucceeded          = 0
	ExitHandlerRaised      = 1
	ExitMalformedOrUnknown = 2
	ExitAborted            = 3
)

// Config carries the subset of supervisor configuration the bootstrap
// needs.
type Config struct {
	HeartbeatPeriod time.Duration
	OutputsRoot     string
}

// runContext implements registry.RunContext on top of a Store, driving
// both the timer heartbeat and on-demand calls from inside a handler.
type runContext struct {
	store       storage.Store
	jobID       string
	workerID    string
	evidenceDir string
}

func (c *runContext) Heartbeat() {
	_ = c.store.Heartbeat(c.jobID, c.workerID, nil)
}

func (c *runContext) ReportProgress(fraction float64, phase string) {
	_ = c.store.Heartbeat(c.jobID, c.workerID, &types.Progress{Fraction: fraction, Phase: phase})
}

func (c *runContext) IsAbortRequested() bool {
	job, err := c.store.Get(c.jobID)
	if err != nil {
		return false
	}
	return job.AbortRequested
}

func (c *runContext) EvidenceDir() string {
	return c.evidenceDir
}

// Bootstrap runs the full worker protocol of spec §4.4 for jobID and
// returns the process exit code the caller (cmd/supervisord's hidden
// worker subcommand) should exit with. It performs the claim itself —
// the canonical spawn sequence of spec §4.5 is: the supervisor allocates
// a worker id and forks this process; the child's bootstrap is what
// actually calls claim.
func Bootstrap(jobID, workerID string, pid int, store storage.Store, reg *registry.Registry, cfg Config) int {
	logger := log.WithWorkerID(workerID)
	writer := evidence.New(cfg.OutputsRoot)

	job, err := store.Claim(jobID, workerID, pid)
	if err != nil {
		// Another instance already claimed this row; exit cleanly with
		// no side effects, per spec §4.5.
		logger.Debug().Err(err).Str("job_id", jobID).Msg("bootstrap: claim lost")
		return ExitSucceeded
	}

	h, err := reg.Lookup(job.JobType)
	if err != nil {
		_, _ = store.MarkFailed(jobID, workerID, types.ReasonUnknownJobType, "unknown_job_type", err.Error())
		finishEvidence(writer, store, jobID, logger)
		return ExitMalformedOrUnknown
	}

	if err := h.Validate(job.Spec); err != nil {
		_, _ = store.MarkFailed(jobID, workerID, types.ReasonMalformedSpec, "malformed_spec", err.Error())
		finishEvidence(writer, store, jobID, logger)
		return ExitMalformedOrUnknown
	}

	dir, err := writer.Dir(jobID)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap: create evidence dir")
		_, _ = store.MarkFailed(jobID, workerID, types.ReasonHandlerRaised, "evidence_dir_failed", err.Error())
		return ExitHandlerRaised
	}

	restoreStreams, err := redirectStreams(dir)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap: redirect stdout/stderr")
	}
	defer restoreStreams()

	rc := &runContext{store: store, jobID: jobID, workerID: workerID, evidenceDir: dir}

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go heartbeatLoop(hbCtx, &hbWG, rc, cfg.HeartbeatPeriod)

	execCtx, cancelExec := context.WithCancel(context.Background())
	go watchAbort(execCtx, cancelExec, rc)

	result, execErr := h.Execute(execCtx, rc, job.Spec)

	stopHeartbeat()
	cancelExec()
	hbWG.Wait()

	exitCode := classifyOutcome(store, jobID, workerID, result, execErr, logger)
	finishEvidence(writer, store, jobID, logger)
	return exitCode
}

// classifyOutcome maps the handler's return into a terminal store
// transition per the worker state machine of spec §4.4.
func classifyOutcome(store storage.Store, jobID, workerID string, result types.Result, execErr error, logger zerolog.Logger) int {
	if execErr != nil {
		_, err := store.MarkFailed(jobID, workerID, types.ReasonHandlerRaised, "handler_raised", execErr.Error())
		if err != nil {
			logger.Error().Err(err).Msg("bootstrap: mark_failed after handler error")
		}
		return ExitHandlerRaised
	}

	if aborted, _ := result["aborted"].(bool); aborted {
		_, err := store.MarkAborted(jobID, workerID, types.ReasonUserAbort, result)
		if err != nil {
			logger.Error().Err(err).Msg("bootstrap: mark_aborted")
		}
		return ExitAborted
	}

	_, err := store.MarkSucceeded(jobID, workerID, result)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap: mark_succeeded")
	}
	return ExitSucceeded
}

func heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, rc *runContext, period time.Duration) {
	defer wg.Done()
	if period <= 0 {
		period = 2 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.Heartbeat()
		}
	}
}

// watchAbort polls the store for an abort request and cancels execCtx
// when one appears, so handlers using ctx.Done() (rather than polling
// IsAbortRequested directly) also observe cooperative abort.
func watchAbort(ctx context.Context, cancel context.CancelFunc, rc *runContext) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rc.IsAbortRequested() {
				cancel()
				return
			}
		}
	}
}

func finishEvidence(writer *evidence.Writer, store storage.Store, jobID string, logger zerolog.Logger) {
	job, err := store.Get(jobID)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap: reload job before evidence write")
		return
	}
	dir, err := writer.Dir(jobID)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap: evidence dir")
		return
	}
	trunc, err := evidence.TailLogFiles(dir, 0)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap: tail log files")
	}
	if err := writer.Write(job, trunc); err != nil {
		logger.Error().Err(err).Msg("bootstrap: write evidence")
	}
}

// redirectStreams points the os.Stdout/os.Stderr variables at append-mode
// log files in the evidence directory for the lifetime of handler
// execution, so output the handler writes through them lands in the
// evidence bundle. Only the Go variables are swapped: file descriptors 1
// and 2 are left as they were, so output written to them directly (the Go
// runtime's own crash output, or a subprocess that inherits them instead
// of being handed os.Stdout/os.Stderr) is not captured. The returned func
// restores the previous streams.
func redirectStreams(dir string) (func(), error) {
	stdoutPath := filepath.Join(dir, "stdout.log")
	stderrPath := filepath.Join(dir, "stderr.log")

	outFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return func() {}, fmt.Errorf("worker: open stdout.log: %w", err)
	}
	errFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		outFile.Close()
		return func() {}, fmt.Errorf("worker: open stderr.log: %w", err)
	}

	prevOut, prevErr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = outFile, errFile

	return func() {
		os.Stdout, os.Stderr = prevOut, prevErr
		outFile.Close()
		errFile.Close()
	}, nil
}
