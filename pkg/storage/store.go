// Package storage implements the Persistent Job Store: the single source
// of truth for job and worker rows, with atomic row-level state
// transitions. Every other component communicates through it.
package storage

import (
	"time"

	"github.com/fathomquant/supervisor/pkg/types"
)

// Store defines the atomic operations of the Persistent Job Store
// (spec §4.2). BoltStore is its only implementation.
type Store interface {
	// Submit appends a QUEUED job and returns its identifier. Callers
	// are responsible for handler validation and job-type existence
	// checks before calling Submit; see pkg/jobsvc.
	Submit(jobType string, spec types.Spec, metadata types.Metadata) (*types.Job, error)

	// FetchNextQueued returns up to limit QUEUED jobs in submission
	// order, excluding jobs with AbortRequested set. Read-only.
	FetchNextQueued(limit int) ([]*types.Job, error)

	// Claim atomically transitions QUEUED->RUNNING, sets worker
	// ownership and pid, and stamps LastHeartbeatAt. Returns
	// ErrClaimConflict if the row is not QUEUED.
	Claim(jobID, workerID string, pid int) (*types.Job, error)

	// Heartbeat updates LastHeartbeatAt and optional progress. Returns
	// ErrOwnerMismatch if workerID is not the current owner, or
	// ErrNotRunning if the job is not RUNNING.
	Heartbeat(jobID, workerID string, progress *types.Progress) error

	// RequestAbort sets AbortRequested regardless of current state; a
	// terminal job is left unchanged. Idempotent.
	RequestAbort(jobID string) (*types.Job, error)

	// AbortQueued directly transitions a QUEUED+abort-requested job to
	// ABORTED with reason aborted_before_run. Supervisor-only.
	AbortQueued(jobID string) (*types.Job, error)

	// MarkSucceeded transitions RUNNING->SUCCEEDED and records result.
	MarkSucceeded(jobID, workerID string, result types.Result) (*types.Job, error)

	// MarkFailed transitions RUNNING->FAILED.
	MarkFailed(jobID, workerID, reason, code, message string) (*types.Job, error)

	// MarkAborted transitions RUNNING->ABORTED.
	MarkAborted(jobID, workerID, reason string, result types.Result) (*types.Job, error)

	// MarkOrphaned transitions RUNNING->ORPHANED; clears worker
	// ownership. Supervisor-only, ignores owner identity.
	MarkOrphaned(jobID, reason string) (*types.Job, error)

	// MarkCrashedIfRunning reclassifies a still-RUNNING row as FAILED
	// with reason worker_crashed, for the reap-phase race where a
	// child exits between handler completion and mark_*. No-op if the
	// row is no longer RUNNING.
	MarkCrashedIfRunning(jobID string) (*types.Job, error)

	Get(jobID string) (*types.Job, error)
	List(filter types.ListFilter) ([]*types.Job, error)

	// RunningStaleSince returns RUNNING jobs whose LastHeartbeatAt is
	// older than cutoff, for the orphan scan.
	RunningStaleSince(cutoff time.Time) ([]*types.Job, error)

	// AbortOverdue returns RUNNING jobs with AbortRequested set whose
	// AbortRequestedAt predates cutoff, for abort escalation.
	AbortOverdue(cutoff time.Time) ([]*types.Job, error)

	// ReconcileOnStartup leaves every job row, RUNNING ones included,
	// unchanged (the orphan scan will reap them) and rebuilds the
	// workers table: every worker row not already EXITED is marked
	// EXITED as of now; rows already EXITED keep their ExitedAt.
	ReconcileOnStartup() error

	// Worker CRUD, used by the scheduler to track spawned children.
	PutWorker(w *types.Worker) error
	GetWorker(workerID string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	MarkWorkerExited(workerID string) error

	Close() error
}
