// Package types defines the domain model shared across the supervisor:
// jobs, workers, and their lifecycle states.
package types

import "time"

// JobState is one of the six states in the job lifecycle.
type JobState string

const (
	JobQueued    JobState = "QUEUED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
	JobAborted   JobState = "ABORTED"
	JobOrphaned  JobState = "ORPHANED"
)

// IsTerminal reports whether s is one of the four terminal states.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobAborted, JobOrphaned:
		return true
	default:
		return false
	}
}

// Reason codes for terminal state_reason, per the spec's reason table.
const (
	ReasonUserAbort         = "user_abort"
	ReasonAbortEscalated    = "abort_escalated"
	ReasonAbortedBeforeRun  = "aborted_before_run"
	ReasonHeartbeatTimeout  = "heartbeat_timeout"
	ReasonHandlerRaised     = "handler_raised"
	ReasonMalformedSpec     = "malformed_spec"
	ReasonUnknownJobType    = "unknown_job_type"
	ReasonWorkerCrashed     = "worker_crashed"
)

// WorkerStatus is the lifecycle status of a worker row.
type WorkerStatus string

const (
	WorkerIdle   WorkerStatus = "IDLE"
	WorkerBusy   WorkerStatus = "BUSY"
	WorkerExited WorkerStatus = "EXITED"
)

// Spec is the immutable structured parameter bag supplied at submission.
type Spec map[string]interface{}

// Result is the structured summary produced by a handler.
type Result map[string]interface{}

// FailureInfo carries a short failure code and human-readable message.
type FailureInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Progress is an advisory, non-authoritative execution progress marker.
type Progress struct {
	Fraction float64 `json:"fraction"`
	Phase    string  `json:"phase,omitempty"`
}

// Job is a unit of work tracked end-to-end by the store.
type Job struct {
	ID       string   `json:"id"`
	JobType  string   `json:"job_type"`
	Spec     Spec     `json:"spec"`
	Metadata Metadata `json:"metadata,omitempty"`

	State       JobState `json:"state"`
	StateReason string   `json:"state_reason,omitempty"`

	Result  Result       `json:"result,omitempty"`
	Failure *FailureInfo `json:"failure,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`

	WorkerID *string `json:"worker_id,omitempty"`
	PID      *int    `json:"pid,omitempty"`

	AbortRequested   bool       `json:"abort_requested"`
	AbortRequestedAt *time.Time `json:"abort_requested_at,omitempty"`

	Progress *Progress `json:"progress,omitempty"`
}

// Metadata is a free-form string bag attached to a job at submission.
type Metadata map[string]string

// Worker is an in-flight child-process record.
type Worker struct {
	ID            string       `json:"id"`
	PID           int          `json:"pid"`
	CurrentJobID  *string      `json:"current_job_id,omitempty"`
	Status        WorkerStatus `json:"status"`
	SpawnedAt     time.Time    `json:"spawned_at"`
	ExitedAt      *time.Time   `json:"exited_at,omitempty"`
}

// ListFilter narrows List results by state and/or job type. Zero values
// mean "no filter on this field".
type ListFilter struct {
	State   JobState
	JobType string
}
