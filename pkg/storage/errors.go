package storage

import "errors"

// Store contention and lookup errors. Compare with errors.Is.
var (
	ErrClaimConflict = errors.New("storage: job already claimed")
	ErrOwnerMismatch = errors.New("storage: caller is not the job's current owner")
	ErrNotRunning    = errors.New("storage: job is not RUNNING")
	ErrNotFound      = errors.New("storage: job not found")
)
