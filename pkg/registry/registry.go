// Package registry implements the Handler Registry: a process-global,
// write-once-at-startup table mapping job-type identifiers to handler
// implementations.
package registry

import (
	"context"
	"fmt"

	"github.com/fathomquant/supervisor/pkg/types"
)

// RunContext is the capability set a handler's Execute receives. It is the
// only channel through which a handler may affect job lifecycle state;
// handlers must never touch the store directly.
type RunContext interface {
	// Heartbeat records liveness immediately, in addition to the
	// bootstrap's own timer-driven heartbeats.
	Heartbeat()
	// IsAbortRequested consults the store for a pending abort request.
	IsAbortRequested() bool
	// ReportProgress records an advisory fraction/phase pair.
	ReportProgress(fraction float64, phase string)
	// EvidenceDir returns the filesystem directory owned by this job.
	EvidenceDir() string
}

// Handler implements the logic for one job type.
type Handler interface {
	// Validate is pure and does no I/O; it rejects malformed parameter
	// bags before a job is ever queued.
	Validate(spec types.Spec) error
	// Execute performs the work. It runs on a single thread from the
	// bootstrap's perspective; handlers may internally parallelize.
	Execute(ctx context.Context, rc RunContext, spec types.Spec) (types.Result, error)
}

// CostEstimator is an optional capability a Handler may also implement,
// used only for advisory logging.
type CostEstimator interface {
	EstimateCost(spec types.Spec) string
}

// ErrDuplicateHandler is returned by Register when a job type is already
// registered.
type ErrDuplicateHandler struct {
	JobType string
}

func (e *ErrDuplicateHandler) Error() string {
	return fmt.Sprintf("registry: duplicate handler for job type %q", e.JobType)
}

// ErrUnknownJobType is returned by Lookup when no handler is registered
// for a job type.
type ErrUnknownJobType struct {
	JobType string
}

func (e *ErrUnknownJobType) Error() string {
	return fmt.Sprintf("registry: unknown job type %q", e.JobType)
}

// Registry is a read-only-after-startup map from job type to Handler.
type Registry struct {
	handlers map[string]Handler
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under jobType. It fails if jobType is already
// registered; registries are meant to be fully populated at process start
// before any job is submitted.
func (r *Registry) Register(jobType string, h Handler) error {
	if _, exists := r.handlers[jobType]; exists {
		return &ErrDuplicateHandler{JobType: jobType}
	}
	r.handlers[jobType] = h
	return nil
}

// MustRegister panics on registration failure; intended for startup
// wiring in cmd/supervisord where a duplicate handler is a programming
// error.
func (r *Registry) MustRegister(jobType string, h Handler) {
	if err := r.Register(jobType, h); err != nil {
		panic(err)
	}
}

// Lookup resolves a job type to its handler.
func (r *Registry) Lookup(jobType string) (Handler, error) {
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, &ErrUnknownJobType{JobType: jobType}
	}
	return h, nil
}

// Has reports whether jobType is registered, without allocating an error.
func (r *Registry) Has(jobType string) bool {
	_, ok := r.handlers[jobType]
	return ok
}

// JobTypes returns the registered job type keys, in no particular order.
func (r *Registry) JobTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		types = append(types, k)
	}
	return types
}
