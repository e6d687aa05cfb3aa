// Package jobsvc composes the Persistent Job Store with the Handler
// Registry into the method-level submission and control surface of
// spec §6.2. It is the one place handler validation and job-type
// membership are enforced before a row ever reaches the store.
package jobsvc

import (
	"fmt"

	"github.com/fathomquant/supervisor/pkg/log"
	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

// Service is the core library entry point any transport (CLI, HTTP,
// socket) wraps. It holds no state of its own beyond the store and
// registry it composes.
type Service struct {
	Store    storage.Store
	Registry *registry.Registry
}

// New returns a Service over store and reg.
func New(store storage.Store, reg *registry.Registry) *Service {
	return &Service{Store: store, Registry: reg}
}

// Submit validates spec against the job type's handler and, on success,
// appends a QUEUED row. Unknown job types and validation failures are
// rejected before any row is written (spec §8 boundary behavior).
func (s *Service) Submit(jobType string, spec types.Spec, metadata types.Metadata) (*types.Job, error) {
	h, err := s.Registry.Lookup(jobType)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(spec); err != nil {
		return nil, fmt.Errorf("jobsvc: malformed spec for job type %q: %w", jobType, err)
	}
	job, err := s.Store.Submit(jobType, spec, metadata)
	if err != nil {
		return nil, err
	}
	log.WithJobContext("jobsvc", job.ID, jobType).Info().Msg("job submitted")
	return job, nil
}

// RequestAbort is idempotent and non-blocking; see storage.Store.RequestAbort.
func (s *Service) RequestAbort(jobID string) (*types.Job, error) {
	return s.Store.RequestAbort(jobID)
}

// Get returns a read-only snapshot of a job.
func (s *Service) Get(jobID string) (*types.Job, error) {
	return s.Store.Get(jobID)
}

// List enumerates jobs matching filter.
func (s *Service) List(filter types.ListFilter) ([]*types.Job, error) {
	return s.Store.List(filter)
}
