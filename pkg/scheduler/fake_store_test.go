package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

// fakeStore is an in-memory storage.Store standing in for BoltStore in
// scheduler phase tests, mirroring the teacher's approach of testing pure
// decision logic (scheduler_unit_test.go) without touching real storage.
type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*types.Job
	workers map[string]*types.Worker
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*types.Job), workers: make(map[string]*types.Worker)}
}

func (f *fakeStore) put(j *types.Job) { f.jobs[j.ID] = j }

func (f *fakeStore) Submit(jobType string, spec types.Spec, metadata types.Metadata) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &types.Job{ID: uuid.NewString(), JobType: jobType, Spec: spec, Metadata: metadata, State: types.JobQueued, CreatedAt: time.Now().UTC()}
	f.put(j)
	return j, nil
}

func (f *fakeStore) FetchNextQueued(limit int) ([]*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Job
	for _, j := range f.jobs {
		if len(out) >= limit {
			break
		}
		if j.State == types.JobQueued && !j.AbortRequested {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) Claim(jobID, workerID string, pid int) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if j.State != types.JobQueued {
		return nil, storage.ErrClaimConflict
	}
	j.State = types.JobRunning
	j.WorkerID = &workerID
	j.PID = &pid
	now := time.Now().UTC()
	j.LastHeartbeatAt = &now
	return j, nil
}

func (f *fakeStore) Heartbeat(jobID, workerID string, progress *types.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	j.LastHeartbeatAt = &now
	if progress != nil {
		j.Progress = progress
	}
	return nil
}

func (f *fakeStore) RequestAbort(jobID string) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !j.State.IsTerminal() {
		now := time.Now().UTC()
		j.AbortRequested = true
		j.AbortRequestedAt = &now
	}
	return j, nil
}

func (f *fakeStore) AbortQueued(jobID string) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	j.State = types.JobAborted
	j.StateReason = types.ReasonAbortedBeforeRun
	return j, nil
}

func (f *fakeStore) MarkSucceeded(jobID, workerID string, result types.Result) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.State = types.JobSucceeded
	j.Result = result
	j.WorkerID = nil
	return j, nil
}

func (f *fakeStore) MarkFailed(jobID, workerID, reason, code, message string) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[jobID]
	j.State = types.JobFailed
	j.StateReason = reason
	j.Failure = &types.FailureInfo{Code: code, Message: message}
	j.WorkerID = nil
	return j, nil
}

func (f *fakeStore) MarkAborted(jobID, workerID, reason string, result types.Result) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	j.State = types.JobAborted
	j.StateReason = reason
	j.Result = result
	j.WorkerID = nil
	return j, nil
}

func (f *fakeStore) MarkOrphaned(jobID, reason string) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	j.State = types.JobOrphaned
	j.StateReason = reason
	j.WorkerID = nil
	return j, nil
}

func (f *fakeStore) MarkCrashedIfRunning(jobID string) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if j.State != types.JobRunning {
		return j, nil
	}
	j.State = types.JobFailed
	j.StateReason = types.ReasonWorkerCrashed
	j.WorkerID = nil
	return j, nil
}

func (f *fakeStore) Get(jobID string) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return j, nil
}

func (f *fakeStore) List(filter types.ListFilter) ([]*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Job
	for _, j := range f.jobs {
		if filter.State != "" && j.State != filter.State {
			continue
		}
		if filter.JobType != "" && j.JobType != filter.JobType {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeStore) RunningStaleSince(cutoff time.Time) ([]*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Job
	for _, j := range f.jobs {
		if j.State == types.JobRunning && j.LastHeartbeatAt != nil && j.LastHeartbeatAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) AbortOverdue(cutoff time.Time) ([]*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Job
	for _, j := range f.jobs {
		if j.State == types.JobRunning && j.AbortRequested && j.AbortRequestedAt != nil && j.AbortRequestedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) ReconcileOnStartup() error { return nil }

func (f *fakeStore) PutWorker(w *types.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[w.ID] = w
	return nil
}

func (f *fakeStore) GetWorker(workerID string) (*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[workerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return w, nil
}

func (f *fakeStore) ListWorkers() ([]*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Worker
	for _, w := range f.workers {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeStore) MarkWorkerExited(workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[workerID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now().UTC()
	w.Status = types.WorkerExited
	w.ExitedAt = &now
	return nil
}

func (f *fakeStore) Close() error { return nil }

var _ storage.Store = (*fakeStore)(nil)
