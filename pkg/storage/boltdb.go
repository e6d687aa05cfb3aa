package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/fathomquant/supervisor/pkg/types"
)

var (
	bucketJobs    = []byte("jobs")
	bucketJobSeq  = []byte("jobs_seq") // seq(uint64 BE) -> job id, insertion order
	bucketWorkers = []byte("workers")
)

// BoltStore implements Store using a single-writer bbolt database, as the
// teacher's BoltStore does for cluster state: one bucket per entity, JSON
// marshaled values keyed by ID, every write wrapped in db.Update.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt file at path and
// ensures its buckets exist.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketJobs, bucketJobSeq, bucketWorkers} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func putJob(tx *bolt.Tx, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("storage: marshal job: %w", err)
	}
	return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
}

func getJob(tx *bolt.Tx, jobID string) (*types.Job, error) {
	data := tx.Bucket(bucketJobs).Get([]byte(jobID))
	if data == nil {
		return nil, ErrNotFound
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("storage: unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// Submit appends a QUEUED job in its own transaction, recording both the
// primary row and its insertion-order sequence key so FetchNextQueued can
// honor FIFO without a full table scan.
func (s *BoltStore) Submit(jobType string, spec types.Spec, metadata types.Metadata) (*types.Job, error) {
	now := time.Now().UTC()
	job := &types.Job{
		ID:            uuid.NewString(),
		JobType:       jobType,
		Spec:          spec,
		Metadata:      metadata,
		State:         types.JobQueued,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		seq, err := tx.Bucket(bucketJobSeq).NextSequence()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketJobSeq).Put(seqKey(seq), []byte(job.ID)); err != nil {
			return err
		}
		return putJob(tx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// FetchNextQueued walks the insertion-order index, which preserves FIFO
// submission order, returning up to limit QUEUED, non-abort-requested
// jobs. Read-only.
func (s *BoltStore) FetchNextQueued(limit int) ([]*types.Job, error) {
	var out []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobSeq).Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			job, err := getJob(tx, string(v))
			if err != nil {
				continue
			}
			if job.State == types.JobQueued && !job.AbortRequested {
				out = append(out, job)
			}
		}
		return nil
	})
	return out, err
}

// Claim atomically transitions QUEUED->RUNNING.
func (s *BoltStore) Claim(jobID, workerID string, pid int) (*types.Job, error) {
	var job *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if j.State != types.JobQueued {
			return ErrClaimConflict
		}
		now := time.Now().UTC()
		j.State = types.JobRunning
		j.WorkerID = &workerID
		j.PID = &pid
		j.LastHeartbeatAt = &now
		j.StartedAt = &now
		j.LastUpdatedAt = now
		if err := putJob(tx, j); err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// Heartbeat updates LastHeartbeatAt and optional progress, rejecting
// callers that are not the job's current owner.
func (s *BoltStore) Heartbeat(jobID, workerID string, progress *types.Progress) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if j.State != types.JobRunning {
			return ErrNotRunning
		}
		if j.WorkerID == nil || *j.WorkerID != workerID {
			return ErrOwnerMismatch
		}
		now := time.Now().UTC()
		j.LastHeartbeatAt = &now
		j.LastUpdatedAt = now
		if progress != nil {
			j.Progress = progress
		}
		return putJob(tx, j)
	})
}

// RequestAbort sets AbortRequested unconditionally for non-terminal jobs;
// terminal jobs are left unchanged. Idempotent: calling it N times has the
// same effect as calling it once.
func (s *BoltStore) RequestAbort(jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if j.State.IsTerminal() {
			job = j
			return nil
		}
		if !j.AbortRequested {
			now := time.Now().UTC()
			j.AbortRequested = true
			j.AbortRequestedAt = &now
			j.LastUpdatedAt = now
			if err := putJob(tx, j); err != nil {
				return err
			}
		}
		job = j
		return nil
	})
	return job, err
}

// AbortQueued transitions a QUEUED job that has an abort request directly
// to ABORTED, skipping RUNNING entirely.
func (s *BoltStore) AbortQueued(jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if j.State != types.JobQueued {
			return ErrNotRunning
		}
		now := time.Now().UTC()
		j.State = types.JobAborted
		j.StateReason = types.ReasonAbortedBeforeRun
		j.FinishedAt = &now
		j.LastUpdatedAt = now
		if err := putJob(tx, j); err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

func (s *BoltStore) finishRunning(jobID, workerID string, mutate func(j *types.Job, now time.Time)) (*types.Job, error) {
	var job *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if j.State != types.JobRunning {
			return ErrNotRunning
		}
		if workerID != "" && (j.WorkerID == nil || *j.WorkerID != workerID) {
			return ErrOwnerMismatch
		}
		now := time.Now().UTC()
		mutate(j, now)
		j.LastUpdatedAt = now
		j.FinishedAt = &now
		j.WorkerID = nil
		j.PID = nil
		if err := putJob(tx, j); err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

func (s *BoltStore) MarkSucceeded(jobID, workerID string, result types.Result) (*types.Job, error) {
	return s.finishRunning(jobID, workerID, func(j *types.Job, now time.Time) {
		j.State = types.JobSucceeded
		j.Result = result
	})
}

func (s *BoltStore) MarkFailed(jobID, workerID, reason, code, message string) (*types.Job, error) {
	return s.finishRunning(jobID, workerID, func(j *types.Job, now time.Time) {
		j.State = types.JobFailed
		j.StateReason = reason
		j.Failure = &types.FailureInfo{Code: code, Message: message}
	})
}

func (s *BoltStore) MarkAborted(jobID, workerID, reason string, result types.Result) (*types.Job, error) {
	return s.finishRunning(jobID, workerID, func(j *types.Job, now time.Time) {
		j.State = types.JobAborted
		j.StateReason = reason
		j.Result = result
	})
}

// MarkOrphaned is supervisor-only and does not check worker identity: the
// orphaned job's owning worker is, by definition, unresponsive.
func (s *BoltStore) MarkOrphaned(jobID, reason string) (*types.Job, error) {
	return s.finishRunning(jobID, "", func(j *types.Job, now time.Time) {
		j.State = types.JobOrphaned
		j.StateReason = reason
	})
}

// MarkCrashedIfRunning is the reap-phase race handler: if the row is no
// longer RUNNING (the child's own bootstrap already finished it), this is
// a silent no-op rather than an error.
func (s *BoltStore) MarkCrashedIfRunning(jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if j.State != types.JobRunning {
			job = j
			return nil
		}
		now := time.Now().UTC()
		j.State = types.JobFailed
		j.StateReason = types.ReasonWorkerCrashed
		j.Failure = &types.FailureInfo{Code: "worker_crashed", Message: "worker process exited without reporting a terminal state"}
		j.FinishedAt = &now
		j.LastUpdatedAt = now
		j.WorkerID = nil
		j.PID = nil
		if err := putJob(tx, j); err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

func (s *BoltStore) Get(jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

func (s *BoltStore) List(filter types.ListFilter) ([]*types.Job, error) {
	var out []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if filter.State != "" && j.State != filter.State {
				return nil
			}
			if filter.JobType != "" && j.JobType != filter.JobType {
				return nil
			}
			out = append(out, &j)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) RunningStaleSince(cutoff time.Time) ([]*types.Job, error) {
	var out []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if j.State == types.JobRunning && j.LastHeartbeatAt != nil && j.LastHeartbeatAt.Before(cutoff) {
				out = append(out, &j)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) AbortOverdue(cutoff time.Time) ([]*types.Job, error) {
	var out []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if j.State == types.JobRunning && j.AbortRequested && j.AbortRequestedAt != nil && j.AbortRequestedAt.Before(cutoff) {
				out = append(out, &j)
			}
			return nil
		})
	})
	return out, err
}

// ReconcileOnStartup rebuilds the workers table from scratch: every row
// is marked EXITED, matching spec's restart failure model. RUNNING jobs
// are left untouched; the orphan scan reclassifies them on the first
// tick once their heartbeat is found stale.
func (s *BoltStore) ReconcileOnStartup() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		now := time.Now().UTC()
		var toUpdate []*types.Worker
		if err := b.ForEach(func(_, v []byte) error {
			var w types.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.Status != types.WorkerExited {
				w.Status = types.WorkerExited
				w.ExitedAt = &now
				toUpdate = append(toUpdate, &w)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, w := range toUpdate {
			data, err := json.Marshal(w)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(w.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) PutWorker(w *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkers).Put([]byte(w.ID), data)
	})
}

func (s *BoltStore) GetWorker(workerID string) (*types.Worker, error) {
	var w types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(workerID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &w)
	})
	return &w, err
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var out []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(_, v []byte) error {
			var w types.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			out = append(out, &w)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) MarkWorkerExited(workerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(workerID))
		if data == nil {
			return ErrNotFound
		}
		var w types.Worker
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		now := time.Now().UTC()
		w.Status = types.WorkerExited
		w.ExitedAt = &now
		newData, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		return b.Put([]byte(workerID), newData)
	})
}
