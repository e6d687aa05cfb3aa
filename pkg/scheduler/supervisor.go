// Package scheduler implements the Supervisor Loop: the long-running
// coordinator that spawns workers for QUEUED jobs up to a concurrency
// bound, reaps exited workers, scans for heartbeat-stale RUNNING jobs,
// and escalates termination for jobs requested to abort.
package scheduler

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fathomquant/supervisor/pkg/config"
	"github.com/fathomquant/supervisor/pkg/log"
	"github.com/fathomquant/supervisor/pkg/metrics"
	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

// activeWorker is the supervisor's in-memory record of a spawned child;
// the mapping from worker id to OS process handle is exclusively owned
// by the Supervisor, per spec §3 Ownership. exited is closed by a
// dedicated goroutine once cmd.Wait returns, which is the only
// non-blocking, zombie-free way to observe process completion in Go —
// polling pid liveness via signal 0 would see zombies as "still there"
// until something calls Wait.
type activeWorker struct {
	jobID  string
	cmd    *exec.Cmd
	exited chan struct{}
}

// Supervisor is the Supervisor Loop.
type Supervisor struct {
	store    storage.Store
	registry *registry.Registry
	cfg      *config.Config
	logger   zerolog.Logger
	tickLog  zerolog.Logger // sampled: fires at most once per tick period, see log.WithSampledComponent

	mu     sync.Mutex
	active map[string]*activeWorker // worker id -> handle

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Supervisor over store and reg, driven by cfg.
func New(store storage.Store, reg *registry.Registry, cfg *config.Config) *Supervisor {
	period := cfg.TickPeriod()
	if period <= 0 {
		period = time.Second
	}
	return &Supervisor{
		store:    store,
		registry: reg,
		cfg:      cfg,
		logger:   log.WithComponent("scheduler"),
		tickLog:  log.WithSampledComponent("scheduler.tick", 1, period),
		active:   make(map[string]*activeWorker),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the tick loop on a background goroutine.
func (s *Supervisor) Start() {
	go s.run()
}

// Stop signals the tick loop to exit and waits for the current tick to
// finish.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Supervisor) run() {
	defer close(s.doneCh)
	period := s.cfg.TickPeriod()
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tickLog.Debug().Int("active_workers", s.activeCount()).Msg("tick")
			if err := s.tick(); err != nil {
				s.logger.Error().Err(err).Msg("tick failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// tick first moves abort-requested QUEUED jobs straight to ABORTED, then
// runs the four phases of spec §4.5, in order. Spawn runs before reap and
// orphan-scan (it needs the current active-worker count); reap and
// orphan-scan are independent of each other within a tick and run
// concurrently via errgroup; abort-escalation runs last.
func (s *Supervisor) tick() error {
	timer := metrics.NewTimer(metrics.TickDuration)
	defer timer.ObserveDuration()

	if err := s.abortQueuedPhase(); err != nil {
		s.logger.Error().Err(err).Msg("abort-queued phase failed")
	}

	if err := s.spawnPhase(); err != nil {
		s.logger.Error().Err(err).Msg("spawn phase failed")
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := s.reapPhase(); err != nil {
			s.logger.Error().Err(err).Msg("reap phase failed")
		}
		return nil
	})
	g.Go(func() error {
		if err := s.orphanScanPhase(); err != nil {
			s.logger.Error().Err(err).Msg("orphan scan phase failed")
		}
		return nil
	})
	_ = g.Wait()

	if err := s.abortEscalationPhase(); err != nil {
		s.logger.Error().Err(err).Msg("abort escalation phase failed")
	}
	return nil
}

// abortQueuedPhase transitions QUEUED jobs with a pending abort request
// directly to ABORTED, per spec §5 "Cancellation semantics".
func (s *Supervisor) abortQueuedPhase() error {
	jobs, err := s.store.List(types.ListFilter{State: types.JobQueued})
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if !j.AbortRequested {
			continue
		}
		if _, err := s.store.AbortQueued(j.ID); err != nil {
			s.logger.Error().Err(err).Str("job_id", j.ID).Msg("abort queued job")
		}
	}
	return nil
}

// activeCount returns the current number of tracked worker children.
func (s *Supervisor) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// spawnPhase fills free worker capacity with QUEUED jobs, forking one
// child process per job.
func (s *Supervisor) spawnPhase() error {
	s.mu.Lock()
	free := s.cfg.MaxWorkers - len(s.active)
	s.mu.Unlock()
	if free <= 0 {
		return nil
	}

	jobs, err := s.store.FetchNextQueued(free)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		workerID := uuid.NewString()
		if err := s.spawnWorker(job, workerID); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("spawn worker")
			continue
		}
	}
	return nil
}

func (s *Supervisor) spawnWorker(job *types.Job, workerID string) error {
	exePath, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exePath, "worker", "--job-id", job.ID, "--worker-id", workerID)
	cmd.Env = append(os.Environ(),
		"SUPERVISOR_STORE_PATH="+s.cfg.StorePath,
		"SUPERVISOR_OUTPUTS_ROOT="+s.cfg.OutputsRoot,
	)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	now := time.Now().UTC()
	w := &types.Worker{
		ID:           workerID,
		PID:          cmd.Process.Pid,
		CurrentJobID: &job.ID,
		Status:       types.WorkerBusy,
		SpawnedAt:    now,
	}
	if err := s.store.PutWorker(w); err != nil {
		s.logger.Error().Err(err).Str("worker_id", workerID).Msg("record worker row")
	}

	s.mu.Lock()
	s.active[workerID] = &activeWorker{jobID: job.ID, cmd: cmd, exited: exited}
	s.mu.Unlock()

	metrics.JobsSpawned.Inc()
	s.logger.Info().Str("job_id", job.ID).Str("worker_id", workerID).Int("pid", cmd.Process.Pid).Msg("spawned worker")
	return nil
}

// reapPhase polls each active child handle non-blockingly, removing
// exited children and reclassifying any store row that is still RUNNING
// (the crash race of spec §4.5 step 2) as worker_crashed.
func (s *Supervisor) reapPhase() error {
	s.mu.Lock()
	snapshot := make(map[string]*activeWorker, len(s.active))
	for k, v := range s.active {
		snapshot[k] = v
	}
	s.mu.Unlock()

	for workerID, aw := range snapshot {
		select {
		case <-aw.exited:
		default:
			continue
		}

		s.mu.Lock()
		delete(s.active, workerID)
		s.mu.Unlock()

		if j, err := s.store.MarkCrashedIfRunning(aw.jobID); err != nil {
			s.logger.Error().Err(err).Str("job_id", aw.jobID).Msg("reclassify crashed job")
		} else if j.StateReason == types.ReasonWorkerCrashed {
			metrics.JobsCrashed.Inc()
		}
		if err := s.store.MarkWorkerExited(workerID); err != nil {
			s.logger.Error().Err(err).Str("worker_id", workerID).Msg("mark worker exited")
		}
	}
	return nil
}

// orphanScanPhase finds RUNNING jobs whose heartbeat has gone stale,
// kills the owning process (graceful then forceful), and marks them
// ORPHANED.
func (s *Supervisor) orphanScanPhase() error {
	cutoff := time.Now().UTC().Add(-s.cfg.HeartbeatTimeout())
	stale, err := s.store.RunningStaleSince(cutoff)
	if err != nil {
		return err
	}
	for _, j := range stale {
		if j.LastHeartbeatAt != nil {
			metrics.HeartbeatAge.Observe(time.Since(*j.LastHeartbeatAt).Seconds())
		}
		s.killJob(j, "heartbeat_timeout")
		if _, err := s.store.MarkOrphaned(j.ID, types.ReasonHeartbeatTimeout); err != nil {
			s.logger.Error().Err(err).Str("job_id", j.ID).Msg("mark orphaned")
		} else {
			metrics.JobsOrphaned.Inc()
		}
	}
	return nil
}

// abortEscalationPhase force-kills RUNNING jobs whose cooperative abort
// window has elapsed and marks them ABORTED with reason abort_escalated.
func (s *Supervisor) abortEscalationPhase() error {
	cutoff := time.Now().UTC().Add(-s.cfg.AbortEscalation())
	overdue, err := s.store.AbortOverdue(cutoff)
	if err != nil {
		return err
	}
	for _, j := range overdue {
		s.killJob(j, "abort_escalated")
		if _, err := s.store.MarkAborted(j.ID, "", types.ReasonAbortEscalated, types.Result{"aborted": true}); err != nil {
			s.logger.Error().Err(err).Str("job_id", j.ID).Msg("mark abort-escalated")
		} else {
			metrics.JobsAbortEscalated.Inc()
		}
	}
	return nil
}

// killJob finds the active child owning job j (if any is still tracked
// locally) and sends a graceful termination signal, waiting up to
// graceful_termination_seconds for cmd.Wait to observe the exit before
// force-killing.
func (s *Supervisor) killJob(j *types.Job, reason string) {
	var target *exec.Cmd
	var exited chan struct{}
	var workerID string
	s.mu.Lock()
	for id, aw := range s.active {
		if aw.jobID == j.ID {
			target = aw.cmd
			exited = aw.exited
			workerID = id
			break
		}
	}
	s.mu.Unlock()

	pid := 0
	if target != nil && target.Process != nil {
		pid = target.Process.Pid
	} else if j.PID != nil {
		pid = *j.PID
	}
	if pid == 0 {
		return
	}

	s.logger.Warn().Str("job_id", j.ID).Int("pid", pid).Str("reason", reason).Msg("terminating worker")
	_ = syscall.Kill(pid, syscall.SIGTERM)

	if exited != nil {
		select {
		case <-exited:
		case <-time.After(s.cfg.GracefulTermination()):
			_ = syscall.Kill(pid, syscall.SIGKILL)
			<-exited
		}
	} else {
		// No locally tracked handle (e.g. after a supervisor restart);
		// best effort, no Wait to observe.
		time.Sleep(s.cfg.GracefulTermination())
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	if workerID != "" {
		s.mu.Lock()
		delete(s.active, workerID)
		s.mu.Unlock()
		_ = s.store.MarkWorkerExited(workerID)
	}
}
