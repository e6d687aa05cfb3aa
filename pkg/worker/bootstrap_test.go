package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

type scriptedHandler struct {
	validateErr error
	result      types.Result
	execErr     error
}

func (s scriptedHandler) Validate(spec types.Spec) error { return s.validateErr }
func (s scriptedHandler) Execute(ctx context.Context, rc registry.RunContext, spec types.Spec) (types.Result, error) {
	return s.result, s.execErr
}

func newTestEnv(t *testing.T) (storage.Store, Config) {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "supervisor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, Config{HeartbeatPeriod: 10 * time.Millisecond, OutputsRoot: t.TempDir()}
}

func TestBootstrapSucceeds(t *testing.T) {
	store, cfg := newTestEnv(t)
	job, err := store.Submit("ping", types.Spec{"sleep_seconds": 0.0}, nil)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register("ping", scriptedHandler{result: types.Result{"slept_seconds": 0.0}}))

	exitCode := Bootstrap(job.ID, "worker-1", os.Getpid(), store, reg, cfg)
	assert.Equal(t, ExitSucceeded, exitCode)

	done, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSucceeded, done.State)

	_, err = os.Stat(filepath.Join(cfg.OutputsRoot, "jobs", job.ID, "manifest.json"))
	assert.NoError(t, err)
}

func TestBootstrapClaimConflictExitsCleanly(t *testing.T) {
	store, cfg := newTestEnv(t)
	job, err := store.Submit("ping", types.Spec{}, nil)
	require.NoError(t, err)
	_, err = store.Claim(job.ID, "worker-0", 1)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register("ping", scriptedHandler{}))

	exitCode := Bootstrap(job.ID, "worker-1", os.Getpid(), store, reg, cfg)
	assert.Equal(t, ExitSucceeded, exitCode)

	current, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-0", *current.WorkerID, "the original claimant's ownership must survive a lost claim race")
}

func TestBootstrapUnknownJobTypeFails(t *testing.T) {
	store, cfg := newTestEnv(t)
	job, err := store.Submit("mystery_type", types.Spec{}, nil)
	require.NoError(t, err)

	reg := registry.New()

	exitCode := Bootstrap(job.ID, "worker-1", os.Getpid(), store, reg, cfg)
	assert.Equal(t, ExitMalformedOrUnknown, exitCode)

	done, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, done.State)
	assert.Equal(t, types.ReasonUnknownJobType, done.StateReason)
}

func TestBootstrapMalformedSpecFails(t *testing.T) {
	store, cfg := newTestEnv(t)
	job, err := store.Submit("ping", types.Spec{}, nil)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register("ping", scriptedHandler{validateErr: assert.AnError}))

	exitCode := Bootstrap(job.ID, "worker-1", os.Getpid(), store, reg, cfg)
	assert.Equal(t, ExitMalformedOrUnknown, exitCode)

	done, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, done.State)
	assert.Equal(t, types.ReasonMalformedSpec, done.StateReason)
}

func TestBootstrapHandlerRaisedFails(t *testing.T) {
	store, cfg := newTestEnv(t)
	job, err := store.Submit("ping", types.Spec{}, nil)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register("ping", scriptedHandler{execErr: assert.AnError}))

	exitCode := Bootstrap(job.ID, "worker-1", os.Getpid(), store, reg, cfg)
	assert.Equal(t, ExitHandlerRaised, exitCode)

	done, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, done.State)
	assert.Equal(t, types.ReasonHandlerRaised, done.StateReason)
}

func TestBootstrapAbortedResultMarksAborted(t *testing.T) {
	store, cfg := newTestEnv(t)
	job, err := store.Submit("ping", types.Spec{}, nil)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register("ping", scriptedHandler{result: types.Result{"aborted": true}}))

	exitCode := Bootstrap(job.ID, "worker-1", os.Getpid(), store, reg, cfg)
	assert.Equal(t, ExitAborted, exitCode)

	done, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobAborted, done.State)
	assert.Equal(t, types.ReasonUserAbort, done.StateReason)
}
