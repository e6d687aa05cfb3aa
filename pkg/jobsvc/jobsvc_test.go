package jobsvc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

type stubHandler struct {
	validateErr error
}

func (s stubHandler) Validate(spec types.Spec) error { return s.validateErr }
func (s stubHandler) Execute(ctx context.Context, rc registry.RunContext, spec types.Spec) (types.Result, error) {
	return types.Result{}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "supervisor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	require.NoError(t, reg.Register("ping", stubHandler{}))
	require.NoError(t, reg.Register("always_invalid", stubHandler{validateErr: assert.AnError}))

	return New(store, reg)
}

func TestSubmitAcceptsKnownValidType(t *testing.T) {
	svc := newTestService(t)
	job, err := svc.Submit("ping", types.Spec{"sleep_seconds": 1.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.State)
}

func TestSubmitRejectsUnknownJobTypeWithoutWritingARow(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Submit("does_not_exist", types.Spec{}, nil)
	assert.Error(t, err)

	all, err := svc.List(types.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all, "no row should be written for an unknown job type")
}

func TestSubmitRejectsMalformedSpecWithoutWritingARow(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Submit("always_invalid", types.Spec{}, nil)
	assert.Error(t, err)

	all, err := svc.List(types.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all, "no row should be written when Validate fails")
}

func TestRequestAbortAndGetDelegateToStore(t *testing.T) {
	svc := newTestService(t)
	job, err := svc.Submit("ping", types.Spec{"sleep_seconds": 1.0}, nil)
	require.NoError(t, err)

	aborted, err := svc.RequestAbort(job.ID)
	require.NoError(t, err)
	assert.True(t, aborted.AbortRequested)

	fetched, err := svc.Get(job.ID)
	require.NoError(t, err)
	assert.True(t, fetched.AbortRequested)
}
