package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomquant/supervisor/pkg/jobsvc"
	"github.com/fathomquant/supervisor/pkg/metrics"
	"github.com/fathomquant/supervisor/pkg/registry"
	"github.com/fathomquant/supervisor/pkg/storage"
	"github.com/fathomquant/supervisor/pkg/types"
)

type pingStub struct{}

func (pingStub) Validate(spec types.Spec) error { return nil }
func (pingStub) Execute(ctx context.Context, rc registry.RunContext, spec types.Spec) (types.Result, error) {
	return types.Result{}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "supervisor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	require.NoError(t, reg.Register("ping", pingStub{}))

	metrics.Bind(store, reg)
	metrics.RegisterComponent("scheduler", true, "")

	return NewRouter(jobsvc.New(store, reg))
}

func TestSubmitJobReturns201AndQueuedJob(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]interface{}{
		"job_type": "ping",
		"spec":     map[string]interface{}{"sleep_seconds": 0},
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var job types.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, types.JobQueued, job.State)
	assert.NotEmpty(t, job.ID)
}

func TestSubmitUnknownJobTypeReturns400(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"job_type": "does_not_exist"})
	req := httptest.NewRequest(http.MethodPost, "/jobs/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownJobReturns404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitThenGetRoundTrips(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"job_type": "ping"})
	req := httptest.NewRequest(http.MethodPost, "/jobs/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var submitted types.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))

	req2 := httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.ID, nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	require.Equal(t, http.StatusOK, rec2.Code)
	var fetched types.Job
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&fetched))
	assert.Equal(t, submitted.ID, fetched.ID)
}

func TestListFiltersByState(t *testing.T) {
	router := newTestRouter(t)

	for i := 0; i < 2; i++ {
		body, _ := json.Marshal(map[string]interface{}{"job_type": "ping"})
		req := httptest.NewRequest(http.MethodPost, "/jobs/", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/?state=QUEUED", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []types.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
	assert.Len(t, jobs, 2)
}

func TestAbortUnknownJobReturns404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/does-not-exist/abort", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAbortQueuedJobReturns202(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"job_type": "ping"})
	req := httptest.NewRequest(http.MethodPost, "/jobs/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var submitted types.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))

	req2 := httptest.NewRequest(http.MethodPost, "/jobs/"+submitted.ID+"/abort", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	require.Equal(t, http.StatusAccepted, rec2.Code)
	var aborted types.Job
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&aborted))
	assert.True(t, aborted.AbortRequested)
}

func TestHealthLiveReadyEndpointsAreWired(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health", "/ready", "/live"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
