// Package api exposes the submission and control surface of spec §6.2
// over local HTTP/JSON, using go-chi/chi as the router, the one
// transport the core allows as an external collaborator without owning
// it.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fathomquant/supervisor/pkg/jobsvc"
	"github.com/fathomquant/supervisor/pkg/log"
	"github.com/fathomquant/supervisor/pkg/metrics"
	"github.com/fathomquant/supervisor/pkg/types"
)

// NewRouter builds the chi router for the control surface plus the
// ambient /health, /ready, /live endpoints. /metrics is not served by
// this router; cmd/supervisord mounts it on the enclosing mux.
func NewRouter(svc *jobsvc.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", submitHandler(svc))
		r.Get("/", listHandler(svc))
		r.Get("/{jobID}", getHandler(svc))
		r.Post("/{jobID}/abort", abortHandler(svc))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}

type submitRequest struct {
	JobType  string          `json:"job_type"`
	Spec     types.Spec      `json:"spec"`
	Metadata types.Metadata  `json:"metadata"`
}

func submitHandler(svc *jobsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		job, err := svc.Submit(req.JobType, req.Spec, req.Metadata)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

func getHandler(svc *jobsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := svc.Get(jobID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func listHandler(svc *jobsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := types.ListFilter{
			State:   types.JobState(r.URL.Query().Get("state")),
			JobType: r.URL.Query().Get("job_type"),
		}
		jobs, err := svc.List(filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func abortHandler(svc *jobsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := svc.RequestAbort(jobID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
