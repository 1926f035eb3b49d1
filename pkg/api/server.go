// Package api implements the HTTP read surface (C14): a single
// bearer-authenticated endpoint for polling a task's broker-reported
// result.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alasbuild/testforge/pkg/broker"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/metrics"
	"github.com/alasbuild/testforge/pkg/storage"
)

// resultTimeout bounds the best-effort broker fetch backing GET
// /tasks/{task_id}/result.
const resultTimeout = 2 * time.Second

// apiVersion is reported on every result response.
const apiVersion = "1"

// Server is the chi-routed HTTP surface; NewServer wires its one route plus
// JWT auth and health/metrics endpoints.
type Server struct {
	Store   storage.Store
	Results broker.ResultBackend
	Auth    *Authenticator

	router chi.Router
}

// NewServer builds the router. store and results back the one read route;
// auth validates every request's bearer token.
func NewServer(store storage.Store, results broker.ResultBackend, auth *Authenticator) *Server {
	s := &Server{Store: store, Results: results, Auth: auth}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/tasks/{task_id}/result", s.getTaskResult)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// taskResultResponse is the spec's {state, result?, api_version} shape.
// When the result backend answers within resultTimeout, State and Result
// both carry the reported state; otherwise Result is omitted and State is
// the record's stored status.
type taskResultResponse struct {
	State      string `json:"state"`
	Result     string `json:"result,omitempty"`
	APIVersion string `json:"api_version"`
}

func (s *Server) getTaskResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	alog := log.WithComponent("api").With().Str("task_id", taskID).Logger()

	rec, err := s.Store.GetTask(r.Context(), taskID)
	if err != nil {
		if err == storage.ErrNotFound {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		alog.Error().Err(err).Msg("fetching task record failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := taskResultResponse{State: string(rec.Status), APIVersion: apiVersion}

	ctx, cancel := context.WithTimeout(r.Context(), resultTimeout)
	defer cancel()
	if state, err := s.Results.AsyncResult(ctx, taskID, resultTimeout); err == nil {
		resp.State = string(state)
		resp.Result = string(state)
	} else if err != broker.ErrResultTimeout {
		alog.Warn().Err(err).Msg("broker result fetch failed, serving stored state only")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// requestMetrics records every request's method/status into
// metrics.APIRequestsTotal/APIRequestDuration.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(ww.Status())).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}
