// Package api exposes a small operational HTTP surface: health, metrics, and
// read/cancel access to jobs and schedules. Job submission stays in-process
// (payloads are Go functions), so there is no enqueue endpoint.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"conductor/internal/services/queue"
	"conductor/internal/services/scheduler"
	"conductor/internal/storage"
	"conductor/internal/telemetry"
)

// Server wires the HTTP handlers.
type Server struct {
	queue *queue.Service
	sched *scheduler.Service
	store storage.Store // may be nil
}

func NewServer(q *queue.Service, sched *scheduler.Service, store storage.Store) *Server {
	return &Server{queue: q, sched: sched, store: store}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/stats", s.handleStats)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/cancel", s.handleCancelJob)
	r.Get("/schedules", s.handleListSchedules)
	r.Get("/schedules/{id}", s.handleGetSchedule)
	r.Post("/schedules/{id}/cancel", s.handleCancelSchedule)
	r.Get("/history", s.handleHistory)
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":     s.queue.Stats(),
		"scheduler": s.sched.Snapshot(),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("owner")
	status := queue.Status(q.Get("status"))
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.queue.Jobs(owner, status, limit)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.queue.Job(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job on behalf of the X-Owner header. Cancellation
// is owner-scoped: a mismatched owner gets the same 409 as an already
// finished job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	requester := r.Header.Get("X-Owner")
	if requester == "" {
		http.Error(w, "X-Owner header required", http.StatusBadRequest)
		return
	}
	if _, ok := s.queue.Job(id); !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if !s.queue.Cancel(id, requester) {
		http.Error(w, "job not cancellable", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.sched.List()})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.sched.Get(id)
	if err != nil {
		http.Error(w, "schedule not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sched.CancelJob(id) {
		http.Error(w, "schedule not cancellable", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleHistory serves the archived job history when a store is configured.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "storage disabled", http.StatusNotImplemented)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentJobs(r.Context(), q.Get("owner"), limit)
	if err != nil {
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": recs})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
