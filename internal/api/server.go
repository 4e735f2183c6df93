// Package api exposes the HTTP interface for the scrape service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmagar/pulse-sub012/internal/cancel"
	"github.com/jmagar/pulse-sub012/internal/config"
	"github.com/jmagar/pulse-sub012/internal/dispatcher"
	"github.com/jmagar/pulse-sub012/internal/metrics"
	"github.com/jmagar/pulse-sub012/internal/scrape"
)

// Limiter is the slice of concurrency bookkeeping the API needs at submit
// time; the cancel sequence uses the wider removal contract.
type Limiter interface {
	AddQueuedJob(ctx context.Context, teamID, jobID string) error
}

// Server wires HTTP handlers to the dispatcher, stores, and canceller.
type Server struct {
	router     chi.Router
	jobStore   scrape.JobStore
	dispatcher *dispatcher.Dispatcher
	canceller  *cancel.Canceller
	limiter    Limiter
	idGen      scrape.IDGenerator
	clock      scrape.Clock
	cfg        config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore scrape.JobStore,
	disp *dispatcher.Dispatcher,
	canceller *cancel.Canceller,
	limiter Limiter,
	idGen scrape.IDGenerator,
	clock scrape.Clock,
	cfg config.Config,
) *Server {
	s := &Server{
		jobStore:   jobStore,
		dispatcher: disp,
		canceller:  canceller,
		limiter:    limiter,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	URL     string            `json:"url"`
	TeamID  string            `json:"team_id"`
	CrawlID string            `json:"crawl_id"`
	Tags    map[string]string `json:"tags"`
	// Wait holds the connection open until the job reaches a terminal state.
	// A disconnect while waiting cancels the job.
	Wait bool `json:"wait"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}

	params := scrape.JobParameters{
		URL:     req.URL,
		TeamID:  req.TeamID,
		CrawlID: req.CrawlID,
		Tags:    req.Tags,
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
		return
	}
	s.waitForJob(w, r, jobID, params)
}

// waitForJob holds the request open until the job reaches a terminal state.
// The request context doubles as the local cancellation signal: if the client
// disconnects before completion the job is cancelled via the shared record.
func (s *Server) waitForJob(w http.ResponseWriter, r *http.Request, jobID string, params scrape.JobParameters) {
	token, stop := cancel.TokenFromContext(r.Context(), "client disconnected")
	defer stop()
	unbind := s.canceller.Bind(token, params.Identity(jobID), "client disconnected")
	defer unbind()

	deadline := time.NewTimer(s.cfg.WaitTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := s.jobStore.GetJob(r.Context(), jobID)
		if err == nil && job.Status.Terminal() {
			writeJSON(w, http.StatusOK, map[string]any{"job": job})
			return
		}
		select {
		case <-r.Context().Done():
			// Client is gone; the bound token has already triggered the
			// cancel sequence and nobody is left to read a response.
			return
		case <-deadline.C:
			writeJSON(w, http.StatusAccepted, map[string]string{
				"job_id": jobID,
				"status": string(job.Status),
			})
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	// A terminal job is not cancellable post hoc; its outcome stands.
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("job already %s", job.Status))
		return
	}
	identity := job.Parameters.Identity(jobID)
	s.canceller.Cancel(r.Context(), identity, "cancelled via API")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancelling",
	})
}

func (s *Server) enqueueJob(ctx context.Context, params scrape.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := scrape.Job{
		ID:         jobID,
		Status:     scrape.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if params.TeamID != "" {
		if err := s.limiter.AddQueuedJob(ctx, params.TeamID, jobID); err != nil {
			return "", fmt.Errorf("claim queued slot: %w", err)
		}
	}
	queueCtx, cancelQueue := context.WithTimeout(ctx, 5*time.Second)
	defer cancelQueue()
	item := scrape.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}
