package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/nimbus/archive"
	"github.com/c360studio/nimbus/job"
	"github.com/c360studio/nimbus/store"
)

// createJobRequest is the POST /api/jobs body.
type createJobRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// handleCreateJob accepts a job, opens the SSE stream, and runs the
// pipeline. The response stays open until the pipeline emits its terminal
// event; a client disconnect does not cancel the job.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	j := &job.Job{
		ID:        job.NewID(),
		Prompt:    req.Prompt,
		Model:     model,
		Status:    job.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(r.Context(), j); err != nil {
		s.logger.Error("Create job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := stream.Send(job.Event{Type: job.EventJobCreated, JobID: j.ID}); err != nil {
		return
	}

	s.logger.Info("Job accepted", "job_id", j.ID, "model", model)

	// The pipeline outlives the request: it runs on a background context
	// and only the sink is tied to this client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runner.Run(context.WithoutCancel(r.Context()), j, stream)
	}()

	select {
	case <-done:
	case <-r.Context().Done():
		// The ResponseWriter is invalid once this handler returns; kill
		// the stream so the still-running pipeline cannot write to it.
		stream.Close()
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	jobs, err := s.store.ListJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("List jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("Get job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleGetLogs serves an archived build or deploy log. The endpoint is
// gated by the shared Auth token.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.authToken == "" || r.Header.Get("Auth") != s.authToken {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	logType := r.URL.Query().Get("type")
	if logType != "build" && logType != "deploy" {
		writeError(w, http.StatusBadRequest, "type must be build or deploy")
		return
	}

	id := r.PathValue("id")
	keys, err := s.store.GetJobLogKeys(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("Get log keys failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}

	key := keys.BuildLogKey
	if logType == "deploy" {
		key = keys.DeployLogKey
	}
	if key == nil {
		writeError(w, http.StatusNotFound, "log not archived")
		return
	}

	content, err := s.logs.Get(r.Context(), *key)
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "log not archived")
		return
	}
	if err != nil {
		s.logger.Error("Read archived log failed", "job_id", id, "key", *key, "error", err)
		writeError(w, http.StatusInternalServerError, "could not read log")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}
