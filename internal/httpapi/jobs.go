package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/encoder"
	"github.com/Coffee285/AVS-sub001/internal/engine"
	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/queue"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if snap, ok := s.progress.Get(id); ok {
		s.writeJSON(w, http.StatusOK, api.FromSnapshot(snap))
		return
	}
	row, err := s.jobs.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if row == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromQueueJob(row))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []job.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := api.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, "unknown status "+strings.TrimSpace(part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	rows, err := s.jobs.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromQueueJobs(rows)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	spec := req.Spec()
	if strings.TrimSpace(spec.OutputDir) == "" {
		spec.OutputDir = s.defaultOutputDir
	}
	row, err := s.jobs.Enqueue(r.Context(), spec)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidSpec) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("job submitted",
		logging.JobID(row.ID),
		logging.EventType("job_submitted"),
		logging.String("source", row.SourcePath),
		logging.Int("priority", row.Priority),
	)
	s.writeJSON(w, http.StatusCreated, api.FromQueueJob(row))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	row, err := s.jobs.Requeue(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, queue.ErrNotRetryable):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("job requeued",
		logging.JobID(row.ID),
		logging.EventType("job_retried"),
		logging.String("retry_of", id),
		logging.Int("attempt", row.Attempt),
	)
	s.writeJSON(w, http.StatusCreated, api.FromQueueJob(row))
}

// handleCancel is idempotent: cancelling a terminal job reports its status
// with applied=false.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	logger := logging.WithContext(ctx, s.logger).With(logging.JobID(id))

	row, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if row != nil && row.Status == job.StatusQueued {
		applied, err := s.jobs.CancelQueued(ctx, id, s.now())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if applied {
			// Feed subscribers waiting on an unadmitted job need a terminal event.
			rec := row.Record()
			s.progress.Create(rec)
			if _, err := s.progress.UpdateStatus(id, job.StatusCancelled, "", "cancelled before start"); err != nil {
				logger.Warn("cancelled job not reflected in progress store", logging.Error(err))
			}
			logger.Info("queued job cancelled", logging.EventType("job_cancelled"))
			s.writeJSON(w, http.StatusOK, api.CancelResponse{JobID: id, Status: string(job.StatusCancelled), Applied: true})
			return
		}
		// Lost the race with admission; the engine owns it now.
	}

	rec, err := s.engine.Cancel(id)
	if err == nil {
		s.writeJSON(w, http.StatusOK, api.CancelResponse{
			JobID:   id,
			Status:  string(rec.Status),
			Applied: !rec.IsTerminal(),
		})
		return
	}
	if !errors.Is(err, engine.ErrUnknownJob) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Not running here: answer from the persisted record.
	if row, err = s.jobs.GetByID(ctx, id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if row == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !row.Status.IsTerminal() {
		s.writeError(w, http.StatusConflict, "job is being admitted; retry the cancel")
		return
	}
	s.writeJSON(w, http.StatusOK, api.CancelResponse{JobID: id, Status: string(row.Status), Applied: false})
}

// handleOutput reports whether the job's artifact exists. Without a recorded
// output path the expected location is checked, so a finished encode can be
// found even when its terminal status was missed. A ?path= candidate must lie
// inside the job's output directory.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	row, err := s.jobs.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap, haveSnap := s.progress.Get(id)
	if row == nil && !haveSnap {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	outputDir := s.defaultOutputDir
	var path string
	if row != nil {
		if strings.TrimSpace(row.OutputDir) != "" {
			outputDir = row.OutputDir
		}
		path = row.OutputPath
	}
	if haveSnap && snap.OutputPath != "" {
		path = snap.OutputPath
	}
	if path == "" && row != nil {
		path = encoder.OutputPath(row.SourcePath, outputDir)
	}
	if candidate := strings.TrimSpace(r.URL.Query().Get("path")); candidate != "" {
		if !withinDir(outputDir, candidate) {
			s.writeError(w, http.StatusBadRequest, "path is outside the job output directory")
			return
		}
		path = candidate
	}

	info := api.OutputInfo{JobID: id, Path: path}
	if path != "" {
		if stat, err := os.Stat(path); err == nil && stat.Mode().IsRegular() {
			info.Exists = true
			info.Size = stat.Size()
		}
	}
	s.writeJSON(w, http.StatusOK, info)
}

func withinDir(dir, candidate string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(candidate))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
