package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/scheduler"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		PID:         os.Getpid(),
		StartedAt:   api.FormatTime(s.startedAt),
		QueueDBPath: s.databasePath,
		ActiveJobs:  s.engine.ActiveCount(),
		Snapshots:   len(s.progress.List()),
		Scheduler:   toAPISettings(s.settings.Settings()),
		Queue:       stats,
	})
}

func (s *Server) handleGetScheduler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, toAPISettings(s.settings.Settings()))
}

func (s *Server) handlePatchScheduler(w http.ResponseWriter, r *http.Request) {
	var body api.SchedulerPatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	patch := scheduler.Patch{
		Enabled:           body.Enabled,
		MaxConcurrentJobs: body.MaxConcurrentJobs,
	}
	if body.PollIntervalMillis != nil {
		interval := time.Duration(*body.PollIntervalMillis) * time.Millisecond
		patch.PollInterval = &interval
	}
	updated, err := s.settings.Apply(patch)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("scheduler settings updated",
		logging.EventType("scheduler_settings_updated"),
		logging.Bool("enabled", updated.Enabled),
		logging.Int("max_concurrent_jobs", updated.MaxConcurrentJobs),
		logging.Duration("poll_interval", updated.PollInterval),
	)
	s.writeJSON(w, http.StatusOK, toAPISettings(updated))
}

func toAPISettings(settings scheduler.Settings) api.SchedulerSettings {
	return api.SchedulerSettings{
		Enabled:            settings.Enabled,
		MaxConcurrentJobs:  settings.MaxConcurrentJobs,
		PollIntervalMillis: settings.PollInterval.Milliseconds(),
	}
}
