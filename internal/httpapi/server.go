package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/progress"
	"github.com/Coffee285/AVS-sub001/internal/queue"
	"github.com/Coffee285/AVS-sub001/internal/scheduler"
	"github.com/Coffee285/AVS-sub001/internal/services"
)

// DefaultKeepAlive is the interval between SSE keep-alive comments.
const DefaultKeepAlive = 15 * time.Second

// Progress is the read and subscribe surface of the progress store plus the
// writes used to settle jobs cancelled before admission.
type Progress interface {
	Create(rec job.Record) progress.Snapshot
	UpdateStatus(id string, status job.Status, outputPath, errorMessage string) (progress.Snapshot, error)
	Get(id string) (progress.Snapshot, bool)
	List() []progress.Snapshot
	Subscribe(id string) *progress.Subscription
}

// Jobs is the persisted job store.
type Jobs interface {
	Enqueue(ctx context.Context, spec job.Spec) (*queue.Job, error)
	Requeue(ctx context.Context, id string) (*queue.Job, error)
	GetByID(ctx context.Context, id string) (*queue.Job, error)
	List(ctx context.Context, statuses ...job.Status) ([]*queue.Job, error)
	CancelQueued(ctx context.Context, id string, at time.Time) (bool, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Engine is the part of the execution engine the API drives.
type Engine interface {
	Cancel(id string) (job.Record, error)
	ActiveCount() int
}

// Settings is the live scheduler settings holder.
type Settings interface {
	Settings() scheduler.Settings
	Apply(scheduler.Patch) (scheduler.Settings, error)
}

// Options configures a Server.
type Options struct {
	Progress         Progress
	Jobs             Jobs
	Engine           Engine
	Settings         Settings
	Token            string
	DefaultOutputDir string
	DatabasePath     string
	KeepAlive        time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
}

// Server is the daemon HTTP API.
type Server struct {
	progress         Progress
	jobs             Jobs
	engine           Engine
	settings         Settings
	defaultOutputDir string
	databasePath     string
	keepAlive        time.Duration
	logger           *slog.Logger
	now              func() time.Time
	startedAt        time.Time

	router   chi.Router
	listener net.Listener
	server   *http.Server
}

// New builds the router. Progress, Jobs, Engine and Settings are required.
func New(opts Options) (*Server, error) {
	if opts.Progress == nil || opts.Jobs == nil || opts.Engine == nil || opts.Settings == nil {
		return nil, errors.New("httpapi: progress, jobs, engine and settings are required")
	}
	s := &Server{
		progress:         opts.Progress,
		jobs:             opts.Jobs,
		engine:           opts.Engine,
		settings:         opts.Settings,
		defaultOutputDir: strings.TrimSpace(opts.DefaultOutputDir),
		databasePath:     opts.DatabasePath,
		keepAlive:        opts.KeepAlive,
		logger:           opts.Logger,
		now:              opts.Now,
	}
	if s.keepAlive <= 0 {
		s.keepAlive = DefaultKeepAlive
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = logging.NewComponentLogger(s.logger, "api-server")
	if s.now == nil {
		s.now = time.Now
	}
	s.startedAt = s.now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.correlate)
	r.Use(middleware.Recoverer)
	r.Use(requireToken(strings.TrimSpace(opts.Token)))

	r.Get("/api/status", s.handleStatus)
	r.Route("/api/scheduler", func(r chi.Router) {
		r.Get("/", s.handleGetScheduler)
		r.Patch("/", s.handlePatchScheduler)
	})
	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/", s.handleSubmit)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleJob)
			r.Get("/events", s.handleEvents)
			r.Get("/output", s.handleOutput)
			r.Post("/cancel", s.handleCancel)
			r.Post("/retry", s.handleRetry)
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
	return s, nil
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on bind and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context, bind string) error {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	// WriteTimeout stays zero: the progress feed is long-lived.
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed",
				logging.Error(err),
				logging.Hint("check the bind address and restart the daemon"),
			)
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
		_ = s.server.Close()
	}
}

func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
