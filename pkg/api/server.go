// Package api provides the qaflow REST API: projects, test cases, their
// attachments and runs, plus the relay of live run streams.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/qaflow/pkg/auth"
	"github.com/odvcencio/qaflow/pkg/bus"
	"github.com/odvcencio/qaflow/pkg/clone"
	"github.com/odvcencio/qaflow/pkg/config"
	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/storage"
	"github.com/odvcencio/qaflow/pkg/types"
	"github.com/odvcencio/qaflow/pkg/uploads"
)

// Executor starts runs on the browser-automation engine.
type Executor interface {
	Stream(ctx context.Context, def types.TestCaseDefinition) (io.ReadCloser, error)
}

// Server is the qaflow API server.
type Server struct {
	store    *storage.Store
	files    *uploads.Store
	tokens   *auth.TokenManager
	cloner   *clone.Service
	executor Executor
	eventBus bus.MessageBus
	prefix   string
	origins  map[string]bool
	logger   *slog.Logger

	heartbeat  time.Duration
	httpServer *http.Server
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Server config.ServerConfig

	Store  *storage.Store
	Files  *uploads.Store
	Tokens *auth.TokenManager

	// Executor runs tests (optional; run-test answers 503 without it)
	Executor Executor

	// EventBus backs GET /api/events (optional)
	EventBus      bus.MessageBus
	SubjectPrefix string

	Logger *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = config.DefaultBind
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = config.DefaultSubjectPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	origins := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		origins[o] = true
	}

	s := &Server{
		store:     cfg.Store,
		files:     cfg.Files,
		tokens:    cfg.Tokens,
		cloner:    clone.NewService(cfg.Store, cfg.Files, logger.With("component", "clone")),
		executor:  cfg.Executor,
		eventBus:  cfg.EventBus,
		prefix:    cfg.SubjectPrefix,
		origins:   origins,
		logger:    logger,
		heartbeat: 30 * time.Second,
	}

	readTimeout := cfg.Server.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// Zero by default: run streams last as long as the test does.
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.withLogging)
	router.Use(s.withCORS)

	router.Get("/healthz", s.handleHealthz)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Get("/{projectID}", s.handleGetProject)
			r.Get("/{projectID}/test-cases", s.handleListTestCases)
			r.Post("/{projectID}/test-cases", s.handleCreateTestCase)
		})
		r.Route("/test-cases/{testCaseID}", func(r chi.Router) {
			r.Get("/", s.handleGetTestCase)
			r.Put("/", s.handleUpdateTestCase)
			r.Post("/clone", s.handleCloneTestCase)
			r.Post("/run", s.handleSaveRun)
			r.Get("/runs", s.handleListRuns)
			r.Post("/files", s.handleUploadFile)
			r.Get("/files", s.handleListFiles)
			r.Get("/files/{fileID}", s.handleDownloadFile)
		})
		r.Post("/run-test", s.handleRunTest)
		r.Get("/events", s.handleEvents)
	})
	return router
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError answers with the status of err's code. Internal details are
// logged, never returned.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)
	status := apperrors.HTTPStatus(code)
	msg := http.StatusText(status)
	if appErr, ok := apperrors.As(err); ok {
		msg = appErr.Public()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
		if _, ok := apperrors.As(err); !ok {
			msg = "Internal server error"
		}
	}
	writeError(w, status, msg)
}
