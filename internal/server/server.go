// Package server provides the HTTP API for shiori.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/gencache"
	"github.com/hyperjump/shiori/internal/wiki"
)

// Runner is the part of wiki.Pipeline the server uses.
type Runner interface {
	Run(ctx context.Context, repo string, opts wiki.RunOptions) (*wiki.Report, error)
	Status(repo string) (*wiki.Status, error)
	PagePaths(repo string) ([]string, error)
	ReadPage(repo, artifactPath string) (string, error)
}

// Server serves status, generated pages and run control for one repository.
type Server struct {
	runner Runner
	cache  *gencache.Cache
	repo   string
	config *config.Config
	logger *zap.Logger
	server *http.Server

	// baseCtx outlives requests so that background runs survive the request that started them.
	baseCtx context.Context
	cancel  context.CancelFunc

	runMu      sync.Mutex
	running    bool
	lastReport *wiki.Report
	lastError  string
	lastRunAt  time.Time
	runs       sync.WaitGroup
}

// NewServer creates a server with the given dependencies. cache may be nil.
func NewServer(
	runner Runner,
	cache *gencache.Cache,
	repo string,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:  runner,
		cache:   cache,
		repo:    repo,
		config:  cfg,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/pages", s.handlePagesList)
		r.Get("/pages/*", s.handlePage)
		r.Get("/run", s.handleRunStatus)
		r.Post("/run", s.handleRun)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/evict", s.handleCacheEvict)
		r.Delete("/cache", s.handleCacheClear)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.String("repo", s.repo))
	return s.server.ListenAndServe()
}

// Stop cancels background runs, waits for them and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.runs.Wait()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// TriggerRun starts an incremental run in the background. It reports false when a run is already
// in progress.
func (s *Server) TriggerRun(opts wiki.RunOptions) bool {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return false
	}
	s.running = true
	s.runs.Add(1)
	s.runMu.Unlock()

	go func() {
		defer s.runs.Done()
		s.execute(s.baseCtx, opts)
	}()
	return true
}

func (s *Server) execute(ctx context.Context, opts wiki.RunOptions) (*wiki.Report, error) {
	rep, err := s.runner.Run(ctx, s.repo, opts)
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.running = false
	s.lastRunAt = time.Now()
	if rep != nil {
		s.lastReport = rep
	}
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
		s.logger.Error("Run failed", zap.Error(err))
	}
	return rep, err
}
