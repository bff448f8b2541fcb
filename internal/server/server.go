package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/chore"
	"github.com/averros/scanstage/internal/config"
	"github.com/averros/scanstage/internal/home"
	"github.com/averros/scanstage/internal/jobs"
	"github.com/averros/scanstage/internal/papers"
	"github.com/averros/scanstage/internal/push"
	"github.com/averros/scanstage/internal/qr"
	"github.com/averros/scanstage/internal/server/endpoints"
	"github.com/averros/scanstage/internal/store"
	"github.com/averros/scanstage/internal/svcctx"
)

// Server is the main scanstage HTTP server. It owns the SQLite store and
// the background job machinery, opening them on start and closing them on
// shutdown.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	db         *store.DB
	spec       *assessment.Spec
	pool       *jobs.Pool
	jobManager *jobs.Manager

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8415)
	Port string
	// Home is the scanstage home directory
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8415"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  5 * time.Minute, // large PDF uploads
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the store, builds the job machinery, and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	cfg := s.configMgr.Get()

	db, err := store.Open(s.home.DatabasePath())
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	spec, err := assessment.Load(cfg.Assessment.SpecPath)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to load assessment spec: %w", err)
	}
	s.spec = spec
	s.logger.Info("assessment spec loaded", "name", spec.Name, "papers", spec.Papers)

	if err := papers.Populate(ctx, db, spec, s.logger); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to populate papers: %w", err)
	}

	chores := chore.NewTracker(db, s.logger)
	s.pool = jobs.NewPool(jobs.PoolConfig{
		Name:    "bundle-workers",
		Workers: cfg.Split.Workers,
		Logger:  s.logger,
	})
	jobs.RegisterSplitHandler(s.pool)
	jobs.RegisterQRHandler(s.pool, qr.NewZbarDecoder(
		cfg.QR.DecoderBin,
		time.Duration(cfg.QR.TimeoutSeconds)*time.Second,
	))
	// Start blocks until ctx is cancelled; the workers run for the life
	// of the server.
	go s.pool.Start(ctx)

	s.jobManager = jobs.NewManager(ctx, chores, s.logger)
	pipeline := &jobs.Pipeline{
		DB:        db,
		Home:      s.home,
		Chores:    chores,
		Pool:      s.pool,
		Manager:   s.jobManager,
		Spec:      spec,
		Logger:    s.logger,
		Chunks:    cfg.Split.Chunks,
		RenderDPI: cfg.Split.RenderDPI,
	}

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		DB:         db,
		Config:     s.configMgr,
		Home:       s.home,
		Spec:       spec,
		Pool:       s.pool,
		JobManager: s.jobManager,
		Pipeline:   pipeline,
		Chores:     chores,
		Bundles:    bundle.NewService(db, s.home, chores, s.logger),
		Pusher:     push.New(db, spec, s.logger),
		Logger:     s.logger,
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server, the job
// machinery, and the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.jobManager != nil {
		s.jobManager.Wait()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the endpoint registry.
func (s *Server) Registry() *api.Registry {
	return s.endpointRegistry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or job manager aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.db == nil || s.jobManager == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
