package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-investigator/internal/audit"
	"github.com/kubilitics/kubilitics-investigator/internal/config"
	"github.com/kubilitics/kubilitics-investigator/internal/db"
	"github.com/kubilitics/kubilitics-investigator/internal/middleware"
	"github.com/kubilitics/kubilitics-investigator/internal/reasoning/engine"
)

// Deps are the components the server exposes. Engine and Store are required.
type Deps struct {
	Engine engine.Engine
	Store  db.Store
	Audit  audit.Logger
	Logger *zap.Logger
}

// Server serves the investigation API over HTTP and gRPC health.
type Server struct {
	config *config.Config

	engine   engine.Engine
	store    db.Store
	auditLog audit.Logger
	logger   *zap.Logger
	limiter  *middleware.RateLimiter

	// HTTP server
	httpServer *http.Server
	grpc       *healthServer

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a new investigator server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Engine == nil || deps.Store == nil {
		return nil, fmt.Errorf("engine and store are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNopLogger()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		engine:   deps.Engine,
		store:    deps.Store,
		auditLog: deps.Audit,
		logger:   deps.Logger,
		limiter:  middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.grpc = newHealthServer(s.logger)
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/investigations", s.handleCreateInvestigation)
	mux.HandleFunc("GET /api/v1/investigations", s.handleListInvestigations)
	mux.HandleFunc("GET /api/v1/investigations/{id}", s.handleGetInvestigation)
	mux.HandleFunc("POST /api/v1/investigations/{id}/turns", s.limiter.Middleware(s.handleTurn))

	mux.HandleFunc("GET /ws/investigations/{id}", s.handleInvestigationStream)
	return mux
}

// Start starts the HTTP and gRPC listeners.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.setRunning(false)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server starting", zap.String("address", addr))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	if s.config.Server.GRPCPort > 0 {
		if err := s.grpc.start(s.config.Server.GRPCPort, &s.wg); err != nil {
			_ = s.httpServer.Close()
			s.setRunning(false)
			return err
		}
	}

	// Report SERVING only once the store answers.
	pingCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.store.Ping(pingCtx); err != nil {
		s.logger.Warn("state store not reachable at startup", zap.Error(err))
	} else {
		s.grpc.setServing(true)
	}

	_ = s.auditLog.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithDescription("Investigator server started").
		WithMetadata("port", s.config.Server.Port).
		WithMetadata("grpc_port", s.config.Server.GRPCPort).
		WithMetadata("database", s.store.Dialect()))
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping investigator server")
	s.grpc.setServing(false)

	// WebSocket handlers exit when their subscriber channels close.
	s.engine.Close()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("error shutting down HTTP server", zap.Error(err))
		}
	}
	s.grpc.stop()
	s.limiter.Stop()

	s.cancel()
	s.wg.Wait()

	_ = s.auditLog.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
		WithDescription("Investigator server stopped"))
	s.logger.Info("investigator server stopped")
	return nil
}

// Wait blocks until the server is stopped
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// handleHealth reports liveness plus the state store's reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{
		"status":    "healthy",
		"database":  s.store.Dialect(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.store.Ping(ctx); err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	if v, err := s.store.SchemaVersion(ctx); err == nil {
		body["schema_version"] = v
	}
	writeJSON(w, http.StatusOK, body)
}
