// Package api exposes the engine's operator surface over HTTP: goal intake,
// progress and history reads, kill/restart controls, and standalone safety
// checks.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/planloom/planloom/pkg/events"
	"github.com/planloom/planloom/pkg/orchestrator"
	"github.com/planloom/planloom/pkg/safety"
	"github.com/planloom/planloom/pkg/store"
)

// HealthChecker reports backend health. The database client satisfies it;
// tests pass nil for an always-healthy server.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server wires the HTTP layer to the engine.
type Server struct {
	store    store.Store
	orch     *orchestrator.Orchestrator
	pipeline *safety.Pipeline
	log      events.EventLog
	health   HealthChecker
	logger   *slog.Logger

	http *http.Server
}

// NewServer builds the API server. A nil logger falls back to slog.Default.
func NewServer(
	st store.Store,
	orch *orchestrator.Orchestrator,
	pipeline *safety.Pipeline,
	log events.EventLog,
	health HealthChecker,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    st,
		orch:     orch,
		pipeline: pipeline,
		log:      log,
		health:   health,
		logger:   logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/healthz", s.healthHandler)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/goals", s.createGoalHandler)
		v1.GET("/goals", s.listGoalsHandler)
		v1.GET("/goals/:id", s.getGoalHandler)
		v1.GET("/goals/:id/progress", s.goalProgressHandler)
		v1.GET("/goals/:id/events", s.goalEventsHandler)
		v1.GET("/goals/:id/priorities", s.goalPrioritiesHandler)
		v1.POST("/goals/:id/resume", s.resumeGoalHandler)

		v1.GET("/tasks/:id", s.getTaskHandler)
		v1.POST("/tasks/:id/kill", s.killTaskHandler)
		v1.POST("/tasks/:id/restart", s.restartTaskHandler)

		v1.POST("/safety/check-prompt", s.checkPromptHandler)
		v1.POST("/safety/check-output", s.checkOutputHandler)
	}
	return engine
}

// Start begins serving on addr. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.health.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
