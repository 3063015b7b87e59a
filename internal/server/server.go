package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/config"
	"github.com/user/examslots/internal/model"
	"github.com/user/examslots/internal/reconcile"
	"github.com/user/examslots/internal/store"
)

// CycleRunner runs a scrape cycle unless one is already in progress
type CycleRunner interface {
	TryRun(ctx context.Context, trigger string) (reconcile.Summary, error)
}

// Confirmer sends the subscription confirmation email
type Confirmer interface {
	SendConfirmation(ctx context.Context, sub *model.Subscription) error
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Uptime   string `json:"uptime"`
}

// Server serves the public API, health checks and metrics
type Server struct {
	store     store.Store
	cycles    CycleRunner
	confirmer Confirmer
	config    *config.ServerConfig
	router    *gin.Engine
	server    *http.Server
	startTime time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(st store.Store, cycles CycleRunner, confirmer Confirmer, cfg *config.ServerConfig) *Server {
	registerValidators()

	s := &Server{
		store:     st,
		cycles:    cycles,
		confirmer: confirmer,
		config:    cfg,
		router:    gin.New(),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		api.POST("/trigger-scrape", s.requireSecret(), s.handleTriggerScrape)
		api.GET("/slots", s.handleListSlots)
		api.GET("/slots/export", s.handleExportSlots)

		api.POST("/subscribe", s.handleSubscribe)
		api.GET("/unsubscribe", s.handleUnsubscribe)

		api.GET("/questions", s.handleListQuestions)
		api.POST("/questions", s.handleCreateQuestion)
		api.POST("/questions/:id/vote", s.handleVote)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the specified port
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // a triggered cycle can run for minutes
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Int("port", port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth returns status, database connectivity and uptime
func (s *Server) handleHealth(c *gin.Context) {
	dbStatus := "healthy"
	if err := s.store.Ping(c.Request.Context()); err != nil {
		dbStatus = fmt.Sprintf("unhealthy: %v", err)
	}

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "healthy" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:   status,
		Database: dbStatus,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	})
}

// GetUptime returns the server uptime
func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}
