// Package api exposes the orchestrator's control surface
// (Start/List/Status/Logs/Stop/Kill/Resume/Purge) over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshrun/meshrun/pkg/orchestrator"
)

// Server wraps an *orchestrator.Orchestrator with an HTTP control
// surface and a Prometheus metrics endpoint.
type Server struct {
	engine *gin.Engine
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewServer builds the gin engine and registers every route.
func NewServer(orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{engine: engine, orch: orch, logger: logger}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	clusters := engine.Group("/clusters")
	clusters.POST("", s.handleStart)
	clusters.GET("", s.handleList)
	clusters.GET("/:id", s.handleStatus)
	clusters.GET("/:id/logs", s.handleLogs)
	clusters.POST("/:id/stop", s.handleStop)
	clusters.POST("/:id/kill", s.handleKill)
	clusters.POST("/:id/resume", s.handleResume)
	clusters.DELETE("/:id", s.handlePurge)

	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Health())
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}
