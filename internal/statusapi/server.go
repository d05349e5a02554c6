// Package statusapi serves the local status and control endpoint for the
// agent. It is the presentation surface a tray or desktop UI polls: the
// latest monitor snapshot plus endpoints to request extensions or quit.
// It binds to loopback only and carries no authentication.
package statusapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"screentime/internal/agent"
)

const requestIDKey = "X-Request-ID"

// Controller is the subset of monitor operations the status API drives
type Controller interface {
	RequestExtension(minutes int)
	RequestQuit()
}

// Server exposes the local status API. It implements agent.Sink so the
// monitor can publish snapshots directly into it.
type Server struct {
	controller Controller
	logger     *slog.Logger

	mu          sync.RWMutex
	snapshot    agent.Snapshot
	hasSnapshot bool
	updatedAt   time.Time

	httpServer *http.Server
}

// NewServer creates a status server listening on addr
func NewServer(addr string, controller Controller, logger *slog.Logger) *Server {
	s := &Server{
		controller: controller,
		logger:     logger.With("component", "statusapi"),
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.newRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Publish stores the latest snapshot for /v1/status readers
func (s *Server) Publish(snapshot agent.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	s.hasSnapshot = true
	s.updatedAt = time.Now()
}

// Start runs the HTTP server (blocking). Returns nil on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("status API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestID())
	router.Use(recovery(s.logger))
	router.Use(logging(s.logger))

	router.GET("/health", s.getHealth)

	v1 := router.Group("/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.POST("/extension", s.postExtension)
		v1.POST("/quit", s.postQuit)
	}

	return router
}

// getHealth returns the health status of the agent
// GET /health
func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "screentime-agent",
	})
}

// getStatus returns the most recent monitor snapshot
// GET /v1/status
func (s *Server) getStatus(c *gin.Context) {
	s.mu.RLock()
	snapshot := s.snapshot
	ready := s.hasSnapshot
	updatedAt := s.updatedAt
	s.mu.RUnlock()

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No status available yet",
			"code":  "NOT_READY",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     snapshot,
		"updated_at": updatedAt.Format(time.RFC3339),
	})
}

// postExtension submits an extension request to the monitor
// POST /v1/extension
func (s *Server) postExtension(c *gin.Context) {
	var req struct {
		Minutes int `json:"minutes" binding:"required,gt=0,lte=480"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"code":    "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}

	s.controller.RequestExtension(req.Minutes)

	// Accepted, not created: the request is forwarded on the next loop
	// iteration and approval happens remotely
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "requested",
		"minutes": req.Minutes,
	})
}

// postQuit asks the monitor loop to exit
// POST /v1/quit
func (s *Server) postQuit(c *gin.Context) {
	s.controller.RequestQuit()
	c.JSON(http.StatusAccepted, gin.H{
		"status": "quitting",
	})
}

// requestID injects a unique request ID into each request context
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDKey)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(requestIDKey, id)
		c.Set(requestIDKey, id)
		c.Next()
	}
}

// recovery recovers from panics and logs the error
func recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					"request_id", c.GetString(requestIDKey),
					"error", err,
					"path", c.Request.URL.Path,
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
					"code":  "INTERNAL_ERROR",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// logging logs HTTP requests with structured fields
func logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP request",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}
