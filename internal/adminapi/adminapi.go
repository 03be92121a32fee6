// Package adminapi wires the orchestrator, dispatcher, and metrics exporter
// behind a thin gin surface: one route per operation named in the engine's
// CLI/RPC-level surface, no generic resource routing.
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/logging"
	"github.com/fntelecomllc/bankreconciler/internal/metrics"
	"github.com/fntelecomllc/bankreconciler/internal/orchestrator"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	internalws "github.com/fntelecomllc/bankreconciler/internal/websocket"
)

var log = logging.For("adminapi")

// Server exposes the admin HTTP surface over gin.
type Server struct {
	cfg     *config.Config
	repo    store.Repository
	orch    *orchestrator.Orchestrator
	metrics *metrics.Exporter
	hub     *internalws.Manager
	engine  *gin.Engine
	http    *http.Server

	upgrader websocket.Upgrader
}

// New builds a Server wired to the engine's core collaborators. hub may be
// nil to disable the /ws route.
func New(cfg *config.Config, repo store.Repository, orch *orchestrator.Orchestrator, exp *metrics.Exporter, hub *internalws.Manager) *Server {
	s := &Server{
		cfg: cfg, repo: repo, orch: orch, metrics: exp, hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine = s.buildRouter()
	return s
}

// Engine returns the underlying gin engine, e.g. for httptest servers.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run starts the HTTP server on cfg.AdminListenAddr, blocking until it is
// shut down or fails to start. It returns nil on a clean Shutdown.
func (s *Server) Run() error {
	s.http = &http.Server{Addr: s.cfg.AdminListenAddr, Handler: s.engine}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight requests
// to complete until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.POST("/trigger-cycle", s.handleTriggerCycle)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", s.handleMetrics)
	r.POST("/start", s.handleStart)
	r.POST("/stop", s.handleStop)
	r.POST("/rematch-email", s.handleRematchEmail)
	r.POST("/cleanup-old-audits", s.handleCleanupOldAudits)

	if s.metrics != nil {
		r.GET("/prometheus", gin.WrapH(s.metrics.Handler()))
	}

	if s.hub != nil {
		r.GET("/ws", s.handleWebSocket)
	}

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		log.Info("request", "admin request handled", logging.Fields{
			"path": c.Request.URL.Path, "status": c.Writer.Status(),
			"durationMs": time.Since(started).Milliseconds(),
		})
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("ws_upgrade", "websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}
	internalws.NewClient(s.hub, conn)
}
