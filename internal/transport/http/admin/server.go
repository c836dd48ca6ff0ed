// Package adminhttp exposes a read-only HTTP view of the engine: active and
// closed positions, per-symbol lifecycle state and strategy performance.
package adminhttp

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quanta/internal/journal"
	"quanta/internal/logger"
	"quanta/internal/portfolio"
)

// Server serves the admin API.
type Server struct {
	manager *portfolio.Manager
	journal *journal.Store
	srv     *http.Server
}

// New builds the server. journal may be nil.
func New(manager *portfolio.Manager, jr *journal.Store, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		manager: manager,
		journal: jr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := engine.Group("/api")
	api.GET("/positions", s.handleActivePositions)
	api.GET("/positions/closed", s.handleClosedPositions)
	api.GET("/state/:symbol", s.handleState)
	api.GET("/performance/:strategy", s.handlePerformance)
	api.GET("/journal", s.handleJournal)
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		logger.Infof("admin http listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("admin http server failed: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleActivePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.manager.Store().ActiveSnapshot()})
}

func (s *Server) handleClosedPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.manager.Store().ClosedSnapshot()})
}

func (s *Server) handleState(c *gin.Context) {
	symbol := c.Param("symbol")
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"state":  s.manager.StateOf(symbol).String(),
	})
}

func (s *Server) handlePerformance(c *gin.Context) {
	strategy := c.Param("strategy")
	c.JSON(http.StatusOK, s.manager.PerformanceFor(strategy))
}

func (s *Server) handleJournal(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
