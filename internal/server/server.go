// Package server exposes the registry, attestation and burner contracts
// over HTTP and streams committed logs over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ssd-technologies/agentpulse/internal/agent"
	"github.com/ssd-technologies/agentpulse/internal/config"
	"github.com/ssd-technologies/agentpulse/internal/indexer"
	"github.com/ssd-technologies/agentpulse/internal/node"
	"github.com/ssd-technologies/agentpulse/internal/ratelimit"
	"github.com/ssd-technologies/agentpulse/internal/storage"
)

// Version is reported by the health endpoint.
var Version = "dev"

// maxBodyBytes caps signed transaction bodies.
const maxBodyBytes = 64 << 10

// Server is the HTTP API of one node.
type Server struct {
	cfg      config.ServerConfig
	node     *node.Node
	ix       *indexer.Indexer
	db       *storage.DB
	logger   *zap.Logger
	limiter  *ratelimit.Limiter
	verifier *agent.Verifier
	router   *gin.Engine

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a Server with all routes registered.
func New(cfg config.ServerConfig, n *node.Node, ix *indexer.Indexer, db *storage.DB, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 256
	}
	s := &Server{
		cfg:      cfg,
		node:     n,
		ix:       ix,
		db:       db,
		logger:   logger,
		limiter:  ratelimit.New(cfg.RateLimit, cfg.RateWindow),
		verifier: agent.NewVerifier(cfg.AuthWindow),
		closing:  make(chan struct{}),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := gin.New()
	r.Use(s.recovery(), s.requestID(), s.accessLog(), s.rateLimit())

	r.GET("/api/health", s.handleHealth)

	v2 := r.Group("/api/v2")
	v2.GET("/registry", s.handleRegistry)

	a := v2.Group("/agent/:address")
	a.GET("/alive", s.handleAlive)
	a.GET("/reliability", s.handleReliability)
	a.GET("/stake", s.handleStake)
	a.GET("/attestations", s.handleAttestations)

	tx := v2.Group("/tx", s.signed())
	tx.POST("/approve", s.handleApprove)
	tx.POST("/pulse", s.handlePulse)
	tx.POST("/stake", s.handleStakeTx)
	tx.POST("/unstake", s.handleUnstake)
	tx.POST("/attest", s.handleAttest)
	tx.POST("/burn", s.handleBurn)
	s.adminRoutes(tx.Group("/admin"))

	v2.GET("/events/ws", s.handleStream)

	s.router = r
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
// The limiter sweep runs for the lifetime of the server.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.limiter.Run(sweepCtx, time.Minute)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close ends open event streams. Hijacked WebSocket connections are not
// covered by http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "agentpulse",
		"version": Version,
		"height":  s.node.Chain.Height(),
		"seq":     s.node.Chain.LastSeq(),
	})
}

// writeError writes a JSON error response with the given status code.
func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
