// Package server exposes the scheduler over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cpuguy83/calslot/internal/config"
	"github.com/cpuguy83/calslot/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// Server serves the scheduling API.
type Server struct {
	sched  *scheduler.Scheduler
	addr   string
	engine *gin.Engine
}

// New builds the router. A rate limit of zero or less disables limiting.
func New(sched *scheduler.Scheduler, cfg config.ServerConfig) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	var rl *rateLimiter
	if cfg.RateLimit > 0 {
		rl = newRateLimiter(cfg.RateLimit, cfg.Burst)
	}

	s := &Server{sched: sched, addr: cfg.Addr, engine: engine}

	engine.GET("/healthz", s.health)

	v1 := engine.Group("/v1")
	v1.Use(rateLimit(rl))
	{
		v1.POST("/availability", s.checkAvailability)
		v1.POST("/meetings", s.scheduleMeeting)
		v1.GET("/events", s.listEvents)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
