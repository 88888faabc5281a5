// Package server exposes the trustify operations over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/trustification/trustify/engine/infra/monitoring"
	"github.com/trustification/trustify/engine/infra/monitoring/middleware"
	"github.com/trustification/trustify/engine/system"
	"github.com/trustification/trustify/pkg/config"
	"github.com/trustification/trustify/pkg/logger"
)

const (
	apiPrefix       = "/api/v1"
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg        *config.ServerConfig
	system     *system.System
	monitoring *monitoring.Service
	router     *gin.Engine
}

// NewServer wires the HTTP routes to sys. mon may be nil.
func NewServer(cfg *config.ServerConfig, sys *system.System, mon *monitoring.Service) *Server {
	if cfg == nil {
		cfg = &config.Default().Server
	}
	s := &Server{cfg: cfg, system: sys, monitoring: mon}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		router.Use(middleware.HTTPMetrics(s.monitoring.Meter()))
		router.GET(s.monitoring.Path(), gin.WrapH(s.monitoring.ExporterHandler()))
	}
	h := &handlers{system: s.system}
	router.GET("/healthz", h.health)
	registerRoutes(router.Group(apiPrefix), h)
	return router
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Address is host:port the server listens on.
func (s *Server) Address() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	timeout := s.cfg.Timeout
	srv := &http.Server{
		Addr:              s.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Debug("Received shutdown signal, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("Server shutdown completed successfully")
	return nil
}
