// Package server provides the HTTP server with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"kumo-stream-go/pkg/config"
	"kumo-stream-go/pkg/logging"
	"kumo-stream-go/pkg/middleware"
)

// Server is the main HTTP server.
type Server struct {
	httpServer *http.Server
	cfg        config.ServerConfig
	log        *logging.Logger
	router     *chi.Mux
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a server with the standard middleware chain installed.
func New(cfg config.ServerConfig, log *logging.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS)

	return &Server{
		cfg:    cfg,
		log:    log.WithComponent("server"),
		router: router,
		stop:   make(chan struct{}),
	}
}

// Router returns the router for registering handlers.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start runs the server and blocks until SIGINT/SIGTERM or a listen error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-quit:
			s.log.Info("server shutting down...")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.WithError(err).Error("server shutdown error")
			}
		case <-s.stop:
		}
		close(done)
	}()

	s.log.Info("server starting", "port", s.cfg.Port, "base_url", s.cfg.BaseURL)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	s.log.Info("server stopped")
	return nil
}

// Shutdown stops the server without waiting for a signal.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
