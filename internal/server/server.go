// Package server exposes a Workbench over HTTP for the browser form.
//
// JSON endpoints live under /api. /ws streams template changes and run
// progress to connected clients, and /metrics serves Prometheus metrics
// when configured.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/session"
)

// ShutdownTimeout bounds graceful shutdown in Serve.
const ShutdownTimeout = 5 * time.Second

// Templates lists template names.
type Templates interface {
	List() ([]string, error)
}

// EventStream follows runs on the backend.
type EventStream interface {
	session.Tracker
	Close() error
}

// ImageUploader stores an input image on the backend.
type ImageUploader interface {
	UploadImageFrom(ctx context.Context, filename string, r io.Reader) (*comfy.Upload, error)
}

// EventDialer opens an EventStream. It is called before each run is
// queued so that no event for the run is missed.
type EventDialer func(ctx context.Context) (EventStream, error)

// Server routes HTTP requests to a Workbench.
type Server struct {
	wb        *session.Workbench
	templates Templates
	dial      EventDialer
	uploader  ImageUploader
	metrics   http.Handler
	health    func(context.Context) error
	hub       *hub
	logger    *slog.Logger

	base    context.Context
	running sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithEventDialer enables run tracking after submit.
func WithEventDialer(d EventDialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithImageUploader enables POST /api/images/:param.
func WithImageUploader(u ImageUploader) Option {
	return func(s *Server) { s.uploader = u }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck makes /health report 503 while check fails.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server for wb.
func New(wb *session.Workbench, templates Templates, opts ...Option) *Server {
	s := &Server{
		wb:        wb,
		templates: templates,
		logger:    slog.Default(),
		base:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)
	return s
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		if s.health != nil {
			if err := s.health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	router.GET("/ws", s.handleEvents)

	api := router.Group("/api")
	{
		api.GET("/templates", s.listTemplates)
		api.POST("/templates/:name/load", s.loadTemplate)
		api.GET("/view", s.view)
		api.PUT("/values/:param", s.setValue)
		api.POST("/images/:param", s.uploadImage)
		api.PUT("/randomize/:param", s.setRandomize)
		api.PUT("/bypass/:param", s.setBypass)
		api.POST("/compile", s.compile)
		api.POST("/submit", s.submit)

		presets := api.Group("/presets")
		{
			presets.GET("", s.listPresets)
			presets.POST("", s.savePreset)
			presets.POST("/:name/apply", s.applyPreset)
			presets.DELETE("/:name", s.deletePreset)
		}

		api.GET("/history", s.history)
		api.GET("/history/:run_id", s.historyEntry)
	}
	return router
}

// Serve listens on addr until ctx is cancelled, then shuts down and waits
// for tracked runs to stop.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.hub.closeAll()
	s.running.Wait()
	s.logger.Info("server stopped")
	return err
}

// TemplatesChanged forwards a template directory change to the workbench
// and to connected clients.
func (s *Server) TemplatesChanged(names []string) {
	s.wb.TemplatesChanged(names)
	s.hub.broadcast(Event{Type: EventTemplatesChanged, Templates: names})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
