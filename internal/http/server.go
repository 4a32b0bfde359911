// Package http exposes chat, knowledge search, record hooks and collection
// administration over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lorekeeper/internal/chat"
	"github.com/fyrsmithlabs/lorekeeper/internal/logging"
	"github.com/fyrsmithlabs/lorekeeper/internal/prompt"
	"github.com/fyrsmithlabs/lorekeeper/internal/records"
	"github.com/fyrsmithlabs/lorekeeper/internal/retrieval"
	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

// ChatHandler is implemented by *chat.Orchestrator.
type ChatHandler interface {
	HandleTurn(ctx context.Context, tenantID, message string, history []prompt.Turn) (*chat.Result, error)
}

// KnowledgeSearcher is implemented by *retrieval.Retriever.
type KnowledgeSearcher interface {
	Retrieve(ctx context.Context, query, namespace string, limit int, threshold float64) []retrieval.KnowledgeMatch
}

// RecordHooks is implemented by *records.Service.
type RecordHooks interface {
	OnRecordCreated(ctx context.Context, r records.Record) vectorstore.WriteResult
	OnRecordUpdated(ctx context.Context, r records.Record) vectorstore.WriteResult
	OnRecordDeleted(ctx context.Context, r records.Record) error
}

// CollectionAdmin is implemented by *vectorstore.CollectionManager.
type CollectionAdmin interface {
	Config() vectorstore.CollectionConfig
	EnsureCollection(ctx context.Context, namespace string, dimension int, metric vectorstore.Metric) error
	CheckCollection(ctx context.Context, namespace string, expectedDimension int) error
	PrepareCollection(ctx context.Context, namespace string) error
	DropCollection(ctx context.Context, namespace string) error
	Info(ctx context.Context, namespace string) (*vectorstore.CollectionInfo, error)
}

// HealthCheck reports a dependency's health; nil means healthy.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the routes. Every field is required except
// Checks.
type Deps struct {
	Chat        ChatHandler
	Knowledge   KnowledgeSearcher
	Records     RecordHooks
	Collections CollectionAdmin
	Checks      map[string]HealthCheck
}

func (d Deps) validate() error {
	switch {
	case d.Chat == nil:
		return errors.New("chat handler is required")
	case d.Knowledge == nil:
		return errors.New("knowledge searcher is required")
	case d.Records == nil:
		return errors.New("record hooks are required")
	case d.Collections == nil:
		return errors.New("collection admin is required")
	}
	return nil
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// HealthTimeout bounds each dependency check.
	HealthTimeout time.Duration
}

// Server serves the lorekeeper HTTP API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a server with Recover, RequestID, request logging and
// OTEL metrics middleware.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191}
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 2 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.Named("http"),
		config: cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(NewHTTPMetrics(logger.Underlying()).MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request ID on the context and logs each request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), requestID)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tenants/:tenant/chat", s.handleChat)

	ns := v1.Group("/namespaces/:namespace")
	ns.POST("/search", s.handleSearch)
	ns.PUT("/records/:id", s.handlePutRecord)
	ns.DELETE("/records/:id", s.handleDeleteRecord)
	ns.PUT("/collection", s.handlePutCollection)
	ns.GET("/collection", s.handleGetCollection)
	ns.DELETE("/collection", s.handleDeleteCollection)
}

// ServeHTTP lets the server be mounted or driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
