// Package server exposes the HTTP API for corpusd.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/indexer"
	"github.com/fyrsmithlabs/corpusd/internal/search"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Searcher answers search requests.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]search.Match, error)
}

// Indexer runs indexing passes.
type Indexer interface {
	Run(ctx context.Context, opts indexer.Options) (indexer.Stats, error)
	Rebuilding() bool
}

// StoreInspector reports vector store state and statistics.
type StoreInspector interface {
	State() vectorstore.State
	Acquire(ctx context.Context) (*vectorstore.Handle, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for corpusd.
type Server struct {
	echo     *echo.Echo
	searcher Searcher
	indexer  Indexer
	store    StoreInspector
	tracker  *tracker.Tracker
	registry *prometheus.Registry
	logger   *zap.Logger
	config   *Config

	// indexing guards the background pass goroutine: one HTTP-triggered
	// pass at a time, later requests get 409.
	indexing atomic.Bool
	baseCtx  context.Context
}

// New creates the HTTP server. baseCtx bounds background passes started
// by POST /api/v1/index; cancelling it stops them.
func New(baseCtx context.Context, searcher Searcher, idx Indexer, store StoreInspector, track *tracker.Tracker, registry *prometheus.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if searcher == nil || idx == nil || store == nil {
		return nil, fmt.Errorf("searcher, indexer and store are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8642}
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		searcher: searcher,
		indexer:  idx,
		store:    store,
		tracker:  track,
		registry: registry,
		logger:   logger,
		config:   cfg,
		baseCtx:  baseCtx,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/index", s.handleIndex)
	v1.GET("/stats", s.handleStats)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	StoreState string `json:"store_state"`
	Indexing   bool   `json:"indexing"`
}

func (s *Server) handleHealth(c echo.Context) error {
	state := s.store.State()
	resp := HealthResponse{
		Status:     "ok",
		StoreState: state.String(),
		Indexing:   s.indexing.Load() || s.indexer.Rebuilding(),
	}
	if state == vectorstore.StateCorrupted {
		resp.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query          string            `json:"query"`
	Tenant         string            `json:"tenant"`
	Filters        map[string]string `json:"filters,omitempty"`
	MaxResults     int               `json:"max_results,omitempty"`
	ScoreThreshold *float32          `json:"score_threshold,omitempty"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Matches []search.Match `json:"matches"`
	Count   int            `json:"count"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	// A full rebuild holds the store quiesced; searching would race the
	// reset, so reject up front instead of surfacing a store error.
	if s.indexer.Rebuilding() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "full rebuild in progress")
	}

	matches, err := s.searcher.Search(c.Request().Context(), search.Request{
		Query:      req.Query,
		Tenant:     req.Tenant,
		Filters:    req.Filters,
		Limit:      req.MaxResults,
		ScoreFloor: req.ScoreThreshold,
	})
	if err != nil {
		return searchHTTPError(err)
	}

	if matches == nil {
		matches = []search.Match{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Matches: matches, Count: len(matches)})
}

// searchHTTPError maps engine errors to HTTP status codes. Client
// mistakes are 400, infrastructure outages are 503, everything else is
// an opaque 500.
func searchHTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, vectorstore.ErrMissingTenant),
		errors.Is(err, vectorstore.ErrInvalidTenant),
		errors.Is(err, vectorstore.ErrTenantFilterInUserFilters):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, embeddings.ErrUnavailable),
		errors.Is(err, vectorstore.ErrStoreBusy),
		errors.Is(err, vectorstore.ErrStoreCorrupted):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
}

// IndexRequest is the request body for POST /api/v1/index.
type IndexRequest struct {
	// Mode is "incremental" (default) or "full".
	Mode  string `json:"mode,omitempty"`
	Scope string `json:"scope,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// IndexResponse is the response body for POST /api/v1/index.
type IndexResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

func (s *Server) handleIndex(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid index request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var mode indexer.Mode
	switch req.Mode {
	case "", "incremental":
		mode = indexer.ModeIncremental
	case "full":
		mode = indexer.ModeFull
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unknown mode %q, want incremental or full", req.Mode))
	}

	if s.indexer.Rebuilding() {
		return c.JSON(http.StatusConflict, IndexResponse{Status: "rejected", Mode: req.Mode})
	}
	if !s.indexing.CompareAndSwap(false, true) {
		return c.JSON(http.StatusConflict, IndexResponse{Status: "rejected", Mode: req.Mode})
	}

	opts := indexer.Options{Mode: mode, Scope: req.Scope, Force: req.Force}
	go func() {
		defer s.indexing.Store(false)
		stats, err := s.indexer.Run(s.baseCtx, opts)
		if err != nil {
			s.logger.Warn("http-triggered pass failed", zap.Error(err))
			return
		}
		s.logger.Info("http-triggered pass finished",
			zap.Int("indexed", stats.Indexed),
			zap.Int("failed", stats.Failed),
			zap.Int("removed", stats.Removed))
	}()

	modeName := "incremental"
	if mode == indexer.ModeFull {
		modeName = "full"
	}
	return c.JSON(http.StatusAccepted, IndexResponse{Status: "started", Mode: modeName})
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Tracker tracker.Stats           `json:"tracker"`
	Store   *vectorstore.StoreStats `json:"store,omitempty"`
}

func (s *Server) handleStats(c echo.Context) error {
	resp := StatsResponse{}
	if s.tracker != nil {
		resp.Tracker = s.tracker.Stats()
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if h, err := s.store.Acquire(ctx); err == nil {
		if stats, err := h.Stats(ctx); err == nil {
			resp.Store = &stats
		}
		h.Release()
	}

	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
