// Package server exposes the read-only ops HTTP API for a running or
// finished task: health, task status, the rendered summary, and
// Prometheus metrics. It never mutates task state.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stagehand/internal/config"
	"github.com/fyrsmithlabs/stagehand/internal/logging"
	"github.com/fyrsmithlabs/stagehand/internal/state"
)

// Server serves the ops endpoints for one task's state store.
type Server struct {
	echo    *echo.Echo
	store   *state.Store
	logger  *logging.Logger
	cfg     config.ServerConfig
	metrics *metrics
}

// NewServer builds the ops server around an open state store.
func NewServer(store *state.Store, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	m := newMetrics()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			status := c.Response().Status
			m.requestsTotal.WithLabelValues(req.Method, c.Path(), strconv.Itoa(status)).Inc()
			m.requestDuration.WithLabelValues(req.Method, c.Path()).Observe(time.Since(start).Seconds())

			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		store:   store,
		logger:  logger,
		cfg:     cfg,
		metrics: m,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/summary", s.handleSummary)
	api.GET("/failure", s.handleFailure)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Task        string                          `json:"task"`
	Stats       state.Stats                     `json:"stats"`
	Stages      map[string]*state.StageRun      `json:"stages"`
	Sessions    map[string]*state.SessionRecord `json:"sessions,omitempty"`
	LastFailure *state.LastFailure              `json:"last_failure,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	snap := s.store.Snapshot()
	resp := StatusResponse{
		Task:     snap.Task,
		Stats:    snap.Stats,
		Stages:   snap.Stages,
		Sessions: snap.Sessions,
	}
	if lf, err := s.store.ReadLastFailure(); err == nil {
		resp.LastFailure = lf
	}
	s.metrics.observe(snap)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSummary(c echo.Context) error {
	raw, err := os.ReadFile(s.store.SummaryPath())
	if os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "no summary generated yet")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reading summary failed")
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", raw)
}

func (s *Server) handleFailure(c echo.Context) error {
	lf, err := s.store.ReadLastFailure()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reading last-failure record failed")
	}
	if lf == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no failure recorded")
	}
	return c.JSON(http.StatusOK, lf)
}

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "ops server starting", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "ops server shutting down")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// metrics holds the Prometheus instruments on a private registry so two
// servers in one process never collide.
type metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	paidCallsUsed   prometheus.Gauge
	stagesDone      prometheus.Gauge
	retries         prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagehand_http_requests_total",
			Help: "HTTP requests by method, endpoint, and status code.",
		}, []string{"method", "endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagehand_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by method and endpoint.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "endpoint"}),
		paidCallsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stagehand_paid_calls_used",
			Help: "Paid adapter calls charged against the task budget.",
		}),
		stagesDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stagehand_stages_done",
			Help: "Stages completed for the task.",
		}),
		retries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stagehand_retries_total",
			Help: "Automatic retries performed for the task.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.paidCallsUsed, m.stagesDone, m.retries)
	return m
}

// observe mirrors the task counters into the gauges.
func (m *metrics) observe(snap state.Data) {
	m.paidCallsUsed.Set(float64(snap.Stats.PaidCallsUsed))
	m.stagesDone.Set(float64(snap.Stats.StagesDone))
	m.retries.Set(float64(snap.Stats.Retries))
}
