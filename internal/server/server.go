// Package server exposes PICORadar over HTTP: the /ws websocket endpoint
// that carries the binary session protocol, plus a small JSON API for
// health, status, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/picoradar/picoradar/internal/registry"
	"github.com/picoradar/picoradar/internal/session"
	appversion "github.com/picoradar/picoradar/internal/version"
)

// drainTimeout bounds how long shutdown waits for sessions to flush.
const drainTimeout = 3 * time.Second

// shutdownTimeout bounds the HTTP listener shutdown.
const shutdownTimeout = 5 * time.Second

// Server is the Echo application fronting the registry and sessions.
type Server struct {
	echo     *echo.Echo
	hub      *Hub
	reg      *registry.Registry
	sessCfg  session.Config
	sessOpts []session.Option
	upgrader websocket.Upgrader
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	started  time.Time

	// baseCtx governs session lifetimes; set by Run before the listener
	// starts accepting.
	baseCtx context.Context
}

// Option customizes a Server.
type Option func(*Server)

// WithSessionOptions forwards options (such as metrics reporters) to every
// session the server spawns.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Server) {
		s.sessOpts = append(s.sessOpts, opts...)
	}
}

// WithGatherer sets the Prometheus gatherer backing /metrics. Defaults to
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New constructs an Echo app with the websocket and API routes bound to
// reg and hub. Sessions are created with sessCfg.
func New(reg *registry.Registry, hub *Hub, sessCfg session.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		hub:     hub,
		reg:     reg,
		sessCfg: sessCfg,
		upgrader: websocket.Upgrader{
			// LAN service; clients are headsets, not browsers.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		gatherer: prometheus.DefaultGatherer,
		logger:   logger.With("component", "server"),
		started:  time.Now(),
		baseCtx:  context.Background(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/api/v1/status", s.handleStatus)
	s.echo.GET("/api/v1/players", s.handlePlayers)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// Run starts the listener on addr and blocks until ctx cancellation or
// startup failure. On cancellation, live sessions are drained before the
// listener shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.baseCtx = ctx

	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.drainSessions()

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		s.logger.Warn("listener shutdown", "error", err)
	}
	<-errCh
	return nil
}

// drainSessions tells every live session to flush and waits for them,
// bounded by drainTimeout.
func (s *Server) drainSessions() {
	waits := s.hub.DrainAll(session.ReasonShutdown)
	if len(waits) == 0 {
		return
	}

	s.logger.Info("draining sessions", "count", len(waits))

	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()

	for _, done := range waits {
		select {
		case <-done:
		case <-deadline.C:
			s.logger.Warn("drain deadline exceeded, abandoning remaining sessions")
			return
		}
	}
}

// -------------------------------------------------------------------------
// Websocket
// -------------------------------------------------------------------------

// handleWebSocket upgrades one request and runs its session to completion.
func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}

	sess := session.New(session.NewWSConn(ws), s.sessCfg, s.reg, s.logger, s.sessOpts...)
	s.hub.add(sess)
	defer s.hub.remove(sess)

	sess.Run(s.baseCtx)
	return nil
}

// -------------------------------------------------------------------------
// JSON API
// -------------------------------------------------------------------------

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Players       int    `json:"players"`
	Sessions      int    `json:"sessions"`
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       appversion.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Players:       s.reg.Count(),
		Sessions:      s.hub.Len(),
	})
}

type playerResponse struct {
	PlayerID    string `json:"player_id"`
	SceneID     string `json:"scene_id"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type playersResponse struct {
	Players []playerResponse `json:"players"`
}

func (s *Server) handlePlayers(c echo.Context) error {
	snapshot := s.reg.Snapshot()

	players := make([]playerResponse, 0, len(snapshot))
	for _, entry := range snapshot {
		players = append(players, playerResponse{
			PlayerID:    entry.PlayerID,
			SceneID:     entry.Pose.SceneID,
			TimestampMS: entry.Pose.TimestampMS,
		})
	}

	return c.JSON(http.StatusOK, playersResponse{Players: players})
}
