// PICORadar daemon -- LAN position-sharing service for VR players.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/picoradar/picoradar/internal/broadcast"
	"github.com/picoradar/picoradar/internal/config"
	"github.com/picoradar/picoradar/internal/discovery"
	"github.com/picoradar/picoradar/internal/lockfile"
	radarmetrics "github.com/picoradar/picoradar/internal/metrics"
	"github.com/picoradar/picoradar/internal/registry"
	"github.com/picoradar/picoradar/internal/server"
	"github.com/picoradar/picoradar/internal/session"
	appversion "github.com/picoradar/picoradar/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags. An optional positional argument overrides the
	// service port from the config.
	configPath := flag.String("config", "", "path to configuration file (JSON or YAML)")
	pidfilePath := flag.String("pidfile", defaultPidfilePath(), "path to the single-instance pidfile")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("picoradar"))
		return 0
	}

	// 2. Load config.
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	if err := applyPortArg(cfg, flag.Args()); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid port argument",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Logging.Level))
	logger := newLoggerWithLevel(cfg.Logging, logLevel)

	logger.Info("picoradar starting",
		slog.String("version", appversion.Version),
		slog.String("addr", cfg.Server.Addr()),
		slog.Int("discovery_port", cfg.Discovery.UDPPort),
	)

	// 4. Single-instance guard. A stale pidfile from a crash is reclaimed;
	// a live holder makes this instance exit instead of fighting for ports.
	lock, err := lockfile.Acquire(*pidfilePath)
	if err != nil {
		logger.Error("another instance appears to be running",
			slog.String("pidfile", *pidfilePath),
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release pidfile", slog.String("error", err.Error()))
		}
	}()

	// 5. Run everything.
	if err := runService(cfg, logger, *configPath, logLevel); err != nil {
		logger.Error("picoradar exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("picoradar stopped")
	return 0
}

// defaultPidfilePath puts the pidfile in the system temp directory so the
// daemon runs without privileges.
func defaultPidfilePath() string {
	return filepath.Join(os.TempDir(), "picoradar.pid")
}

// applyPortArg overrides the service port from the first positional
// argument, if present.
func applyPortArg(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("parse port %q: %w", args[0], err)
	}
	cfg.Server.Port = port
	return config.Validate(cfg)
}

// runService wires the registry, sessions, broadcaster, discovery, and
// HTTP listener together and runs them under one errgroup with a
// signal-aware context.
func runService(cfg *config.Config, logger *slog.Logger, configPath string, logLevel *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	// Metrics.
	promReg := prometheus.NewRegistry()
	collector := radarmetrics.NewCollector(promReg)

	// Core state.
	reg := registry.New(logger)
	collector.RegisterPlayerGauge(promReg, reg.Count)

	hub := server.NewHub(logger)

	sessCfg := session.Config{
		Token:         cfg.Auth.Token,
		AuthTimeout:   cfg.Session.AuthTimeout(),
		QueueCapacity: cfg.Session.QueueCapacity,
	}
	srv := server.New(reg, hub, sessCfg, logger,
		server.WithSessionOptions(session.WithMetrics(collector)),
		server.WithGatherer(promReg),
	)

	caster := broadcast.New(reg, hub, cfg.Broadcast.Interval(), logger,
		broadcast.WithMetrics(collector),
	)

	responder, err := discovery.NewResponder(
		cfg.Discovery.UDPPort, cfg.Server.Port, cfg.Server.Host, logger)
	if err != nil {
		return fmt.Errorf("start discovery responder: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gCtx, cfg.Server.Addr())
	})
	g.Go(func() error {
		return caster.Run(gCtx)
	})
	g.Go(func() error {
		return responder.Run(gCtx)
	})
	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	// SIGHUP reload: log level only; everything else needs a restart.
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	// Operator console on stdin. Detached: a blocked stdin read cannot be
	// interrupted, so the goroutine simply dies with the process.
	go runConsole(stop, reg, hub, logger)

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		notifyStopping(logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run service: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Operator Console — stdin commands
// -------------------------------------------------------------------------

// runConsole reads commands from stdin: "status" prints a one-line summary,
// "quit"/"exit" begins graceful shutdown. EOF (e.g. daemonized with no tty)
// ends the console without affecting the service.
func runConsole(stop func(), reg *registry.Registry, hub *server.Hub, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch cmd := scanner.Text(); cmd {
		case "":
		case "status":
			fmt.Printf("players=%d sessions=%d version=%s\n",
				reg.Count(), hub.Len(), appversion.Version)
		case "quit", "exit":
			logger.Info("shutdown requested from console")
			stop()
			return
		case "help":
			fmt.Println("commands: status, quit, exit, help")
		default:
			fmt.Printf("unknown command %q (try help)\n", cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("console closed", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon is
// beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd.
// The interval is WatchdogSec/2 as recommended by the systemd documentation.
// If watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP and reloads the logging level from the
// config file. Blocks until the context is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

// reloadLogLevel loads a fresh configuration and applies the new log
// level. Errors are logged; the previous level stays in effect.
func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Logging.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LoggingConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
