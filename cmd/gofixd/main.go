// gofixd -- FIX session engine daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tradewire/gofix/internal/config"
	"github.com/tradewire/gofix/internal/engine"
	"github.com/tradewire/gofix/internal/fix"
	fixmetrics "github.com/tradewire/gofix/internal/metrics"
	"github.com/tradewire/gofix/internal/server"
	"github.com/tradewire/gofix/internal/settings"
	"github.com/tradewire/gofix/internal/transport"
	appversion "github.com/tradewire/gofix/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	settingsPath := flag.String("settings", "", "path to session settings file (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("gofixd"))
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}
	if *settingsPath != "" {
		cfg.Settings = *settingsPath
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("gofixd starting",
		slog.String("version", appversion.Version),
		slog.String("settings", cfg.Settings),
		slog.String("store", cfg.Store.Backend),
	)

	ss, err := settings.Load(cfg.Settings)
	if err != nil {
		logger.Error("failed to load session settings", slog.String("error", err.Error()))
		return 1
	}

	reg := prometheus.NewRegistry()
	collector := fixmetrics.NewCollector(reg)

	app := &loggingApplication{logger: logger}
	eng, err := engine.New(ss, app, storeFactory(cfg.Store), logger, collector)
	if err != nil {
		logger.Error("failed to build engine", slog.String("error", err.Error()))
		return 1
	}
	defer eng.Close()

	if err := runServers(cfg, ss, eng, reg, logger, logLevel, *configPath); err != nil {
		logger.Error("gofixd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gofixd stopped")
	return 0
}

// storeFactory selects the message store backend from the configuration.
func storeFactory(cfg config.StoreConfig) fix.MessageStoreFactory {
	switch cfg.Backend {
	case config.StoreFile:
		return fix.FileStoreFactory{Path: cfg.Path}
	case config.StoreSQL:
		return fix.NewSQLStoreFactory(cfg.DSN)
	default:
		return fix.MemoryStoreFactory{}
	}
}

// runServers wires the connection drivers, the admin and metrics HTTP
// servers, and the systemd integration into a signal-aware errgroup.
func runServers(
	cfg *config.Config,
	ss *settings.SessionSettings,
	eng *engine.Engine,
	reg *prometheus.Registry,
	logger *slog.Logger,
	logLevel *slog.LevelVar,
	configPath string,
) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	drivers, err := startDrivers(gCtx, cfg, ss, eng, logger)
	if err != nil {
		return err
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		adminSrv = server.NewHTTPServer(cfg.Admin.Addr, server.New(eng, logger))
		g.Go(func() error {
			logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
			return listenAndServe(gCtx, adminSrv, cfg.Admin.Addr)
		})
	}

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation, then drains the
	// sessions with a graceful Logout exchange before tearing servers down.
	g.Go(func() error {
		<-gCtx.Done()
		notifyStopping(logger)
		for _, d := range drivers {
			d.Stop(false)
		}
		return shutdownHTTP(gCtx, metricsSrv, adminSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// driver is the common surface of the acceptor, initiator, and reactor.
type driver interface {
	Start(ctx context.Context) error
	Stop(force bool)
}

// startDrivers builds and starts the connection drivers the settings call
// for: one acceptor (threaded or reactor flavor) when any session is an
// acceptor, one initiator when any session dials out.
func startDrivers(
	ctx context.Context,
	cfg *config.Config,
	ss *settings.SessionSettings,
	eng *engine.Engine,
	logger *slog.Logger,
) ([]driver, error) {
	listeners, dials, err := resolveEndpoints(ss)
	if err != nil {
		return nil, err
	}

	var drivers []driver
	if len(listeners) > 0 {
		var a driver
		if cfg.Reactor {
			a = transport.NewReactor(eng, listeners, logger)
		} else {
			a = transport.NewAcceptor(eng, listeners, logger)
		}
		if err := a.Start(ctx); err != nil {
			return nil, fmt.Errorf("start acceptor: %w", err)
		}
		drivers = append(drivers, a)
	}
	if len(dials) > 0 {
		i := transport.NewInitiator(eng, dials, logger)
		if err := i.Start(ctx); err != nil {
			stopAll(drivers)
			return nil, fmt.Errorf("start initiator: %w", err)
		}
		drivers = append(drivers, i)
	}
	return drivers, nil
}

// stopAll force-stops already started drivers after a startup failure.
func stopAll(drivers []driver) {
	for _, d := range drivers {
		d.Stop(true)
	}
}

// resolveEndpoints derives the listener and dial sets from the session
// settings: acceptors contribute unique listen ports, initiators contribute
// one dial target each.
func resolveEndpoints(ss *settings.SessionSettings) ([]transport.ListenerConfig, []transport.DialConfig, error) {
	seenPorts := make(map[int]struct{})
	var listeners []transport.ListenerConfig
	var dials []transport.DialConfig

	for _, id := range ss.SessionIDs() {
		d, _ := ss.Get(id)
		connType, err := d.GetString(settings.KeyConnectionType)
		if err != nil {
			return nil, nil, err
		}
		opts, err := socketOptions(d)
		if err != nil {
			return nil, nil, err
		}

		if connType == settings.ConnectionTypeAcceptor {
			port, err := d.GetInt(settings.KeySocketAcceptPort)
			if err != nil {
				return nil, nil, err
			}
			if _, dup := seenPorts[port]; dup {
				continue
			}
			seenPorts[port] = struct{}{}
			listeners = append(listeners, transport.ListenerConfig{
				Address: ":" + strconv.Itoa(port),
				Options: opts,
			})
			continue
		}

		host, err := d.GetString(settings.KeySocketConnectHost)
		if err != nil {
			return nil, nil, err
		}
		port, err := d.GetInt(settings.KeySocketConnectPort)
		if err != nil {
			return nil, nil, err
		}
		reconnect, err := d.GetIntDefault(settings.KeyReconnectInterval, 0)
		if err != nil {
			return nil, nil, err
		}
		dials = append(dials, transport.DialConfig{
			SessionID:         id,
			Host:              host,
			Port:              port,
			ReconnectInterval: time.Duration(reconnect) * time.Second,
			Options:           opts,
		})
	}
	return listeners, dials, nil
}

// socketOptions reads the socket knobs from one session's settings.
func socketOptions(d *settings.Dictionary) (transport.SocketOptions, error) {
	var opts transport.SocketOptions
	var err error
	if opts.NoDelay, err = d.GetBoolDefault(settings.KeySocketNoDelay, false); err != nil {
		return opts, err
	}
	if opts.ReuseAddress, err = d.GetBoolDefault(settings.KeySocketReuseAddress, true); err != nil {
		return opts, err
	}
	if opts.SendBufferSize, err = d.GetIntDefault(settings.KeySocketSendBufferSize, 0); err != nil {
		return opts, err
	}
	if opts.ReceiveBufferSize, err = d.GetIntDefault(settings.KeySocketReceiveBufferSize, 0); err != nil {
		return opts, err
	}
	return opts, nil
}

// -------------------------------------------------------------------------
// Default Application — log-only callbacks
// -------------------------------------------------------------------------

// loggingApplication is the built-in Application used when gofixd runs
// standalone: it logs traffic and accepts everything. Embedding programs
// supply their own implementation through the engine API instead.
type loggingApplication struct {
	fix.NullApplication
	logger *slog.Logger
}

func (a *loggingApplication) OnLogon(id fix.SessionID) {
	a.logger.Info("application logon", slog.String("session", id.String()))
}

func (a *loggingApplication) OnLogout(id fix.SessionID) {
	a.logger.Info("application logout", slog.String("session", id.String()))
}

func (a *loggingApplication) FromApp(msg *fix.Message, id fix.SessionID) error {
	a.logger.Info("application message",
		slog.String("session", id.String()),
		slog.String("msg_type", msg.MsgType()),
	)
	return nil
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

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
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

// handleSIGHUP listens for SIGHUP and reloads the log level from the
// configuration file. Session topology changes require a restart; sequence
// state survives in the store.
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
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings",
					slog.String("error", err.Error()),
				)
				continue
			}
			oldLevel := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)
			logger.Info("configuration reloaded",
				slog.String("old_log_level", oldLevel.String()),
				slog.String("new_log_level", newLevel.String()),
			)
		}
	}
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener and serves HTTP requests until the
// server is shut down.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// shutdownHTTP drains the HTTP servers with a bounded timeout.
func shutdownHTTP(ctx context.Context, servers ...*http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
