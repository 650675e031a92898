// Package main is the entrypoint for the data-plane executable: it owns the
// pre-bound listener sockets, TLS resolver, route table, upstream pools and
// health checks, and the reconciler loop that converges them onto the
// control plane's latest published snapshot, per spec.md §4.4, §6.
package main

import (
	"context"
	"log/slog"

	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaymesh/gatewayd/internal/dataplane/feed"
	"github.com/relaymesh/gatewayd/internal/dataplane/heartbeat"
	"github.com/relaymesh/gatewayd/internal/dataplane/listener"
	"github.com/relaymesh/gatewayd/internal/dataplane/reconciler"
	"github.com/relaymesh/gatewayd/internal/dataplane/router"
	"github.com/relaymesh/gatewayd/internal/dataplane/tlsresolver"
	"github.com/relaymesh/gatewayd/internal/dataplane/upstream"
	"github.com/relaymesh/gatewayd/internal/platform/cache"
	"github.com/relaymesh/gatewayd/internal/platform/config"
	platformtls "github.com/relaymesh/gatewayd/internal/platform/http/tls"

	// Register cache drivers (triggers init() registration)
	_ "github.com/relaymesh/gatewayd/internal/platform/cache/loader"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	flag.Parse()

	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		Logger:     bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.RunDataPlane {
		bootstrapLogger.Error("cmd/data-plane requires RUN_DATA_PLANE to be set")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)
	logger.Info("effective configuration", "config", cfg.Redacted())

	dnsCache, err := cache.NewFromConfig(cfg.Cache.Driver, nil)
	if err != nil {
		logger.Error("failed to create cache", "error", err)
		os.Exit(1)
	}

	devIssuer := platformtls.NewIssuer(&platformtls.IssuerConfig{
		Mode:          platformtls.ModeSelfSigned,
		SelfSignedDir: cfg.CertsDir,
	}, logger)

	tlsResolver := tlsresolver.New(devIssuer, logger)
	listenerManager := listener.NewManager(tlsResolver.TLSConfig(), logger)
	defer listenerManager.Close()

	if err := preBindConfiguredRanges(listenerManager, cfg); err != nil {
		logger.Error("failed to pre-bind configured port ranges", "error", err)
		os.Exit(1)
	}

	routeTable := router.New()
	healthChecker := upstream.NewHealthChecker(logger)
	defer healthChecker.Close()
	selector := upstream.NewSelector(healthChecker)
	dispatcher := upstream.NewDispatcher(selector, dnsCache, logger)

	rec := reconciler.New(reconciler.Config{
		Feed:         feed.New(cfg.ControlPlaneURL),
		Listeners:    listenerManager,
		TLS:          tlsResolver,
		Router:       routeTable,
		Health:       healthChecker,
		Selector:     selector,
		Dispatcher:   dispatcher,
		PollInterval: secondsOrDefault(cfg.PollIntervalSecs, 5) * time.Second,
		Logger:       logger,
	})

	emitter := heartbeat.New(
		cfg.NodeID,
		cfg.ControlPlaneURL,
		secondsOrDefault(cfg.HeartbeatIntervalSecs, 10)*time.Second,
		rec.HeartbeatState,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rec.Run(ctx)
	go emitter.Run(ctx)

	logger.Info("data plane started, press Ctrl+C to stop", "node_id", cfg.NodeID, "control_plane_url", cfg.ControlPlaneURL)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := listenerManager.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown did not complete in time, forcing close", "error", err)
	}

	logger.Info("data plane stopped")
}

// preBindConfiguredRanges binds every port in HTTP_PORT_RANGE/
// HTTPS_PORT_RANGE up front, parked until the first reconcile activates
// any of them, per spec.md §4.4.1.
func preBindConfiguredRanges(m *listener.Manager, cfg *config.Config) error {
	if cfg.HTTPPortRange != nil {
		if err := m.PreBindHTTP(portsIn(cfg.HTTPPortRange)); err != nil {
			return err
		}
	}
	if cfg.HTTPSPortRange != nil {
		if err := m.PreBindHTTPS(portsIn(cfg.HTTPSPortRange)); err != nil {
			return err
		}
	}
	return nil
}

func portsIn(r *config.PortRange) []int {
	ports := make([]int, 0, r.High-r.Low+1)
	for p := r.Low; p <= r.High; p++ {
		ports = append(ports, p)
	}
	return ports
}

func secondsOrDefault(secs, def int) time.Duration {
	if secs <= 0 {
		return time.Duration(def)
	}
	return time.Duration(secs)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
