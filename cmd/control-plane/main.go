// Package main is the entrypoint for the control-plane executable: it owns
// the versioned configuration store and exposes the admin HTTP surface
// (config validate/publish/rollback/list, node registry, ACME challenge
// lookup) described in spec.md §4.2-§4.3, §4.5, §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/relaymesh/gatewayd/internal/platform/acmechallenge"
	"github.com/relaymesh/gatewayd/internal/platform/cache"
	"github.com/relaymesh/gatewayd/internal/platform/config"
	"github.com/relaymesh/gatewayd/internal/platform/deps"
	"github.com/relaymesh/gatewayd/internal/platform/http/realip"
	"github.com/relaymesh/gatewayd/internal/platform/http/server"
	"github.com/relaymesh/gatewayd/internal/platform/store"
	"github.com/relaymesh/gatewayd/internal/publisher"
	"github.com/relaymesh/gatewayd/internal/snapshot"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/gatewayd/internal/frameworks/service"

	// Register cache drivers (triggers init() registration)
	_ "github.com/relaymesh/gatewayd/internal/platform/cache/loader"

	// Register store drivers (triggers init() registration)
	_ "github.com/relaymesh/gatewayd/internal/platform/store/loader"

	// Register control-plane route groups (triggers init() registration)
	_ "github.com/relaymesh/gatewayd/internal/controlplane/acmeapi"
	_ "github.com/relaymesh/gatewayd/internal/controlplane/configapi"
	_ "github.com/relaymesh/gatewayd/internal/controlplane/nodesapi"
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
	if !cfg.RunControlPlane {
		bootstrapLogger.Error("cmd/control-plane requires RUN_CONTROL_PLANE to be set")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)
	logger.Info("effective configuration", "config", cfg.Redacted())

	driverName, dataDir, err := cfg.StoreDriverConfig()
	if err != nil {
		logger.Error("failed to resolve store driver", "error", err)
		os.Exit(1)
	}
	storeDriver, err := store.New(driverName, &store.DriverConfig{DataDir: dataDir})
	if err != nil {
		logger.Error("failed to construct store driver", "driver", driverName, "error", err)
		os.Exit(1)
	}
	if err := storeDriver.Init(context.Background()); err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer storeDriver.Close()

	cacheInstance, err := cache.NewFromConfig(cfg.Cache.Driver, nil)
	if err != nil {
		logger.Error("failed to create cache", "error", err)
		os.Exit(1)
	}

	acmeChallenges := acmechallenge.NewStore()

	pub := publisher.New(storeDriver, &snapshot.ValidateOptions{
		HTTPPortRange:  toSnapshotPortRange(cfg.HTTPPortRange),
		HTTPSPortRange: toSnapshotPortRange(cfg.HTTPSPortRange),
	})

	deps.SetDeps(&deps.Deps{
		Config:         cfg,
		Logger:         logger,
		Cache:          cacheInstance,
		Store:          storeDriver,
		Publisher:      pub,
		ACMEChallenges: acmeChallenges,
	})

	// Construct the control-plane route-group services via registry loop.
	// Each service derives its dependencies from shared deps internally.
	services := make(map[string]service.Service)
	for _, name := range service.CoreServices {
		newFn := service.Get(name)
		if newFn == nil {
			logger.Error("core service not registered", "service", name)
			os.Exit(1)
		}
		svc, err := newFn(nil, logger)
		if err != nil {
			logger.Error("failed to create service", "service", name, "error", fmt.Errorf("%s: %w", name, err))
			os.Exit(1)
		}
		services[name] = svc
	}

	trustedProxies := realip.NewTrustedProxies(nil)
	router := server.NewRouter(logger, trustedProxies)
	mountServices(router, services)

	srv := server.New(cfg.ControlPlaneAddr, router, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("control plane started, press Ctrl+C to stop", "addr", cfg.ControlPlaneAddr)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("control plane stopped")
}

// mountServices mounts each service's handler under its prefix, verifying
// every CoreServices entry actually registered a service (sort for
// deterministic startup logging, not behavior).
func mountServices(r chi.Router, services map[string]service.Service) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := services[name]
		r.Mount("/"+strings.TrimPrefix(svc.Prefix(), "/"), svc.Handler())
	}
}

func toSnapshotPortRange(r *config.PortRange) *snapshot.PortRange {
	if r == nil {
		return nil
	}
	return &snapshot.PortRange{Low: r.Low, High: r.High}
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
