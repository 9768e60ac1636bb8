package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/api"
	"github.com/JakeFAU/crawler-edge/internal/auth"
	"github.com/JakeFAU/crawler-edge/internal/botclass"
	"github.com/JakeFAU/crawler-edge/internal/cache"
	"github.com/JakeFAU/crawler-edge/internal/canonical"
	"github.com/JakeFAU/crawler-edge/internal/clock"
	"github.com/JakeFAU/crawler-edge/internal/config"
	"github.com/JakeFAU/crawler-edge/internal/detach"
	"github.com/JakeFAU/crawler-edge/internal/fetch"
	"github.com/JakeFAU/crawler-edge/internal/fingerprint"
	"github.com/JakeFAU/crawler-edge/internal/id"
	"github.com/JakeFAU/crawler-edge/internal/logging"
	"github.com/JakeFAU/crawler-edge/internal/metrics"
	"github.com/JakeFAU/crawler-edge/internal/proxy"
	"github.com/JakeFAU/crawler-edge/internal/ratelimit"
	"github.com/JakeFAU/crawler-edge/internal/render"
	"github.com/JakeFAU/crawler-edge/internal/telemetry"
	"github.com/JakeFAU/crawler-edge/internal/usage"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("edge render service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Tracing:     cfg.Telemetry.Tracing,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	sysClock := clock.New()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := detach.New(logger, cfg.MaxLeaseWait()+cfg.Extraction.Timeout)

	lookups, migrate, closeTenants, err := tenantLookups(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeTenants()
	resolver := auth.NewResolver(auth.Config{
		Lookups: lookups,
		Migrate: migrate,
		Runner:  runner,
		Logger:  logger,
	})

	fetcher := fetch.New(fetch.Config{
		UserAgent: cfg.Extraction.UserAgent,
		Timeout:   cfg.Extraction.FallbackTimeout,
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Extraction.OriginRPS,
			Burst: cfg.Extraction.OriginBurst,
		}),
	})
	gateway, err := extractionGateway(cfg, fetcher, logger)
	if err != nil {
		return err
	}

	renderCache := cache.New(store, cache.Config{
		EntryTTL:     cfg.Cache.EntryTTL,
		LeaseTTL:     cfg.Cache.LeaseTTL,
		PollInterval: cfg.Cache.PollInterval,
		PollAttempts: cfg.Cache.PollAttempts,
		Schema:       cfg.Cache.SchemaVersion,
	}, cache.WithClock(sysClock), cache.WithLogger(logger), cache.WithRunner(runner))

	var counter *usage.Counter
	if cfg.Usage.Enabled {
		counter = usage.New(store, sysClock, cfg.Usage.Retention, cfg.Usage.Bucket)
	}
	archiver, closeSnapshots, err := snapshotArchiver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	pipeline, err := render.New(render.Config{
		Canonicalizer:   canonical.New(cfg.Canonical.ExtraTrackingParams...),
		Fingerprinter:   fingerprint.New(fingerprint.Version),
		Cache:           renderCache,
		Extractor:       gateway,
		Origin:          fetcher,
		Usage:           counter,
		Snapshots:       archiver,
		Runner:          runner,
		Clock:           sysClock,
		FallbackTimeout: cfg.Extraction.FallbackTimeout,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("build render pipeline: %w", err)
	}

	hub, err := eventsHub(ctx, cfg, logger)
	if err != nil {
		return err
	}

	origins := make([]proxy.OriginConfig, 0, len(cfg.Proxy.Origins))
	for _, o := range cfg.Proxy.Origins {
		origins = append(origins, proxy.OriginConfig{
			Host:     o.Host,
			Upstream: o.Upstream,
			TenantID: o.TenantID,
			Bots:     botclass.Overrides{Include: o.Include, Exclude: o.Exclude},
		})
	}
	registry, err := proxy.NewRegistry(origins, proxy.Options{
		CredentialHeader: cfg.Auth.CredentialHeader,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("build proxy registry: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		CredentialHeader: cfg.Auth.CredentialHeader,
		Authorizer:       resolver,
		Renderer:         pipeline,
		Bots:             botclass.New(cfg.Bots.ExtraAgents...),
		Proxies:          registry,
		Events:           hub,
		Ready:            readiness(store),
		IDs:              id.New(),
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(apiServer.Handler(), "edge"),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started",
			zap.Int("port", cfg.Server.Port),
			zap.Int("proxy_origins", registry.Len()),
			zap.String("extraction_backend", gateway.Backend()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")
	shutdownStart := time.Now()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := runner.Wait(shutdownCtx); err != nil {
		logger.Warn("detached tasks did not drain", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("events hub did not drain", zap.Error(err))
	}
	if dropped := hub.Dropped(); dropped > 0 {
		logger.Warn("render events dropped", zap.Int64("count", dropped))
	}
	logger.Info("shutdown complete", zap.Duration("elapsed", time.Since(shutdownStart)))
	return runErr
}
