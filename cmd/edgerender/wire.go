package main

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-edge/internal/auth"
	"github.com/JakeFAU/crawler-edge/internal/config"
	"github.com/JakeFAU/crawler-edge/internal/events"
	"github.com/JakeFAU/crawler-edge/internal/events/sinks"
	"github.com/JakeFAU/crawler-edge/internal/extract"
	"github.com/JakeFAU/crawler-edge/internal/extract/httpbackend"
	"github.com/JakeFAU/crawler-edge/internal/extract/local"
	"github.com/JakeFAU/crawler-edge/internal/fetch"
	"github.com/JakeFAU/crawler-edge/internal/kvstore"
	memorykv "github.com/JakeFAU/crawler-edge/internal/kvstore/memory"
	rediskv "github.com/JakeFAU/crawler-edge/internal/kvstore/redis"
	"github.com/JakeFAU/crawler-edge/internal/metrics"
	pubsubpublisher "github.com/JakeFAU/crawler-edge/internal/publisher/pubsub"
	"github.com/JakeFAU/crawler-edge/internal/snapshot"
	"github.com/JakeFAU/crawler-edge/internal/storage"
	gcsstore "github.com/JakeFAU/crawler-edge/internal/storage/gcs"
	localstore "github.com/JakeFAU/crawler-edge/internal/storage/local"
	memorystore "github.com/JakeFAU/crawler-edge/internal/storage/memory"
	"github.com/JakeFAU/crawler-edge/internal/tenant"
)

// openStore dials Redis when addresses are configured and otherwise falls
// back to the single-instance memory store.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (kvstore.Store, func(), error) {
	if len(cfg.Redis.Addrs) == 0 {
		logger.Warn("no redis addresses configured; using in-memory store")
		return memorykv.New(nil), func() {}, nil
	}
	client, err := rediskv.Dial(ctx, rediskv.Config{
		Mode:       cfg.Redis.Mode,
		Addrs:      cfg.Redis.Addrs,
		MasterName: cfg.Redis.MasterName,
		Username:   cfg.Redis.Username,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	store := rediskv.New(client, cfg.Redis.KeyPrefix)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}, nil
}

// tenantLookups orders credential sources: hashed records, the optional
// Postgres directory, then legacy plaintext records.
func tenantLookups(ctx context.Context, cfg config.Config, store kvstore.Store) ([]tenant.Lookup, auth.Migrator, func(), error) {
	hashed := tenant.NewHashedKV(store)
	lookups := []tenant.Lookup{hashed}
	closer := func() {}
	if cfg.Auth.PostgresDSN != "" {
		pg, err := tenant.NewPostgres(ctx, tenant.PostgresConfig{
			DSN:   cfg.Auth.PostgresDSN,
			Table: cfg.Auth.PostgresTable,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect tenant directory: %w", err)
		}
		lookups = append(lookups, pg)
		closer = pg.Close
	}
	lookups = append(lookups, tenant.NewLegacyKV(store))

	var migrate auth.Migrator
	if cfg.Auth.WriteThrough {
		migrate = hashed
	}
	return lookups, migrate, closer, nil
}

func extractionGateway(cfg config.Config, fetcher *fetch.Fetcher, logger *zap.Logger) (*extract.Gateway, error) {
	var backend extract.Backend
	switch cfg.Extraction.Backend {
	case "http":
		b, err := httpbackend.New(httpbackend.Config{
			Endpoint:  cfg.Extraction.Endpoint,
			APIKey:    cfg.Extraction.APIKey,
			UserAgent: cfg.Extraction.UserAgent,
		})
		if err != nil {
			return nil, fmt.Errorf("build extraction backend: %w", err)
		}
		backend = b
	default:
		backend = local.New(fetcher)
	}
	name := backend.Name()
	return extract.NewGateway(backend, extract.Config{
		Timeout:             cfg.Extraction.Timeout,
		BreakerFailureRatio: cfg.Extraction.BreakerFailureRatio,
		BreakerMinRequests:  cfg.Extraction.BreakerMinRequests,
		BreakerDelay:        cfg.Extraction.BreakerDelay,
		OnStateChange: func(open bool) {
			metrics.SetBreakerOpen(name, open)
		},
		Logger: logger,
	}), nil
}

// snapshotArchiver returns nil when snapshots are disabled.
func snapshotArchiver(ctx context.Context, cfg config.Config) (*snapshot.Archiver, func(), error) {
	if !cfg.Snapshots.Enabled {
		return nil, func() {}, nil
	}
	var (
		store  storage.BlobStore
		closer = func() {}
	)
	switch cfg.Snapshots.Backend {
	case "local":
		s, err := localstore.New(localstore.Config{BaseDir: cfg.Snapshots.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot directory: %w", err)
		}
		store = s
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create GCS client: %w", err)
		}
		s, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Snapshots.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("open snapshot bucket: %w", err)
		}
		store = s
		closer = func() { _ = client.Close() }
	default:
		store = memorystore.NewBlobStore()
	}
	return snapshot.New(store, cfg.Snapshots.Prefix), closer, nil
}

// eventsHub always feeds Prometheus; the log and Pub/Sub sinks are opt-in.
func eventsHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("register event metrics: %w", err)
	}
	hubSinks := []events.Sink{promSink}
	if cfg.Events.Log {
		hubSinks = append(hubSinks, sinks.NewLogSink(logger.Named("events")))
	}
	if cfg.Events.PubSubTopic != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		hubSinks = append(hubSinks, sinks.NewPublishSink(pub, cfg.Events.PubSubTopic))
	}
	return events.NewHub(events.Config{
		BufferSize: cfg.Events.BufferSize,
		MaxBatch:   cfg.Events.MaxBatch,
		MaxWait:    cfg.Events.MaxWait,
		Logger:     logger,
	}, hubSinks...), nil
}

func readiness(store kvstore.Store) func(context.Context) error {
	pinger, ok := store.(kvstore.Pinger)
	if !ok {
		return nil
	}
	return pinger.Ping
}
