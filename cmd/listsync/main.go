package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listsync/internal/changefeed"
	"github.com/kailas-cloud/listsync/internal/config"
	dbRedis "github.com/kailas-cloud/listsync/internal/db/redis"
	"github.com/kailas-cloud/listsync/internal/domain/projection"
	logpkg "github.com/kailas-cloud/listsync/internal/logger"
	"github.com/kailas-cloud/listsync/internal/metrics"
	"github.com/kailas-cloud/listsync/internal/repository/bleveindex"
	deadletterrepo "github.com/kailas-cloud/listsync/internal/repository/deadletter"
	"github.com/kailas-cloud/listsync/internal/repository/esindex"
	listingrepo "github.com/kailas-cloud/listsync/internal/repository/listing"
	"github.com/kailas-cloud/listsync/internal/repository/searchindex"
	"github.com/kailas-cloud/listsync/internal/repository/versions"
	chiTransport "github.com/kailas-cloud/listsync/internal/transport/chi"
	"github.com/kailas-cloud/listsync/internal/transport/stream"
	deadletteruc "github.com/kailas-cloud/listsync/internal/usecase/deadletter"
	healthuc "github.com/kailas-cloud/listsync/internal/usecase/health"
	"github.com/kailas-cloud/listsync/internal/usecase/indexsync"
	reindexuc "github.com/kailas-cloud/listsync/internal/usecase/reindex"
	"github.com/kailas-cloud/listsync/internal/version"
)

// indexBackend is what every Index Writer driver provides.
type indexBackend interface {
	Upsert(ctx context.Context, doc *projection.Document) error
	BulkUpsert(ctx context.Context, docs []projection.Document) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// feed is a change feed that also accepts webhook events.
type feed interface {
	changefeed.Source
	Publish(ctx context.Context, e changefeed.Event) error
}

// pingFunc adapts a function to health.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting listsync",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_driver", cfg.Index.Driver),
		zap.String("feed_driver", cfg.Consumer.Driver),
	)

	// Register sync metrics explicitly (no init())
	metrics.RegisterSyncMetrics()
	metrics.RegisterHTTPMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Index Writer
	index, closeIndex, err := openIndex(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open search index", zap.Error(err))
	}
	defer closeIndex()
	writer := metrics.NewInstrumentedWriter(cfg.Index.Driver, index)
	logger.Info("Search index ready", zap.String("driver", cfg.Index.Driver))

	// Canonical store (read-only)
	canonical, err := listingrepo.Open(ctx, listingrepo.Config{
		DSN:      cfg.Canonical.DSN,
		MaxConns: cfg.Canonical.MaxConns,
	})
	if err != nil {
		logger.Fatal("Failed to connect canonical store", zap.Error(err))
	}
	defer canonical.Close()

	// Dead-letter log
	deadStore, err := deadletterrepo.Open(cfg.DeadLetter.Driver, cfg.DeadLetter.DSN)
	if err != nil {
		logger.Fatal("Failed to open dead-letter store", zap.Error(err))
	}
	defer func() { _ = deadStore.Close() }()
	if err := deadStore.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate dead-letter store", zap.Error(err))
	}
	recorder := deadletteruc.New(deadStore, logger)

	// Change feed
	var (
		events     feed
		feedHealth healthuc.Pinger
		rdb        *redis.Client
		stopFeed   = func() {}
	)
	switch cfg.Consumer.Driver {
	case config.FeedDriverRedis:
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Consumer.Addr,
			Password: cfg.Consumer.Password,
			DB:       cfg.Consumer.DB,
		})
		defer func() { _ = rdb.Close() }()

		consumer, err := stream.NewConsumer(rdb, stream.Config{
			Stream:   cfg.Consumer.Stream,
			Group:    cfg.Consumer.Group,
			Consumer: cfg.Consumer.Name,
			Block:    time.Duration(cfg.Consumer.BlockMs) * time.Millisecond,
			MaxLen:   cfg.Consumer.MaxLen,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create stream consumer", zap.Error(err))
		}
		if err := consumer.EnsureGroup(ctx); err != nil {
			logger.Fatal("Failed to create consumer group", zap.Error(err))
		}
		events, feedHealth = consumer, consumer
	default:
		mem := changefeed.NewMemorySource(cfg.Consumer.Buffer)
		defer mem.Close()
		events, stopFeed = mem, mem.Close
		feedHealth = pingFunc(func(context.Context) error { return nil })
	}

	// Use cases
	syncSvc := indexsync.New(writer, recorder).
		WithRetry(indexsync.RetryPolicy{
			Attempts:       cfg.Sync.RetryAttempts,
			InitialBackoff: time.Duration(cfg.Sync.RetryBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Sync.RetryMaxBackoffMs) * time.Millisecond,
		}).
		WithSnapshots(canonical).
		WithLogger(logger)
	if cfg.Sync.VersionGuard && rdb != nil {
		ttl := time.Duration(cfg.Sync.VersionTTLHours) * time.Hour
		syncSvc = syncSvc.WithGuard(versions.New(rdb, cfg.Index.KeyPrefix, ttl))
		logger.Info("Version guard enabled", zap.Duration("ttl", ttl))
	}

	reindexSvc := reindexuc.New(canonical, writer).
		WithAdminRoles(cfg.Reindex.AdminRoles...).
		WithPageSize(cfg.Reindex.PageSize).
		WithPageTimeout(time.Duration(cfg.Reindex.PageTimeoutSec) * time.Second).
		WithPacing(cfg.Reindex.PagesPerSecond).
		WithLogger(logger)

	healthSvc := healthuc.New().
		WithCheck(healthuc.ComponentIndex, index).
		WithCheck(healthuc.ComponentCanonical, canonical).
		WithCheck(healthuc.ComponentDeadLetter, deadStore).
		WithCheck(healthuc.ComponentChangeFeed, feedHealth)

	// Change feed dispatcher
	dispatcher := changefeed.NewDispatcher(events, syncSvc, cfg.Consumer.Workers, logger)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(ctx); err != nil {
			logger.Error("Change feed dispatcher stopped", zap.Error(err))
		}
	}()

	// HTTP API
	server := chiTransport.NewServer(reindexSvc, events, recorder, healthSvc, logger).
		WithAdminRoles(cfg.Reindex.AdminRoles...).
		WithPublisherRoles(cfg.Auth.PublisherRoles...).
		WithAdminRateLimit(cfg.HTTP.AdminRateLimit).
		WithRunContext(ctx).
		WithReindexTimeout(time.Duration(cfg.Reindex.TimeoutSec) * time.Second)

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEventMiddleware(logger, "/health", "/metrics"))
	r.Use(chiTransport.BearerAuthMiddleware(tokens(cfg.Auth)))
	r.Use(metrics.Middleware("/metrics", "/health"))
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	// Release webhook requests blocked on a full in-process feed.
	stopFeed()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("Change feed dispatcher did not stop in time")
	}

	logger.Info("Server stopped gracefully")
}

// openIndex builds the configured Index Writer driver and makes sure its index exists.
func openIndex(ctx context.Context, cfg config.Config, logger *zap.Logger) (indexBackend, func(), error) {
	switch cfg.Index.Driver {
	case config.IndexDriverRedis:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Index.Addrs,
			Password: cfg.Index.Password,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create redis store: %w", err)
		}
		timeout := time.Duration(cfg.Index.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("redis not ready: %w", err)
		}
		w := searchindex.New(store, cfg.Index.KeyPrefix)
		if err := w.EnsureIndex(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("ensure index: %w", err)
		}
		if info, err := w.Stats(ctx); err == nil {
			logger.Info("Redis index ready",
				zap.String("index", info.Name),
				zap.Int64("docs", info.NumDocs),
				zap.Bool("indexing", info.Indexing),
			)
		}
		return w, store.Close, nil

	case config.IndexDriverBleve:
		w, err := bleveindex.Open(cfg.Index.BlevePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bleve index: %w", err)
		}
		return w, func() { _ = w.Close() }, nil

	case config.IndexDriverElasticsearch:
		es := cfg.Index.Elastic
		w, err := esindex.New(esindex.Config{
			Addresses: es.URLs,
			Username:  es.Username,
			Password:  es.Password,
			Index:     es.Index,
			RetryMax:  es.RetryMax,
			Timeout:   time.Duration(es.TimeoutSec) * time.Second,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create elasticsearch client: %w", err)
		}
		if err := w.EnsureIndex(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure index: %w", err)
		}
		return w, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown index driver %q", cfg.Index.Driver)
	}
}

func tokens(cfg config.AuthConfig) []chiTransport.Token {
	out := make([]chiTransport.Token, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out = append(out, chiTransport.Token{Subject: t.Name, Value: t.Token, Roles: t.Roles})
	}
	return out
}
