// Command inboxd runs the durable message inbox as a standalone process:
// one or more named inboxes, each backed by the configured storage
// provider, optionally fed by a NATS or SQS bridge, driven by a shared
// inbox.Manager and exposed over HTTP for health, metrics and per-inbox
// loop status. Dead-letter records are not served over HTTP.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.inboxmq.dev/internal/common/health"
	"go.inboxmq.dev/internal/config"
	"go.inboxmq.dev/internal/inbox"
	"go.inboxmq.dev/internal/inbox/bridge"
	memorystore "go.inboxmq.dev/internal/inbox/storage/memory"
	mongostore "go.inboxmq.dev/internal/inbox/storage/mongo"
	mysqlstore "go.inboxmq.dev/internal/inbox/storage/mysql"
	postgresstore "go.inboxmq.dev/internal/inbox/storage/postgres"
	redisstore "go.inboxmq.dev/internal/inbox/storage/redis"
	qnats "go.inboxmq.dev/internal/queue/nats"
	qsqs "go.inboxmq.dev/internal/queue/sqs"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("INBOXD_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("starting inboxd", "version", version, "build_time", buildTime)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.ResolveSecrets(ctx, cfg); err != nil {
		slog.Error("failed to resolve secrets", "error", err)
		os.Exit(1)
	}

	healthChecker := health.NewChecker()

	provider, closeStorage, pingErr := buildStorageProvider(ctx, cfg, healthChecker)
	if pingErr != nil {
		slog.Error("failed to initialize storage provider", "error", pingErr)
		os.Exit(1)
	}

	registry := inbox.NewRegistry(inbox.DefaultDelegateCacheSize)
	manager := inbox.NewManager(slog.Default())

	var bridges []*bridge.Bridge
	var natsClient *qnats.Client
	var sqsClient *qsqs.Client

	for _, ic := range cfg.Inboxes {
		opts := inboxOptionsFrom(ic)
		if err := opts.Validate(); err != nil {
			slog.Error("invalid inbox configuration", "inbox", ic.Name, "error", err)
			os.Exit(1)
		}
		if configurable, ok := provider.(interface{ Configure(inbox.Options) }); ok {
			configurable.Configure(opts)
		}

		workerID := inbox.NewWorkerID(ic.Name)
		strategy := buildStrategy(opts, registry, provider)
		loop := inbox.NewProcessingLoop(opts, provider, strategy, inbox.SystemClock{}, workerID, slog.Default())

		if err := manager.Register(opts, provider, loop, inbox.SystemClock{}); err != nil {
			slog.Error("failed to register inbox", "inbox", ic.Name, "error", err)
			os.Exit(1)
		}

		if ic.Subject == "" {
			continue
		}
		writer := inbox.NewWriter(provider, opts)
		b, err := buildBridge(ctx, cfg, ic, writer, &natsClient, &sqsClient)
		if err != nil {
			slog.Error("failed to wire inbox bridge", "inbox", ic.Name, "error", err)
			os.Exit(1)
		}
		bridges = append(bridges, b)
	}

	if err := manager.Migrate(ctx); err != nil {
		slog.Error("storage migration failed", "error", err)
		os.Exit(1)
	}

	if err := manager.Start(ctx); err != nil {
		slog.Error("failed to start inbox manager", "error", err)
		os.Exit(1)
	}

	for _, b := range bridges {
		go func(b *bridge.Bridge) {
			if err := b.Run(ctx); err != nil {
				slog.Error("bridge stopped with error", "error", err)
			}
		}(b)
	}

	r := newRouter(healthChecker, manager, cfg.HTTP.CORSOrigins)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	lifecycleManager := newLifecycleManager(server, manager, bridges, closeStorage)
	lifecycleManager.WaitForSignal()
	if err := lifecycleManager.Execute(); err != nil {
		slog.Error("shutdown did not complete cleanly", "error", err)
		os.Exit(1)
	}
	slog.Info("inboxd stopped")
}

// inboxOptionsFrom converts one config.InboxConfig into inbox.Options,
// starting from the library's own defaults so an operator only needs to
// override what matters for their inbox. The result is not validated here;
// the caller runs Options.Validate on it.
func inboxOptionsFrom(ic config.InboxConfig) inbox.Options {
	opts := inbox.DefaultOptions(ic.Name, inbox.InboxType(ic.Type))
	if ic.ReadBatchSize > 0 {
		opts.ReadBatchSize = ic.ReadBatchSize
	}
	if ic.WriteBatchSize > 0 {
		opts.WriteBatchSize = ic.WriteBatchSize
	}
	if ic.MaxProcessingTime > 0 {
		opts.MaxProcessingTime = ic.MaxProcessingTime
	}
	if ic.PollingInterval > 0 {
		opts.PollingInterval = ic.PollingInterval
	}
	if ic.MaxAttempts > 0 {
		opts.MaxAttempts = ic.MaxAttempts
	}
	opts.EnableDeadLetter = ic.EnableDeadLetter
	if ic.DeadLetterMaxMessageLifetime > 0 {
		opts.DeadLetterMaxMessageLifetime = ic.DeadLetterMaxMessageLifetime
	}
	opts.EnableDeduplication = ic.EnableDeduplication
	if ic.DeduplicationInterval > 0 {
		opts.DeduplicationInterval = ic.DeduplicationInterval
	}
	return opts
}

func buildStrategy(opts inbox.Options, registry *inbox.Registry, provider inbox.StorageProvider) inbox.Strategy {
	switch opts.Type {
	case inbox.TypeBatched:
		return inbox.NewBatchedStrategy(registry, opts, slog.Default())
	case inbox.TypeFIFO:
		return inbox.NewFIFOStrategy(registry, opts, slog.Default(), provider)
	case inbox.TypeFIFOBatched:
		return inbox.NewFIFOBatchedStrategy(registry, opts, slog.Default(), provider)
	default:
		return inbox.NewDefaultStrategy(registry, opts, slog.Default())
	}
}

// buildStorageProvider opens the configured backend's connection, wires a
// readiness check for it, and returns the matching StorageProvider along
// with a closer that releases the underlying connection on shutdown.
func buildStorageProvider(ctx context.Context, cfg *config.Config, healthChecker *health.Checker) (inbox.StorageProvider, func(context.Context) error, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := openSQL("postgres", cfg.Storage.Postgres)
		if err != nil {
			return nil, nil, err
		}
		healthChecker.AddReadinessCheck(health.PingCheck("postgres", func() error { return db.PingContext(ctx) }))
		return postgresstore.New(db, inbox.SystemClock{}), func(context.Context) error { return db.Close() }, nil

	case "mysql":
		db, err := openSQL("mysql", cfg.Storage.MySQL)
		if err != nil {
			return nil, nil, err
		}
		healthChecker.AddReadinessCheck(health.PingCheck("mysql", func() error { return db.PingContext(ctx) }))
		return mysqlstore.New(db, inbox.SystemClock{}), func(context.Context) error { return db.Close() }, nil

	case "mongo":
		clientOpts := options.Client().ApplyURI(cfg.Storage.Mongo.URI).
			SetConnectTimeout(10 * time.Second).
			SetServerSelectionTimeout(10 * time.Second)
		client, err := mongo.Connect(ctx, clientOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		healthChecker.AddReadinessCheck(health.PingCheck("mongo", func() error { return client.Ping(ctx, nil) }))
		return mongostore.New(client.Database(cfg.Storage.Mongo.Database), inbox.SystemClock{}), client.Disconnect, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		healthChecker.AddReadinessCheck(health.PingCheck("redis", func() error { return client.Ping(ctx).Err() }))
		return redisstore.New(client, inbox.SystemClock{}), func(context.Context) error { return client.Close() }, nil

	case "memory":
		return memorystore.New(inbox.SystemClock{}), func(context.Context) error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func openSQL(driver string, sc config.SQLStorageConfig) (*sql.DB, error) {
	db, err := sql.Open(driver, sc.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if sc.MaxOpenConns > 0 {
		db.SetMaxOpenConns(sc.MaxOpenConns)
	}
	if sc.MaxIdleConns > 0 {
		db.SetMaxIdleConns(sc.MaxIdleConns)
	}
	if sc.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(sc.ConnMaxLifetime)
	}
	return db, nil
}

// buildBridge lazily constructs the shared NATS/SQS client on first use
// and wires a bridge for the inbox's configured subject.
func buildBridge(ctx context.Context, cfg *config.Config, ic config.InboxConfig, writer *inbox.Writer, natsClient **qnats.Client, sqsClient **qsqs.Client) (*bridge.Bridge, error) {
	switch cfg.Queue.Type {
	case "nats", "embedded":
		if *natsClient == nil {
			c, err := qnats.NewClient(&cfg.Queue.NATS)
			if err != nil {
				return nil, fmt.Errorf("nats client: %w", err)
			}
			*natsClient = c
		}
		return bridge.NewNATS(ctx, *natsClient, ic.Name, ic.Subject, writer, inbox.SystemClock{}, slog.Default())

	case "sqs":
		if *sqsClient == nil {
			c, err := qsqs.NewClient(ctx, &cfg.Queue.SQS)
			if err != nil {
				return nil, fmt.Errorf("sqs client: %w", err)
			}
			*sqsClient = c
		}
		return bridge.NewSQS(ctx, *sqsClient, ic.Name, writer, inbox.SystemClock{}, slog.Default())

	default:
		return nil, fmt.Errorf("unknown queue type %q", cfg.Queue.Type)
	}
}

func newRouter(healthChecker *health.Checker, manager *inbox.Manager, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	r.Get("/inboxes/{name}/status", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		loop, ok := manager.GetInbox(name)
		if !ok {
			http.Error(w, "unknown inbox", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"inbox":%q,"state":%q}`, name, loop.State().String())
	})

	return r
}
