package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/policyhub/internal/server"
	"github.com/iota-uz/policyhub/modules"
	"github.com/iota-uz/policyhub/modules/ingestion"
	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
	"github.com/iota-uz/policyhub/modules/ingestion/services"
	"github.com/iota-uz/policyhub/pkg/application"
	"github.com/iota-uz/policyhub/pkg/configuration"
	"github.com/iota-uz/policyhub/pkg/eventbus"
	"github.com/iota-uz/policyhub/pkg/logging"
	"github.com/iota-uz/policyhub/pkg/metrics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(
			context.Background(),
			conf.OpenTelemetry.ServiceName,
			conf.OpenTelemetry.TempoURL,
		)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to " + conf.OpenTelemetry.TempoURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	cancel()
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	registry, closeRegistry := newRunRegistry(conf, logger)
	defer closeRegistry()

	bus := eventbus.NewEventPublisher(logger)
	bus.Subscribe(func(e *ingest.Event) {
		if e.Terminal() {
			logger.WithFields(logrus.Fields{"run_id": e.RunID, "type": e.Type}).Info("ingestion run finished")
		}
	})

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: bus,
		Logger:   logger,
	})
	if err := modules.Load(app, ingestion.NewModule(&ingestion.ModuleOptions{
		BatchSize:     conf.Ingest.BatchSize,
		MaxUploadSize: conf.MaxUploadSize,
		Registry:      registry,
		Pipeline: services.PipelineOptions{
			ConnectAttempts: conf.Ingest.ConnectAttempts,
		},
		Ingest: services.IngestOptions{
			MaxConcurrentRuns: conf.Ingest.MaxConcurrentRuns,
			MaxRows:           conf.Ingest.MaxRows,
			RunTimeout:        conf.Ingest.RunTimeout,
		},
	})); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	err = app.Migrations().Run(migrateCtx)
	cancel()
	if err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	log.Printf("Listening on: %s\n", conf.SocketAddress)
	if err := serverInstance.Serve(ctx, conf.SocketAddress); err != nil {
		logger.WithError(err).Error("server stopped")
	}

	runs := app.Service(services.IngestService{}).(*services.IngestService)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runs.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("ingestion runs canceled on shutdown")
	}
}

func newRunRegistry(conf *configuration.Configuration, logger *logrus.Logger) (services.RunRegistry, func()) {
	if conf.Ingest.StatusStorage != configuration.StatusStorageRedis {
		return services.NewMemoryRunRegistry(conf.Ingest.StatusTTL), func() {}
	}
	opts, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		// Bare host:port values are accepted as well.
		opts = &redis.Options{Addr: conf.RedisURL}
	}
	client := redis.NewClient(opts)
	logger.WithField("addr", opts.Addr).Info("run status stored in redis")
	return services.NewRedisRunRegistry(client, conf.Ingest.StatusTTL), func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
}
