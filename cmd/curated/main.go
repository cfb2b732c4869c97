// curated is the curation service: HTTP API, queue workers, and the Kafka
// trigger consumer in one process.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ourresearch/curate/config"
	entityrepo "github.com/ourresearch/curate/internal/repositories/entity"
	projectionrepo "github.com/ourresearch/curate/internal/repositories/projection"
	queuerepo "github.com/ourresearch/curate/internal/repositories/queue"
	relationrepo "github.com/ourresearch/curate/internal/repositories/relation"
	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/events"
	"github.com/ourresearch/curate/pkg/kafka"
	"github.com/ourresearch/curate/pkg/merge"
	"github.com/ourresearch/curate/pkg/middleware"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/projection"
	"github.com/ourresearch/curate/pkg/queue"
	entityroutes "github.com/ourresearch/curate/pkg/routes/entity"
	"github.com/ourresearch/curate/pkg/routes/health"
	mergeroutes "github.com/ourresearch/curate/pkg/routes/merge"
	queueroutes "github.com/ourresearch/curate/pkg/routes/queue"
	"github.com/ourresearch/curate/pkg/tracing"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(&cfg)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider := tracing.Configure(cfg.AppName)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shut down tracer provider")
		}
	}()

	db, err := database.Connect(ctx, database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		return
	}
	defer db.Close()

	if err := runMigrations(&cfg, db, logger); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		return
	}

	entities := entityrepo.NewRepository(db, logger)
	relations := relationrepo.NewRepository(logger)
	queueRepo := queuerepo.NewRepository(db, logger)
	projections := projectionrepo.NewRepository(db, logger)

	redirects := merge.NewRedirectCache(entities, logger)
	if err := redirects.Refresh(ctx); err != nil {
		logger.WithError(err).Error("Failed to build redirect cache")
		return
	}

	var producer *kafka.Producer
	var emitter *events.Emitter
	if cfg.KafkaProducerEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
		emitter = events.NewEmitter(producer, logger)
	}

	builder := projection.NewBuilder(cfg.IdentifierHost)
	store := projection.NewStore(projections, builder, storeEmitter(emitter), logger)
	resolver := merge.NewResolver(db, entities, relations, redirects, queueRepo, mergeEmitter(emitter), logger)

	registry := queue.NewRegistry()
	// Both operations run the store handler; they differ only as queue lanes.
	storeHandler := queue.NewStoreHandler(entities, store, logger)
	for _, entityType := range models.AllEntityTypes {
		for _, operation := range models.AllOperations {
			if err := registry.Register(entityType, operation, storeHandler); err != nil {
				logger.WithError(err).Error("Failed to register queue handler")
				return
			}
		}
	}

	var wg sync.WaitGroup
	startWorkers(ctx, &wg, &cfg, queueRepo, registry, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		refreshRedirects(ctx, redirects, cfg.RedirectCacheRefresh, logger)
	}()

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaInputTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, triggerHandler(queueRepo))
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Failed to start Kafka consumer")
			return
		}
		defer func() {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Error("Failed to stop Kafka consumer")
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.AllowOrigins}))
	e.HTTPErrorHandler = middleware.Error(logger)

	checker := health.NewChecker(db, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	entityroutes.NewRoutes(entities, projections, cfg.IdentifierHost, logger).RegisterRoutes(api)
	mergeroutes.NewRoutes(resolver, logger).RegisterRoutes(api)
	queueroutes.NewRoutes(queueRepo, logger).RegisterRoutes(api)

	checker.SetReady(true)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down server cleanly")
	}

	wg.Wait()
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func runMigrations(cfg *config.Config, db database.DB, logger ectologger.Logger) error {
	driver, err := postgres.WithInstance(db.Unsafe().DB, &postgres.Config{})
	if err != nil {
		return err
	}

	migrationService := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return migrationService.Migrate(cfg.DatabaseName, driver)
}

// startWorkers launches the queue drain loops. Works dominate queue volume,
// so the work queues get the configured worker count and every other pair
// gets one.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, queueRepo *queuerepo.Repository, registry *queue.Registry, logger ectologger.Logger) {
	for _, pair := range registry.Pairs() {
		count := 1
		if pair.EntityType == models.EntityTypeWork && cfg.QueueWorkerCount > 0 {
			count = cfg.QueueWorkerCount
		}

		for i := 0; i < count; i++ {
			worker := queue.NewWorker(queueRepo, registry, queue.WorkerConfig{
				EntityType:   pair.EntityType,
				Operation:    pair.Operation,
				ChunkSize:    cfg.QueueChunkSize,
				Lease:        cfg.QueueClaimLease,
				EmptyBackoff: cfg.QueueEmptyBackoff,
			}, logger)

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := worker.Run(ctx); err != nil && err != context.Canceled {
					logger.WithError(err).Error("Queue worker stopped")
				}
			}()
		}
	}
}

func refreshRedirects(ctx context.Context, redirects *merge.RedirectCache, interval time.Duration, logger ectologger.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := redirects.Refresh(ctx); err != nil {
				logger.WithContext(ctx).WithError(err).Error("Failed to refresh redirect cache")
			}
		}
	}
}

// triggerHandler feeds consumed trigger messages into the recompute queue.
func triggerHandler(queueRepo *queuerepo.Repository) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.IncomingMessage) error {
		trigger := msg.Trigger
		entityType, _ := models.ParseEntityType(trigger.EntityType)
		return queueRepo.Enqueue(ctx, entityType, models.Operation(trigger.Operation), trigger.EntityIDs, trigger.Priority)
	}
}

// storeEmitter avoids handing the store a non-nil interface wrapping a nil
// emitter when the producer is disabled.
func storeEmitter(emitter *events.Emitter) projection.Emitter {
	if emitter == nil {
		return nil
	}
	return emitter
}

func mergeEmitter(emitter *events.Emitter) merge.Emitter {
	if emitter == nil {
		return nil
	}
	return emitter
}
