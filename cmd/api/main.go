package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"channel-sync-core/internal/application"
	"channel-sync-core/internal/config"
	apiinfra "channel-sync-core/internal/infrastructure/api"
	"channel-sync-core/internal/infrastructure/dedup"
	"channel-sync-core/internal/infrastructure/pubsub"
	"channel-sync-core/internal/infrastructure/repository"
	shopifyinfra "channel-sync-core/internal/infrastructure/shopify"
	"channel-sync-core/internal/ports"
	"channel-sync-core/pkg/backoff"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	// Connect to MongoDB
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer client.Disconnect(context.Background())

	db := client.Database(cfg.MongoDatabase)

	// Connect to Redis for webhook deduplication
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	// Initialize repositories
	credentialStore := repository.NewMongoCredentialStore(db)
	integrationStore := repository.NewMongoIntegrationStore(db)
	entityStore := repository.NewMongoEntityStore(db)
	checkpointStore := repository.NewMongoCheckpointStore(db)
	runJournal := repository.NewMongoRunJournal(db)
	dedupStore := dedup.NewRedisStore(redisClient)

	// Platform adapters
	shopifyOpts := shopifyinfra.DefaultOptions()
	if raw := os.Getenv("SHOPIFY_LOCATION_ID"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			shopifyOpts.DefaultLocationID = id
		}
	}
	shopifyAdapter := shopifyinfra.NewAdapter(
		os.Getenv("SHOPIFY_API_KEY"),
		os.Getenv("SHOPIFY_API_SECRET"),
		shopifyOpts,
		logger,
	)
	adapters := ports.NewAdapterRegistry(shopifyAdapter)

	clock := ports.SystemClock()

	// Downstream publisher and status bus
	publisher := pubsub.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer publisher.Close()
	statusBus := pubsub.NewStatusBus(logger)

	// Application services
	credentials := application.NewCredentialManager(
		credentialStore,
		integrationStore,
		adapters,
		clock,
		cfg.RefreshMargin,
		logger,
	)

	coordinator := application.NewCoordinator(cfg.Cooldowns, cfg.DefaultCooldown, clock, logger)

	worker := application.NewWorker(
		coordinator,
		credentials,
		adapters,
		integrationStore,
		entityStore,
		checkpointStore,
		runJournal,
		publisher,
		statusBus,
		clock,
		application.WorkerConfig{
			MaxAttempts: cfg.MaxAttempts,
			CallTimeout: cfg.CallTimeout,
			TaskTimeout: cfg.TaskTimeout,
			Backoff: backoff.Policy{
				Min:        cfg.RetryBaseDelay,
				Max:        cfg.RetryMaxDelay,
				Multiplier: 2,
			},
		},
		logger,
	)

	dispatcher := application.NewDispatcher(
		dedupStore,
		integrationStore,
		credentials,
		adapters,
		coordinator,
		worker,
		clock,
		application.DispatcherConfig{
			DedupHorizon:  cfg.DedupHorizon,
			PoolSize:      cfg.PoolSize,
			LaneQueueSize: cfg.LaneQueueSize,
		},
		logger,
	)
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	reconciler := application.NewReconciler(
		adapters,
		integrationStore,
		credentials,
		entityStore,
		dispatcher,
		logger,
	)

	integrationService := application.NewIntegrationService(
		integrationStore,
		credentials,
		credentialStore,
		adapters,
		clock,
		cfg.WebhookBaseURL,
		logger,
	)

	server := apiinfra.NewServer(
		dispatcher,
		coordinator,
		reconciler,
		integrationService,
		runJournal,
		statusBus,
		logger,
	)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for shutdown signal, then drain in-flight work
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
}
