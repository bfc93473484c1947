// patternctl is the review-fix pairing and pattern-lifecycle service:
// it consumes review/fix/feedback events off the bus, maintains the
// pattern lifecycle and pairing state machines in Postgres, and exposes
// a minimal health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/codeready-toolchain/patternctl/internal/handlers"
	"github.com/codeready-toolchain/patternctl/pkg/api"
	"github.com/codeready-toolchain/patternctl/pkg/bus"
	"github.com/codeready-toolchain/patternctl/pkg/config"
	"github.com/codeready-toolchain/patternctl/pkg/contract"
	"github.com/codeready-toolchain/patternctl/pkg/database"
	"github.com/codeready-toolchain/patternctl/pkg/dispatch"
	"github.com/codeready-toolchain/patternctl/pkg/feedback"
	"github.com/codeready-toolchain/patternctl/pkg/fsm"
	"github.com/codeready-toolchain/patternctl/pkg/learning"
	"github.com/codeready-toolchain/patternctl/pkg/lifecycle"
	"github.com/codeready-toolchain/patternctl/pkg/memoryclient"
	"github.com/codeready-toolchain/patternctl/pkg/outbox"
	"github.com/codeready-toolchain/patternctl/pkg/pairing"
	"github.com/codeready-toolchain/patternctl/pkg/quarantine"
	"github.com/codeready-toolchain/patternctl/pkg/redact"
	"github.com/codeready-toolchain/patternctl/pkg/retention"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
	"github.com/codeready-toolchain/patternctl/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envPath := flag.String("env-file",
		getEnv("ENV_FILE", "./deploy/config/.env"),
		"Path to an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting patternctl", zap.String("version", version.Full()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, database.Config{
		DSN:             cfg.DBURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		logger.Fatal("database connect", zap.Error(err))
	}
	defer dbClient.Close() //nolint:errcheck

	if err := database.VerifyBootHandshake(ctx, dbClient.DB(), 1, version.AppName); err != nil {
		logger.Fatal("boot handshake", zap.Error(err))
	}
	logger.Info("boot handshake verified")

	contracts, err := contract.Load(cfg.ContractDir)
	if err != nil {
		logger.Fatal("contract load", zap.Error(err))
	}

	// Domain wiring: one repository per owned table, one engine/reducer per
	// module, sharing the same connection pool.
	pairingRepo := storage.NewPairingRepository(dbClient.DB())
	domainRepo := storage.NewDomainRepository(dbClient.DB())
	patternRepo := storage.NewPatternRepository(dbClient.DB())
	lifecycleRepo := storage.NewLifecycleRepository(dbClient.DB())
	feedbackRepo := storage.NewFeedbackRepository(dbClient.DB())
	fsmRepo := storage.NewFSMRepository(dbClient.DB())

	var memoryClient *memoryclient.Client
	if cfg.MemoryServiceURL != "" {
		memoryClient = memoryclient.NewClient(cfg.MemoryServiceURL, memoryclient.Settings{
			Timeout:          cfg.MemoryServiceTimeout,
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			OpenDuration:     cfg.CircuitBreakerOpenDuration,
		})
	} else {
		logger.Warn("MEMORY_SERVICE_URL unset: learning pipeline will not index patterns into the external memory service")
	}

	pairingEngine := pairing.NewEngine(pairingRepo)
	learningPipeline := learning.NewPipeline(patternRepo, domainRepo, memoryClient)
	lifecycleReducer := lifecycle.NewReducer(lifecycleRepo)
	feedbackScorer := feedback.NewScorer(feedbackRepo, lifecycleReducer, cfg.SuccessDurationCeilingMS)
	fsmReducer := fsm.NewReducer(fsmRepo)

	orphanDetector := fsm.NewOrphanDetector(fsmRepo, logger, cfg.OrphanDetectionInterval, cfg.OrphanThreshold)
	orphanDetector.Start(ctx)

	feedbackScheduler := feedback.NewScheduler(feedbackScorer, cfg.FeedbackRollupWindow, logger)
	if err := feedbackScheduler.Start(ctx, cfg.FeedbackRollupSchedule); err != nil {
		logger.Fatal("feedback rollup scheduler start", zap.Error(err))
	}
	defer feedbackScheduler.Stop()

	redactor := redact.NewRedactor(logger)
	quarantineSink := quarantine.NewSink(dbClient.DB(), redactor, cfg.QuarantineTopic)

	registry := dispatch.NewRegistry(quarantineSink, logger, dispatch.BreakerSettings{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		OpenDurationSec:  int64(cfg.CircuitBreakerOpenDuration.Seconds()),
	})

	outboxStore := outbox.NewStore()
	if err := handlers.Register(registry, handlers.Deps{
		DB:                              dbClient.DB(),
		Pairing:                         pairingEngine,
		Learning:                        learningPipeline,
		Feedback:                        feedbackScorer,
		Lifecycle:                       lifecycleReducer,
		FSM:                             fsmReducer,
		Outbox:                          outboxStore,
		PairingRepo:                     pairingRepo,
		PairCreatedTopic:                cfg.PairCreatedTopic,
		PairingTemporalWindow:           cfg.PairingTemporalWindow,
		PairingConfidenceFloor:          cfg.PairingConfidenceFloor,
		FSMLeaseTTL:                     cfg.LeaseTTL,
		PatternLifecycleTransitionTopic: cfg.PatternLifecycleTransitionTopic,
		PatternPromotedTopic:            cfg.PatternPromotedTopic,
		PatternDeprecatedTopic:          cfg.PatternDeprecatedTopic,
	}); err != nil {
		logger.Fatal("handler registration", zap.Error(err))
	}

	var transport bus.Transport
	if cfg.ConsumersEnabled() {
		transport = bus.NewKafkaTransport(strings.Split(cfg.BusBootstrap, ","))
	} else {
		transport = bus.NewInprocTransport()
		logger.Warn("ACTIVATION_GATE unset: consumer fleet running in health-only mode")
	}
	defer transport.Close() //nolint:errcheck

	fleet := bus.NewFleet(transport, registry, cfg.BusConsumerGroup, cfg.WorkerCount, cfg.HandlerTimeout, logger, cfg.ConsumersEnabled())
	if err := fleet.Start(ctx, contracts.Topics()); err != nil {
		logger.Fatal("fleet start", zap.Error(err))
	}
	defer fleet.Stop()

	relay := outbox.NewRelay(dbClient.DB(), transport, cfg.PollInterval, logger)
	relay.Start(ctx)
	defer relay.Stop()

	retentionService := retention.NewService(dbClient.DB(), cfg.RetentionDaysFSMHistory, logger)
	if err := retentionService.Start(ctx, "0 3 * * *"); err != nil {
		logger.Fatal("retention start", zap.Error(err))
	}
	defer retentionService.Stop()

	httpPort := getEnv("HTTP_PORT", "8080")
	router := api.NewServer(getEnv("GIN_MODE", "release"), api.Deps{
		DB:       dbClient.DB(),
		Fleet:    fleet,
		Registry: registry,
	})

	srv := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("port", httpPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
