package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/intentx-hq/intentd/pkg/api"
	"github.com/intentx-hq/intentd/pkg/circuitbreaker"
	"github.com/intentx-hq/intentd/pkg/config"
	"github.com/intentx-hq/intentd/pkg/engine"
	"github.com/intentx-hq/intentd/pkg/health"
	"github.com/intentx-hq/intentd/pkg/logger"
	"github.com/intentx-hq/intentd/pkg/quote"
	"github.com/intentx-hq/intentd/pkg/settlement"
	"github.com/intentx-hq/intentd/pkg/signing"
	"github.com/intentx-hq/intentd/pkg/store"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the intent store: sqlite when a database path is configured,
	// in-memory otherwise
	var st store.Store
	if cfg.DatabasePath != "" {
		st, err = store.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to open intent store: %v", err)
		}
		stdLogger.InfoWithScope(logger.Store, "Using sqlite store at %s", cfg.DatabasePath)
	} else {
		st = store.NewMemoryStore()
		stdLogger.InfoWithScope(logger.Store, "Using in-memory store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			stdLogger.ErrorWithScope(logger.Store, "Error closing store: %v", err)
		}
	}()

	// Optional on-chain settlement
	var settler settlement.Settler
	if cfg.Settlement.Enabled {
		chainSettler, err := settlement.NewChainSettler(
			cfg.Settlement.RPCURL,
			cfg.Settlement.IntentAddress,
			cfg.Settlement.PrivateKey,
		)
		if err != nil {
			log.Fatalf("Failed to create settler: %v", err)
		}
		settler = chainSettler
		stdLogger.InfoWithScope(logger.Settlement, "Settlement enabled via %s", cfg.Settlement.RPCURL)
	}

	breaker := circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
	)

	eng := engine.New(
		st,
		signing.NewEthereumVerifier(),
		quote.NewRateTableSource(),
		settler,
		breaker,
		stdLogger,
		engine.Config{
			MaxExecutionAttempts: cfg.MaxExecutionAttempts,
			QuoteTimeout:         cfg.QuoteTimeout,
			SettlementTimeout:    cfg.SettlementTimeout,
		},
	)

	// Reconcile intents a previous process left mid-execution
	if err := eng.Recover(ctx); err != nil {
		log.Fatalf("Failed to recover executing intents: %v", err)
	}

	// Start health monitoring server
	healthServer := health.NewServer(cfg.MetricsPort, st, breaker, cfg.MetricsAPIKey)
	go healthServer.Start()

	// Start the execution scheduler
	scheduler := engine.NewScheduler(eng, cfg.PollingInterval, stdLogger)
	scheduler.Start(ctx)

	// Port format is validated by LoadConfig
	apiPort, _ := strconv.Atoi(cfg.APIPort)
	apiServer := api.NewServer(eng, apiPort, stdLogger)

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Println("Received termination signal, shutting down gracefully...")
		cancel()
		scheduler.Wait()
		if err := apiServer.Shutdown(); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}()

	stdLogger.InfoWithScope(logger.API, "Starting intent API server on port %s", cfg.APIPort)
	if err := apiServer.Start(); err != nil {
		log.Fatalf("API server error: %v", err)
	}
}
