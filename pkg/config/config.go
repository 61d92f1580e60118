package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/intentx-hq/intentd/pkg/logger"
)

// Config holds the configuration for the intent service
type Config struct {
	APIPort              string
	MetricsPort          string
	MetricsAPIKey        string
	PollingInterval      time.Duration
	MaxExecutionAttempts int
	QuoteTimeout         time.Duration
	SettlementTimeout    time.Duration
	DatabasePath         string
	Settlement           SettlementConfig
	CircuitBreaker       CircuitBreakerConfig
	LoggerConfig         LoggerConfig
}

// SettlementConfig holds the on-chain settlement configuration. Settlement is
// optional: with no RPC URL configured the engine executes without it.
type SettlementConfig struct {
	Enabled       bool
	RPCURL        string
	IntentAddress string
	PrivateKey    string
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	maxAttempts, err := GetEnvMaxExecutionAttempts()
	if err != nil {
		return nil, err
	}

	quoteTimeout, err := GetEnvQuoteTimeout()
	if err != nil {
		return nil, err
	}

	settlementTimeout, err := GetEnvSettlementTimeout()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	settlementRPC := os.Getenv("SETTLEMENT_RPC_URL")

	cfg := &Config{
		APIPort:              apiPort,
		MetricsPort:          metricsPort,
		MetricsAPIKey:        os.Getenv("METRICS_API_KEY"),
		PollingInterval:      pollingInterval,
		MaxExecutionAttempts: maxAttempts,
		QuoteTimeout:         quoteTimeout,
		SettlementTimeout:    settlementTimeout,
		DatabasePath:         os.Getenv("DATABASE_PATH"),
		Settlement: SettlementConfig{
			Enabled:       settlementRPC != "",
			RPCURL:        settlementRPC,
			IntentAddress: os.Getenv("SETTLEMENT_INTENT_ADDRESS"),
			PrivateKey:    os.Getenv("SETTLEMENT_PRIVATE_KEY"),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Settlement.Enabled {
		if cfg.Settlement.IntentAddress == "" {
			return fmt.Errorf("SETTLEMENT_INTENT_ADDRESS is required when SETTLEMENT_RPC_URL is set")
		}
		if cfg.Settlement.PrivateKey == "" {
			return fmt.Errorf("SETTLEMENT_PRIVATE_KEY is required when SETTLEMENT_RPC_URL is set")
		}
	}
	if cfg.APIPort == cfg.MetricsPort {
		return fmt.Errorf("API_PORT and METRICS_PORT must differ")
	}
	return nil
}
