package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/intentx-hq/intentd/pkg/logger"
)

const (
	// DefaultAPIPort defines the default port for the intent API server
	DefaultAPIPort = "3001"

	// DefaultMetricsPort defines the default port for the health and metrics server
	DefaultMetricsPort = "8080"

	// DefaultPollingInterval defines the default scheduler sweep interval in seconds
	DefaultPollingInterval = 5

	// DefaultMaxExecutionAttempts defines the retry budget per intent
	DefaultMaxExecutionAttempts = 10

	// DefaultQuoteTimeout defines the timeout for a quote source call in seconds
	DefaultQuoteTimeout = 10

	// DefaultSettlementTimeout defines the timeout for a settlement submission in seconds
	DefaultSettlementTimeout = 120

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15
)

// GetEnvAPIPort returns the API server port from environment variables
func GetEnvAPIPort() (string, error) {
	apiPort := os.Getenv("API_PORT")
	if apiPort == "" {
		return DefaultAPIPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(apiPort); err != nil {
		return "", fmt.Errorf("invalid API_PORT value: %s, must be a valid integer", apiPort)
	}
	return apiPort, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvPollingInterval returns the scheduler sweep interval in seconds from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	pollingInterval := os.Getenv("POLLING_INTERVAL")
	if pollingInterval == "" {
		return time.Duration(DefaultPollingInterval) * time.Second, nil
	}

	// use atoi
	interval, err := strconv.Atoi(pollingInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid POLLING_INTERVAL value: %s, must be an integer", pollingInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLLING_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvMaxExecutionAttempts returns the per-intent retry budget from environment variables
func GetEnvMaxExecutionAttempts() (int, error) {
	maxAttempts := os.Getenv("MAX_EXECUTION_ATTEMPTS")
	if maxAttempts == "" {
		return DefaultMaxExecutionAttempts, nil
	}

	maxAttemptsInt, err := strconv.Atoi(maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_EXECUTION_ATTEMPTS value: %s, must be an integer", maxAttempts)
	}
	if maxAttemptsInt <= 0 {
		return 0, fmt.Errorf("MAX_EXECUTION_ATTEMPTS must be greater than 0")
	}
	return maxAttemptsInt, nil
}

// GetEnvQuoteTimeout returns the quote source timeout in seconds from environment variables
func GetEnvQuoteTimeout() (time.Duration, error) {
	quoteTimeout := os.Getenv("QUOTE_TIMEOUT")
	if quoteTimeout == "" {
		return time.Duration(DefaultQuoteTimeout) * time.Second, nil
	}

	timeout, err := strconv.Atoi(quoteTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid QUOTE_TIMEOUT value: %s, must be an integer", quoteTimeout)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("QUOTE_TIMEOUT must be greater than 0")
	}
	return time.Duration(timeout) * time.Second, nil
}

// GetEnvSettlementTimeout returns the settlement submission timeout in seconds from environment variables
func GetEnvSettlementTimeout() (time.Duration, error) {
	settlementTimeout := os.Getenv("SETTLEMENT_TIMEOUT")
	if settlementTimeout == "" {
		return time.Duration(DefaultSettlementTimeout) * time.Second, nil
	}

	timeout, err := strconv.Atoi(settlementTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid SETTLEMENT_TIMEOUT value: %s, must be an integer", settlementTimeout)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("SETTLEMENT_TIMEOUT must be greater than 0")
	}
	return time.Duration(timeout) * time.Second, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	switch level {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}

	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}
