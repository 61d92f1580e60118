package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intentd_intents_admitted_total",
		Help: "The total number of intents admitted into the store",
	})

	IntentsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentd_intents_executed_total",
		Help: "The total number of successfully executed intents by token pair",
	}, []string{"source_token", "target_token"})

	IntentsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intentd_intents_cancelled_total",
		Help: "The total number of user-cancelled intents",
	})

	IntentsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentd_intents_failed_total",
		Help: "The total number of terminally failed intents by reason",
	}, []string{"reason"})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intentd_pending_intents",
		Help: "The number of pending intents waiting for execution",
	})

	ExecutionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intentd_execution_attempts_total",
		Help: "The total number of execution attempts claimed by the engine",
	})

	ExecutionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intentd_execution_retries_total",
		Help: "The total number of execution attempts reverted to pending by reason",
	}, []string{"reason"})

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intentd_execution_seconds",
		Help:    "Time taken by a single execution attempt",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intentd_sweep_seconds",
		Help:    "Time taken by a scheduler sweep over pending intents",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	QuoteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intentd_quote_errors_total",
		Help: "The total number of failed quote source calls",
	})

	SettlementErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intentd_settlement_errors_total",
		Help: "The total number of failed settlement submissions",
	})
)
