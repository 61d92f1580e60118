package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/intentx-hq/intentd/pkg/circuitbreaker"
	"github.com/intentx-hq/intentd/pkg/logger"
	"github.com/intentx-hq/intentd/pkg/metrics"
	"github.com/intentx-hq/intentd/pkg/models"
	"github.com/intentx-hq/intentd/pkg/quote"
	"github.com/intentx-hq/intentd/pkg/settlement"
	"github.com/intentx-hq/intentd/pkg/signing"
	"github.com/intentx-hq/intentd/pkg/store"
)

// MaxSlippageBps bounds the slippage tolerance a submission may declare.
const MaxSlippageBps = 10000

var (
	// ErrValidation is returned on malformed or out-of-bounds submissions.
	ErrValidation = errors.New("invalid intent request")
	// ErrSignatureMismatch is returned when the recovered signer differs from
	// the claimed user address.
	ErrSignatureMismatch = errors.New("signature does not match the claimed address")
	// ErrForbidden is returned when the requester does not own the intent.
	ErrForbidden = errors.New("requester does not own this intent")
	// ErrNotCancellable is returned when an intent has already left the
	// pending state and can no longer be cancelled.
	ErrNotCancellable = errors.New("intent is not cancellable")
)

// Outcome summarizes what a single execution attempt did.
type Outcome string

const (
	// OutcomeExecuted means the intent reached the executed state.
	OutcomeExecuted Outcome = "executed"
	// OutcomeRetry means the claim was reverted to pending for a later sweep.
	OutcomeRetry Outcome = "retry"
	// OutcomeFailed means the intent reached the failed state.
	OutcomeFailed Outcome = "failed"
	// OutcomeAlreadyHandled means another caller moved the intent out of
	// pending first. A benign no-op, not an error.
	OutcomeAlreadyHandled Outcome = "already_handled"
)

// AdmitRequest carries the fields of a signed intent submission.
type AdmitRequest struct {
	SourceToken     string
	TargetToken     string
	SourceAmount    string
	MinTargetAmount string
	SlippageBps     int64
	UserAddress     string
	Signature       string
	Timestamp       int64
}

// Config holds the engine's tunables.
type Config struct {
	// MaxExecutionAttempts bounds retries for market-condition rejections
	// before an intent is terminally failed.
	MaxExecutionAttempts int
	// QuoteTimeout bounds a single quote source call.
	QuoteTimeout time.Duration
	// SettlementTimeout bounds a single settlement submission.
	SettlementTimeout time.Duration
}

// Engine validates, admits and transitions intents through their lifecycle.
// All state mutation funnels through the store's compare-and-transition
// primitive, which is what makes concurrent cancel/execute races safe.
type Engine struct {
	store    store.Store
	verifier signing.Verifier
	quotes   quote.Source
	settler  settlement.Settler
	breaker  *circuitbreaker.CircuitBreaker
	logger   logger.Logger
	cfg      Config
}

// New creates an engine. settler may be nil, in which case execution
// completes without external settlement.
func New(st store.Store, verifier signing.Verifier, quotes quote.Source, settler settlement.Settler, breaker *circuitbreaker.CircuitBreaker, log logger.Logger, cfg Config) *Engine {
	if cfg.MaxExecutionAttempts <= 0 {
		cfg.MaxExecutionAttempts = 10
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 10 * time.Second
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 2 * time.Minute
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Engine{
		store:    st,
		verifier: verifier,
		quotes:   quotes,
		settler:  settler,
		breaker:  breaker,
		logger:   log,
		cfg:      cfg,
	}
}

// Admit validates the submission, verifies its signature and inserts a new
// pending intent owned by the recovered signer.
func (e *Engine) Admit(ctx context.Context, req AdmitRequest) (*models.Intent, error) {
	sourceAmount, minTargetAmount, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	message := signing.CanonicalMessage(
		req.SourceToken, req.TargetToken, req.SourceAmount, req.MinTargetAmount,
		req.SlippageBps, req.Timestamp,
	)
	recovered, err := e.verifier.Verify(message, req.Signature)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(recovered, req.UserAddress) {
		return nil, ErrSignatureMismatch
	}

	intent := &models.Intent{
		ID:              uuid.NewString(),
		UserAddress:     recovered,
		SourceToken:     req.SourceToken,
		TargetToken:     req.TargetToken,
		SourceAmount:    sourceAmount.String(),
		MinTargetAmount: minTargetAmount.String(),
		SlippageBps:     req.SlippageBps,
		Status:          models.StatusPending,
		CreatedAt:       time.Now().UTC(),
	}

	if err := e.store.Put(ctx, intent); err != nil {
		return nil, err
	}

	metrics.IntentsAdmitted.Inc()
	e.logger.InfoWithScope(logger.Engine, "Admitted intent %s: %s %s -> %s (min %s) for %s",
		intent.ID, intent.SourceAmount, intent.SourceToken, intent.TargetToken,
		intent.MinTargetAmount, intent.UserAddress)
	return intent, nil
}

// Cancel moves a pending intent owned by requester to the cancelled state.
// Once execution has claimed the intent, cancellation fails with
// ErrNotCancellable.
func (e *Engine) Cancel(ctx context.Context, id, requester string) (*models.Intent, error) {
	intent, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(intent.UserAddress, requester) {
		return nil, ErrForbidden
	}

	now := time.Now().UTC()
	updated, err := e.store.CompareAndTransition(ctx, id, models.StatusPending, func(i *models.Intent) {
		i.Status = models.StatusCancelled
		i.ExecutedAt = &now
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return updated, ErrNotCancellable
		}
		return nil, err
	}

	metrics.IntentsCancelled.Inc()
	e.logger.InfoWithScope(logger.Engine, "Cancelled intent %s", id)
	return updated, nil
}

// AttemptExecution drives one pending intent through a single execution
// attempt. The initial pending-to-executing transition is the only
// serialization point: losing that race yields OutcomeAlreadyHandled.
// Whatever happens, the intent never remains in the executing state when
// this returns.
func (e *Engine) AttemptExecution(ctx context.Context, id string) (Outcome, error) {
	claimed, err := e.store.CompareAndTransition(ctx, id, models.StatusPending, func(i *models.Intent) {
		i.Status = models.StatusExecuting
		i.Attempts++
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return OutcomeAlreadyHandled, nil
		}
		return "", err
	}

	metrics.ExecutionAttempts.Inc()
	start := time.Now()
	defer func() {
		metrics.ExecutionDuration.Observe(time.Since(start).Seconds())
	}()

	quoteCtx, cancel := context.WithTimeout(ctx, e.cfg.QuoteTimeout)
	q, err := e.quotes.Quote(quoteCtx, claimed.SourceToken, claimed.TargetToken, decimal.RequireFromString(claimed.SourceAmount))
	cancel()
	if err != nil {
		metrics.QuoteErrors.Inc()
		e.logger.ErrorWithScope(logger.Quote, "Quote failed for intent %s: %v", id, err)
		return e.retryOrFail(ctx, claimed, models.ReasonQuoteUnavailable)
	}

	executedAmount := q.EstimatedOutput
	minTarget := decimal.RequireFromString(claimed.MinTargetAmount)

	if executedAmount.LessThan(minTarget) {
		// Within the slippage band it's a near miss the market may still
		// close; beyond it the quote is nowhere near the target.
		band := minTarget.Mul(decimal.NewFromInt(claimed.SlippageBps)).Div(decimal.NewFromInt(MaxSlippageBps))
		shortfall := minTarget.Sub(executedAmount)
		reason := models.ReasonInsufficientOutput
		if shortfall.LessThanOrEqual(band) {
			reason = models.ReasonSlippageExceeded
		}
		e.logger.DebugWithScope(logger.Engine, "Intent %s output %s below minimum %s (%s)",
			id, executedAmount.String(), minTarget.String(), reason)
		return e.retryOrFail(ctx, claimed, reason)
	}

	settlementRef := ""
	if e.settler != nil {
		if e.breaker != nil && e.breaker.IsEnabled() && e.breaker.IsOpen() {
			e.logger.NoticeWithScope(logger.Settlement, "Circuit open, deferring settlement for intent %s", id)
			return e.revertToPending(ctx, id)
		}

		// Record the pending settlement before submitting, so a crash
		// between submission and the final transition can be reconciled
		// from the settlement ref at startup.
		amount := executedAmount
		if _, err := e.store.CompareAndTransition(ctx, id, models.StatusExecuting, func(i *models.Intent) {
			i.ExecutedAmount = amount.String()
		}); err != nil {
			return "", err
		}

		settleCtx, cancel := context.WithTimeout(ctx, e.cfg.SettlementTimeout)
		ref, err := e.settler.Settle(settleCtx, id, executedAmount)
		cancel()
		if err != nil {
			metrics.SettlementErrors.Inc()
			if e.breaker != nil {
				e.breaker.RecordFailure()
			}
			e.logger.ErrorWithScope(logger.Settlement, "Settlement failed for intent %s: %v", id, err)
			return e.fail(ctx, id, claimed, models.ReasonSettlementError)
		}
		settlementRef = ref

		if _, err := e.store.CompareAndTransition(ctx, id, models.StatusExecuting, func(i *models.Intent) {
			i.SettlementRef = ref
		}); err != nil {
			return "", err
		}
	}

	now := time.Now().UTC()
	if _, err := e.store.CompareAndTransition(ctx, id, models.StatusExecuting, func(i *models.Intent) {
		i.Status = models.StatusExecuted
		i.ExecutedAmount = executedAmount.String()
		i.ExecutedAt = &now
		if settlementRef != "" {
			i.SettlementRef = settlementRef
		}
	}); err != nil {
		return "", err
	}

	metrics.IntentsExecuted.WithLabelValues(claimed.SourceToken, claimed.TargetToken).Inc()
	e.logger.NoticeWithScope(logger.Engine, "Executed intent %s: %s %s for %s %s",
		id, claimed.SourceAmount, claimed.SourceToken, executedAmount.String(), claimed.TargetToken)
	return OutcomeExecuted, nil
}

// retryOrFail reverts the execution claim to pending while the retry budget
// lasts, then terminally fails the intent with the given reason.
func (e *Engine) retryOrFail(ctx context.Context, claimed *models.Intent, reason models.FailReason) (Outcome, error) {
	if claimed.Attempts >= e.cfg.MaxExecutionAttempts {
		e.logger.NoticeWithScope(logger.Engine, "Intent %s exhausted %d attempts, failing (%s)",
			claimed.ID, claimed.Attempts, reason)
		return e.fail(ctx, claimed.ID, claimed, reason)
	}
	metrics.ExecutionRetries.WithLabelValues(string(reason)).Inc()
	return e.revertToPending(ctx, claimed.ID)
}

// revertToPending undoes the execution claim. This is the one permitted
// reverse transition.
func (e *Engine) revertToPending(ctx context.Context, id string) (Outcome, error) {
	if _, err := e.store.CompareAndTransition(ctx, id, models.StatusExecuting, func(i *models.Intent) {
		i.Status = models.StatusPending
	}); err != nil {
		return "", err
	}
	return OutcomeRetry, nil
}

func (e *Engine) fail(ctx context.Context, id string, claimed *models.Intent, reason models.FailReason) (Outcome, error) {
	if _, err := e.store.CompareAndTransition(ctx, id, models.StatusExecuting, func(i *models.Intent) {
		i.Status = models.StatusFailed
		i.FailReason = reason
		// Only executed intents carry an executed amount
		i.ExecutedAmount = ""
	}); err != nil {
		return "", err
	}
	metrics.IntentsFailed.WithLabelValues(string(reason)).Inc()
	return OutcomeFailed, nil
}

// Recover reconciles intents left in the executing state by a previous
// process. An intent with a recorded settlement ref already settled, so it
// is finalized as executed; the rest return to pending for a fresh attempt.
func (e *Engine) Recover(ctx context.Context) error {
	stuck, err := e.store.ListExecuting(ctx)
	if err != nil {
		return fmt.Errorf("failed to list executing intents: %w", err)
	}
	for _, intent := range stuck {
		if intent.SettlementRef != "" {
			now := time.Now().UTC()
			if _, err := e.store.CompareAndTransition(ctx, intent.ID, models.StatusExecuting, func(i *models.Intent) {
				i.Status = models.StatusExecuted
				i.ExecutedAt = &now
			}); err != nil && !errors.Is(err, store.ErrStaleState) {
				return err
			}
			e.logger.NoticeWithScope(logger.Engine, "Recovered intent %s as executed (settlement %s)",
				intent.ID, intent.SettlementRef)
			continue
		}
		if _, err := e.store.CompareAndTransition(ctx, intent.ID, models.StatusExecuting, func(i *models.Intent) {
			i.Status = models.StatusPending
			// The amount persisted ahead of the settlement call never settled
			i.ExecutedAmount = ""
		}); err != nil && !errors.Is(err, store.ErrStaleState) {
			return err
		}
		e.logger.NoticeWithScope(logger.Engine, "Recovered intent %s back to pending", intent.ID)
	}
	return nil
}

// Analytics returns aggregate counters, scoped to a user when userAddress is
// non-empty.
func (e *Engine) Analytics(ctx context.Context, userAddress string) (models.Analytics, error) {
	return e.store.Stats(ctx, userAddress)
}

// Get returns a single intent by id.
func (e *Engine) Get(ctx context.Context, id string) (*models.Intent, error) {
	return e.store.Get(ctx, id)
}

// ListByUser returns a user's intents, most-recent-first.
func (e *Engine) ListByUser(ctx context.Context, userAddress string) ([]*models.Intent, error) {
	return e.store.ListByUser(ctx, userAddress)
}

// ListPending returns pending intents, oldest-first.
func (e *Engine) ListPending(ctx context.Context) ([]*models.Intent, error) {
	return e.store.ListPending(ctx)
}

// validateRequest checks the submission's field bounds.
func validateRequest(req AdmitRequest) (decimal.Decimal, decimal.Decimal, error) {
	var zero decimal.Decimal

	sourceAmount, err := decimal.NewFromString(req.SourceAmount)
	if err != nil {
		return zero, zero, fmt.Errorf("%w: invalid source amount %q", ErrValidation, req.SourceAmount)
	}
	if !sourceAmount.IsPositive() {
		return zero, zero, fmt.Errorf("%w: source amount must be positive", ErrValidation)
	}

	minTargetAmount, err := decimal.NewFromString(req.MinTargetAmount)
	if err != nil {
		return zero, zero, fmt.Errorf("%w: invalid minimum target amount %q", ErrValidation, req.MinTargetAmount)
	}
	if !minTargetAmount.IsPositive() {
		return zero, zero, fmt.Errorf("%w: minimum target amount must be positive", ErrValidation)
	}

	if req.SlippageBps < 0 || req.SlippageBps > MaxSlippageBps {
		return zero, zero, fmt.Errorf("%w: slippage must be between 0 and %d basis points", ErrValidation, MaxSlippageBps)
	}

	if !common.IsHexAddress(req.UserAddress) {
		return zero, zero, fmt.Errorf("%w: invalid user address %q", ErrValidation, req.UserAddress)
	}
	if req.Signature == "" {
		return zero, zero, fmt.Errorf("%w: signature is required", ErrValidation)
	}

	return sourceAmount, minTargetAmount, nil
}
