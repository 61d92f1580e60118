package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentx-hq/intentd/pkg/circuitbreaker"
	"github.com/intentx-hq/intentd/pkg/models"
	"github.com/intentx-hq/intentd/pkg/quote"
	"github.com/intentx-hq/intentd/pkg/signing"
	"github.com/intentx-hq/intentd/pkg/store"
)

// stubQuoteSource returns a fixed output or error for every pair.
type stubQuoteSource struct {
	output decimal.Decimal
	err    error
}

func (s *stubQuoteSource) Quote(_ context.Context, sourceToken, targetToken string, _ decimal.Decimal) (*quote.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &quote.Quote{
		EstimatedOutput: s.output,
		Route: quote.Route{
			Path:       []string{sourceToken, targetToken},
			Protocol:   "UniswapV3",
			Confidence: 0.95,
		},
		GasEstimate: "150000",
	}, nil
}

// stubSettler records calls and returns a fixed ref or error.
type stubSettler struct {
	ref   string
	err   error
	calls int
}

func (s *stubSettler) Settle(_ context.Context, _ string, _ decimal.Decimal) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.ref, nil
}

func newTestEngine(st store.Store, quotes quote.Source, cfg Config) *Engine {
	return New(st, signing.NewEthereumVerifier(), quotes, nil, nil, nil, cfg)
}

func signedAdmitRequest(t *testing.T) AdmitRequest {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	req := AdmitRequest{
		SourceToken:     "ETH",
		TargetToken:     "USDC",
		SourceAmount:    "1.5",
		MinTargetAmount: "2700",
		SlippageBps:     100,
		UserAddress:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Timestamp:       time.Now().UnixMilli(),
	}

	msg := signing.CanonicalMessage(
		req.SourceToken, req.TargetToken, req.SourceAmount, req.MinTargetAmount,
		req.SlippageBps, req.Timestamp,
	)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[64] += 27
	req.Signature = hexutil.Encode(sig)
	return req
}

func putPending(t *testing.T, st store.Store, id string) *models.Intent {
	t.Helper()
	intent := &models.Intent{
		ID:              id,
		UserAddress:     "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		SourceToken:     "ETH",
		TargetToken:     "USDC",
		SourceAmount:    "1.5",
		MinTargetAmount: "2700",
		SlippageBps:     100,
		Status:          models.StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, st.Put(context.Background(), intent))
	return intent
}

func TestAdmitValidIntent(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(st, &stubQuoteSource{}, Config{})
	ctx := context.Background()

	req := signedAdmitRequest(t)
	intent, err := eng.Admit(ctx, req)
	require.NoError(t, err)

	assert.NotEmpty(t, intent.ID)
	assert.Equal(t, models.StatusPending, intent.Status)
	assert.Equal(t, req.UserAddress, intent.UserAddress)
	assert.Equal(t, "1.5", intent.SourceAmount)
	assert.Equal(t, 0, intent.Attempts)

	stored, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestAdmitValidation(t *testing.T) {
	eng := newTestEngine(store.NewMemoryStore(), &stubQuoteSource{}, Config{})
	ctx := context.Background()

	base := signedAdmitRequest(t)

	cases := []struct {
		name   string
		mutate func(*AdmitRequest)
	}{
		{"non-numeric source amount", func(r *AdmitRequest) { r.SourceAmount = "abc" }},
		{"zero source amount", func(r *AdmitRequest) { r.SourceAmount = "0" }},
		{"negative source amount", func(r *AdmitRequest) { r.SourceAmount = "-1" }},
		{"zero min target", func(r *AdmitRequest) { r.MinTargetAmount = "0" }},
		{"slippage above bound", func(r *AdmitRequest) { r.SlippageBps = 10001 }},
		{"negative slippage", func(r *AdmitRequest) { r.SlippageBps = -1 }},
		{"bad address", func(r *AdmitRequest) { r.UserAddress = "not-an-address" }},
		{"missing signature", func(r *AdmitRequest) { r.Signature = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := eng.Admit(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestAdmitSignatureMismatch(t *testing.T) {
	eng := newTestEngine(store.NewMemoryStore(), &stubQuoteSource{}, Config{})

	req := signedAdmitRequest(t)
	// Claim an address that did not sign
	req.UserAddress = "0x0000000000000000000000000000000000000001"

	_, err := eng.Admit(context.Background(), req)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestAdmitTamperedFields(t *testing.T) {
	eng := newTestEngine(store.NewMemoryStore(), &stubQuoteSource{}, Config{})

	req := signedAdmitRequest(t)
	req.MinTargetAmount = "1"

	_, err := eng.Admit(context.Background(), req)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestAdmitMalformedSignature(t *testing.T) {
	eng := newTestEngine(store.NewMemoryStore(), &stubQuoteSource{}, Config{})

	req := signedAdmitRequest(t)
	req.Signature = "0x1234"

	_, err := eng.Admit(context.Background(), req)
	assert.ErrorIs(t, err, signing.ErrInvalidSignature)
}

func TestCancelPendingIntent(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(st, &stubQuoteSource{}, Config{})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	cancelled, err := eng.Cancel(ctx, intent.ID, intent.UserAddress)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.ExecutedAt)

	// Already terminal
	_, err = eng.Cancel(ctx, intent.ID, intent.UserAddress)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelOwnership(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(st, &stubQuoteSource{}, Config{})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	_, err := eng.Cancel(ctx, intent.ID, "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, ErrForbidden)

	// Owner match is case-insensitive
	lower := "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	cancelled, err := eng.Cancel(ctx, intent.ID, lower)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestCancelNotFound(t *testing.T) {
	eng := newTestEngine(store.NewMemoryStore(), &stubQuoteSource{}, Config{})

	_, err := eng.Cancel(context.Background(), "missing", "0xaaa")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAttemptExecutionSucceeds(t *testing.T) {
	st := store.NewMemoryStore()
	// min 2700, slippage 100 bps, quote 2775: above minimum, executes
	eng := newTestEngine(st, &stubQuoteSource{output: decimal.NewFromInt(2775)}, Config{})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	outcome, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)

	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, got.Status)
	assert.Equal(t, "2775", got.ExecutedAmount)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.ExecutedAt)
}

func TestAttemptExecutionInsufficientOutput(t *testing.T) {
	st := store.NewMemoryStore()
	// Quote 2000 is far below minimum 2700: retried, then failed
	eng := newTestEngine(st, &stubQuoteSource{output: decimal.NewFromInt(2000)}, Config{MaxExecutionAttempts: 2})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	outcome, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome)

	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	outcome, err = eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got, err = st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ReasonInsufficientOutput, got.FailReason)
}

func TestAttemptExecutionSlippageExceeded(t *testing.T) {
	st := store.NewMemoryStore()
	// Shortfall 20 sits inside the 27-unit band (2700 * 100bps)
	eng := newTestEngine(st, &stubQuoteSource{output: decimal.NewFromInt(2680)}, Config{MaxExecutionAttempts: 1})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	outcome, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ReasonSlippageExceeded, got.FailReason)
}

func TestAttemptExecutionQuoteError(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(st, &stubQuoteSource{err: errors.New("aggregator down")}, Config{MaxExecutionAttempts: 2})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	outcome, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome)

	outcome, err = eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonQuoteUnavailable, got.FailReason)
}

func TestAttemptExecutionAlreadyHandled(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(st, &stubQuoteSource{output: decimal.NewFromInt(2775)}, Config{})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	_, err := eng.Cancel(ctx, intent.ID, intent.UserAddress)
	require.NoError(t, err)

	outcome, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)

	// The cancellation stands
	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestCancelLosesToExecution(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(st, &stubQuoteSource{output: decimal.NewFromInt(2775)}, Config{})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	_, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)

	_, err = eng.Cancel(ctx, intent.ID, intent.UserAddress)
	assert.ErrorIs(t, err, ErrNotCancellable)

	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, got.Status)
}

func TestAttemptExecutionWithSettlement(t *testing.T) {
	st := store.NewMemoryStore()
	settler := &stubSettler{ref: "0xabc123"}
	eng := New(st, signing.NewEthereumVerifier(), &stubQuoteSource{output: decimal.NewFromInt(2775)}, settler, nil, nil, Config{})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	outcome, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
	assert.Equal(t, 1, settler.calls)

	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, got.Status)
	assert.Equal(t, "0xabc123", got.SettlementRef)
	assert.Equal(t, "2775", got.ExecutedAmount)
}

func TestAttemptExecutionSettlementFailure(t *testing.T) {
	st := store.NewMemoryStore()
	settler := &stubSettler{err: errors.New("rpc timeout")}
	breaker := circuitbreaker.NewCircuitBreaker(true, 2, time.Minute, time.Minute)
	eng := New(st, signing.NewEthereumVerifier(), &stubQuoteSource{output: decimal.NewFromInt(2775)}, settler, breaker, nil, Config{})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	outcome, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ReasonSettlementError, got.FailReason)

	failureCount, _, _, _ := breaker.GetState()
	assert.Equal(t, 1, failureCount)
}

func TestAttemptExecutionCircuitOpen(t *testing.T) {
	st := store.NewMemoryStore()
	settler := &stubSettler{ref: "0xabc123"}
	breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Minute)
	breaker.RecordFailure()
	require.True(t, breaker.IsOpen())

	eng := New(st, signing.NewEthereumVerifier(), &stubQuoteSource{output: decimal.NewFromInt(2775)}, settler, breaker, nil, Config{})
	ctx := context.Background()

	intent := putPending(t, st, "intent-1")

	outcome, err := eng.AttemptExecution(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Equal(t, 0, settler.calls)

	got, err := st.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestRecover(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(st, &stubQuoteSource{}, Config{})
	ctx := context.Background()

	settled := &models.Intent{
		ID:              "settled",
		UserAddress:     "0xaaa",
		SourceToken:     "ETH",
		TargetToken:     "USDC",
		SourceAmount:    "1",
		MinTargetAmount: "1800",
		Status:          models.StatusExecuting,
		ExecutedAmount:  "1813",
		SettlementRef:   "0xdeadbeef",
		Attempts:        1,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, st.Put(ctx, settled))

	// Crashed after persisting the executed amount but before the
	// settlement ref was recorded
	interrupted := putPending(t, st, "interrupted")
	_, err := st.CompareAndTransition(ctx, interrupted.ID, models.StatusPending, func(i *models.Intent) {
		i.Status = models.StatusExecuting
		i.Attempts++
		i.ExecutedAmount = "2775"
	})
	require.NoError(t, err)

	require.NoError(t, eng.Recover(ctx))

	// A recorded settlement ref means the swap completed
	got, err := st.Get(ctx, "settled")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, got.Status)
	assert.NotNil(t, got.ExecutedAt)

	// No ref means the attempt never settled; back to pending with the
	// unsettled amount cleared
	got, err = st.Get(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.ExecutedAmount)
}
