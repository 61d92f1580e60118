package quote

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedRateSourceQuote(t *testing.T) {
	s := NewFixedRateSource()

	q, err := s.Quote(context.Background(), "ETH", "USDC", decimal.NewFromFloat(1.5))
	require.NoError(t, err)

	// 1.5 * 1850 * 0.98 via the direct UniswapV3 route
	assert.Equal(t, "2719.5", q.EstimatedOutput.String())
	assert.Equal(t, "UniswapV3", q.Route.Protocol)
	assert.Equal(t, []string{"ETH", "USDC"}, q.Route.Path)
	assert.Equal(t, "150000", q.GasEstimate)
	assert.Equal(t, 0.95, q.Route.Confidence)
}

func TestFixedRateSourceStable(t *testing.T) {
	s := NewFixedRateSource()
	ctx := context.Background()

	first, err := s.Quote(ctx, "WBTC", "DAI", decimal.NewFromInt(2))
	require.NoError(t, err)
	second, err := s.Quote(ctx, "WBTC", "DAI", decimal.NewFromInt(2))
	require.NoError(t, err)

	assert.True(t, first.EstimatedOutput.Equal(second.EstimatedOutput))
}

func TestRateTableSourceFluctuation(t *testing.T) {
	s := NewRateTableSource()
	ctx := context.Background()
	amount := decimal.NewFromInt(1)

	// The jitter band is ±1%, so every quote stays inside it
	lower := decimal.NewFromFloat(1850 * 0.99 * 0.98)
	upper := decimal.NewFromFloat(1850 * 1.01 * 0.98)
	for i := 0; i < 50; i++ {
		q, err := s.Quote(ctx, "ETH", "USDC", amount)
		require.NoError(t, err)
		assert.True(t, q.EstimatedOutput.GreaterThanOrEqual(lower),
			"quote %s below band %s", q.EstimatedOutput, lower)
		assert.True(t, q.EstimatedOutput.LessThanOrEqual(upper),
			"quote %s above band %s", q.EstimatedOutput, upper)
	}
}

func TestQuoteUnknownPair(t *testing.T) {
	s := NewFixedRateSource()
	ctx := context.Background()

	_, err := s.Quote(ctx, "DOGE", "USDC", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrUnknownPair)

	_, err = s.Quote(ctx, "ETH", "DOGE", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrUnknownPair)
}

func TestQuoteRoutePathAvoidsDegenerateHop(t *testing.T) {
	s := NewFixedRateSource()

	// The USDC-hop route must not insert USDC when it is already an endpoint
	q, err := s.Quote(context.Background(), "USDC", "ETH", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, []string{"USDC", "ETH"}, q.Route.Path)
}
