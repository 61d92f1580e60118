package quote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownPair is returned when no rate is known for a token pair.
var ErrUnknownPair = errors.New("no rate available for token pair")

// Route describes the path a swap would take through DEX protocols.
type Route struct {
	Path       []string `json:"path"`
	Protocol   string   `json:"protocol"`
	Confidence float64  `json:"confidence"`
}

// Quote is an estimate for converting a source amount into the target token.
// Two quotes for the same inputs may differ; callers must not assume
// idempotence.
type Quote struct {
	EstimatedOutput decimal.Decimal `json:"estimatedOutput"`
	Route           Route           `json:"route"`
	GasEstimate     string          `json:"gasEstimate"`
}

// Source produces swap quotes for token pairs.
type Source interface {
	Quote(ctx context.Context, sourceToken, targetToken string, sourceAmount decimal.Decimal) (*Quote, error)
}

// candidateRoute is a routing option with its fill efficiency.
type candidateRoute struct {
	protocol    string
	via         string
	efficiency  decimal.Decimal
	gasEstimate string
	confidence  float64
}

// RateTableSource quotes from a hard-coded exchange-rate table with a random
// fluctuation applied per call, simulating market movement. It stands in for
// a real aggregator behind the Source interface.
type RateTableSource struct {
	mu          sync.Mutex
	rng         *rand.Rand
	fluctuation float64
	rates       map[string]map[string]decimal.Decimal
}

var _ Source = (*RateTableSource)(nil)

// NewRateTableSource creates a source with the demo rate table and a ±1%
// per-quote fluctuation.
func NewRateTableSource() *RateTableSource {
	return &RateTableSource{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		fluctuation: 0.02,
		rates:       defaultRates(),
	}
}

// NewFixedRateSource creates a source without fluctuation, so quotes for the
// same inputs are stable. Useful for tests and local demos.
func NewFixedRateSource() *RateTableSource {
	return &RateTableSource{
		rng:         rand.New(rand.NewSource(1)),
		fluctuation: 0,
		rates:       defaultRates(),
	}
}

// Quote implements Source. The best of the candidate routes wins, ranked by
// estimated output after route efficiency.
func (s *RateTableSource) Quote(_ context.Context, sourceToken, targetToken string, sourceAmount decimal.Decimal) (*Quote, error) {
	pairRates, ok := s.rates[sourceToken]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPair, sourceToken, targetToken)
	}
	rate, ok := pairRates[targetToken]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPair, sourceToken, targetToken)
	}

	s.mu.Lock()
	jitter := (s.rng.Float64() - 0.5) * s.fluctuation
	s.mu.Unlock()

	base := sourceAmount.Mul(rate).Mul(decimal.NewFromFloat(1 + jitter))

	candidates := []candidateRoute{
		{
			protocol:    "UniswapV3",
			efficiency:  decimal.NewFromFloat(0.98),
			gasEstimate: "150000",
			confidence:  0.95,
		},
		{
			protocol:    "SushiSwap",
			via:         "USDC",
			efficiency:  decimal.NewFromFloat(0.97),
			gasEstimate: "200000",
			confidence:  0.92,
		},
	}

	var best *Quote
	for _, c := range candidates {
		path := []string{sourceToken, targetToken}
		if c.via != "" && c.via != sourceToken && c.via != targetToken {
			path = []string{sourceToken, c.via, targetToken}
		}
		q := &Quote{
			EstimatedOutput: base.Mul(c.efficiency),
			Route: Route{
				Path:       path,
				Protocol:   c.protocol,
				Confidence: c.confidence,
			},
			GasEstimate: c.gasEstimate,
		}
		if best == nil || q.EstimatedOutput.GreaterThan(best.EstimatedOutput) {
			best = q
		}
	}
	return best, nil
}

// defaultRates returns the demo exchange-rate table.
func defaultRates() map[string]map[string]decimal.Decimal {
	rates := map[string]map[string]float64{
		"ETH": {
			"USDC": 1850,
			"USDT": 1845,
			"DAI":  1848,
			"WBTC": 0.042,
		},
		"WBTC": {
			"ETH":  23.8,
			"USDC": 44000,
			"USDT": 43950,
			"DAI":  43980,
		},
		"USDC": {
			"ETH":  0.00054,
			"WBTC": 0.0000227,
			"USDT": 0.9998,
			"DAI":  0.9997,
		},
		"USDT": {
			"ETH":  0.000542,
			"WBTC": 0.0000228,
			"USDC": 1.0002,
			"DAI":  0.9999,
		},
		"DAI": {
			"ETH":  0.000541,
			"WBTC": 0.0000227,
			"USDC": 1.0003,
			"USDT": 1.0001,
		},
	}

	table := make(map[string]map[string]decimal.Decimal, len(rates))
	for from, targets := range rates {
		table[from] = make(map[string]decimal.Decimal, len(targets))
		for to, rate := range targets {
			table[from][to] = decimal.NewFromFloat(rate)
		}
	}
	return table
}
