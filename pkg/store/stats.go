package store

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/intentx-hq/intentd/pkg/models"
)

// aggregateStats computes the analytics counters over a set of intents.
// Volume sums executed output amounts; the success rate is a percentage
// rounded to one decimal place.
func aggregateStats(intents []*models.Intent) models.Analytics {
	stats := models.Analytics{}
	volume := decimal.Zero
	for _, intent := range intents {
		stats.TotalIntents++
		switch intent.Status {
		case models.StatusExecuted:
			stats.ExecutedSwaps++
			if amount, err := decimal.NewFromString(intent.ExecutedAmount); err == nil {
				volume = volume.Add(amount)
			}
		case models.StatusPending:
			stats.PendingIntents++
		case models.StatusCancelled:
			stats.CancelledIntents++
		}
	}
	stats.TotalVolume = volume.StringFixed(2)
	if stats.TotalIntents > 0 {
		rate := float64(stats.ExecutedSwaps) / float64(stats.TotalIntents) * 100
		stats.SuccessRate = math.Round(rate*10) / 10
	}
	return stats
}
