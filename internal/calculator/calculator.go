// Package calculator reduces price samples into hourly averages.
package calculator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

// Calculate averages the samples of pair that fall in the clock hour
// containing hour. It reports false when no sample matches.
func Calculate(samples []domain.PriceSample, pair domain.Pair, hour time.Time) (domain.HourlyAverage, bool) {
	start := domain.TopOfHour(hour)

	sum := decimal.Zero
	count := 0
	for _, s := range samples {
		if s.Pair() != pair || !s.WithinHour(start) {
			continue
		}
		sum = sum.Add(s.Price())
		count++
	}
	if count == 0 {
		return domain.HourlyAverage{}, false
	}

	avg, err := domain.NewHourlyAverage(pair, sum.Div(decimal.NewFromInt(int64(count))), start, count)
	if err != nil {
		return domain.HourlyAverage{}, false
	}
	return avg, true
}
