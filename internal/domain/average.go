package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonPositiveAverage rejects zero or negative averages.
	ErrNonPositiveAverage = errors.New("average price must be positive")
	// ErrNonPositiveSampleCount rejects averages built from no samples.
	ErrNonPositiveSampleCount = errors.New("sample count must be positive")
	// ErrMisalignedHour rejects hours that are not at a clock-hour boundary.
	ErrMisalignedHour = errors.New("hour must be at the start of the hour")
)

// hourKeyLayout renders hours the way the durable table has always keyed them.
const hourKeyLayout = "2006-01-02T15:04:05.000Z"

// HourlyAverage is the mean of all samples for a pair within one clock hour.
type HourlyAverage struct {
	pair         Pair
	averagePrice decimal.Decimal
	hour         time.Time
	sampleCount  int
}

// NewHourlyAverage validates and builds an hourly average.
func NewHourlyAverage(pair Pair, averagePrice decimal.Decimal, hour time.Time, sampleCount int) (HourlyAverage, error) {
	if !averagePrice.IsPositive() {
		return HourlyAverage{}, fmt.Errorf("%w: %s %s", ErrNonPositiveAverage, pair, averagePrice.String())
	}
	if sampleCount <= 0 {
		return HourlyAverage{}, fmt.Errorf("%w: %s %d", ErrNonPositiveSampleCount, pair, sampleCount)
	}
	if !hour.Equal(TopOfHour(hour)) {
		return HourlyAverage{}, fmt.Errorf("%w: %s %s", ErrMisalignedHour, pair, hour.Format(time.RFC3339Nano))
	}
	return HourlyAverage{
		pair:         pair,
		averagePrice: averagePrice,
		hour:         hour.UTC(),
		sampleCount:  sampleCount,
	}, nil
}

// Pair returns the averaged pair.
func (a HourlyAverage) Pair() Pair { return a.pair }

// AveragePrice returns the arithmetic mean of the hour's samples.
func (a HourlyAverage) AveragePrice() decimal.Decimal { return a.averagePrice }

// Hour returns the UTC top of the averaged hour.
func (a HourlyAverage) Hour() time.Time { return a.hour }

// SampleCount returns how many samples went into the average.
func (a HourlyAverage) SampleCount() int { return a.sampleCount }

// Key is the stable identity used by the durable table: pair + "-" + ISO hour.
func (a HourlyAverage) Key() string {
	return HourlyAverageKey(a.pair, a.hour)
}

// HourlyAverageKey builds the identity key for a pair and hour.
func HourlyAverageKey(pair Pair, hour time.Time) string {
	return string(pair) + "-" + FormatHour(hour)
}

// FormatHour renders an hour as a millisecond-precision UTC ISO-8601 string.
func FormatHour(hour time.Time) string {
	return hour.UTC().Format(hourKeyLayout)
}

// Equal compares all fields, treating decimals by value.
func (a HourlyAverage) Equal(other HourlyAverage) bool {
	return a.pair == other.pair &&
		a.averagePrice.Equal(other.averagePrice) &&
		a.hour.Equal(other.hour) &&
		a.sampleCount == other.sampleCount
}
