package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonPositivePrice rejects zero or negative prices.
	ErrNonPositivePrice = errors.New("price must be positive")
	// ErrFutureTimestamp rejects samples stamped after the current time.
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
)

// PriceSample is one observed price for a pair. Fields are read-only once built.
type PriceSample struct {
	pair      Pair
	price     decimal.Decimal
	timestamp time.Time
}

// NewPriceSample validates and builds a sample.
func NewPriceSample(pair Pair, price decimal.Decimal, timestamp time.Time) (PriceSample, error) {
	if !price.IsPositive() {
		return PriceSample{}, fmt.Errorf("%w: %s %s", ErrNonPositivePrice, pair, price.String())
	}
	if timestamp.After(time.Now()) {
		return PriceSample{}, fmt.Errorf("%w: %s %s", ErrFutureTimestamp, pair, timestamp.UTC().Format(time.RFC3339Nano))
	}
	return PriceSample{pair: pair, price: price, timestamp: timestamp}, nil
}

// Pair returns the traded pair.
func (s PriceSample) Pair() Pair { return s.pair }

// Price returns the trade price in quote units.
func (s PriceSample) Price() decimal.Decimal { return s.price }

// Timestamp returns the exchange time of the trade.
func (s PriceSample) Timestamp() time.Time { return s.timestamp }

// WithinHour reports whether the sample falls in [TopOfHour(hour), +1h).
func (s PriceSample) WithinHour(hour time.Time) bool {
	start := TopOfHour(hour)
	end := start.Add(time.Hour)
	return !s.timestamp.Before(start) && s.timestamp.Before(end)
}

// TopOfHour truncates t to the start of its UTC clock hour.
func TopOfHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
