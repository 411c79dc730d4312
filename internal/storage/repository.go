package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

const (
	// DefaultHistoryLimit caps the rolling buffer per pair, roughly one hour at one tick per second.
	DefaultHistoryLimit = 3600
	// DefaultQueryLimit is the number of samples FindByPair returns when no limit is given.
	DefaultQueryLimit = 100
)

// ErrNotConfigured indicates an optional backend was not initialised.
var ErrNotConfigured = errors.New("storage: not configured")

// RateRepository owns the volatile sample buffer and the durable hourly-average table.
type RateRepository interface {
	Save(ctx context.Context, sample domain.PriceSample) error
	FindByPair(ctx context.Context, pair domain.Pair, limit int) ([]domain.PriceSample, error)
	FindByPairAndHour(ctx context.Context, pair domain.Pair, hour time.Time) ([]domain.PriceSample, error)
	LatestHourlyAverage(ctx context.Context, pair domain.Pair) (domain.HourlyAverage, bool, error)
	SaveHourlyAverage(ctx context.Context, average domain.HourlyAverage) error
	HourlyAverages(ctx context.Context, pair domain.Pair) ([]domain.HourlyAverage, error)
	Flush(ctx context.Context) error
}
