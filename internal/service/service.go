// Package service holds the rate use cases and the Orchestrator that runs
// them against the live feed.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafappelt/crypto-dashboard/internal/broadcast"
	"github.com/rafappelt/crypto-dashboard/internal/calculator"
	"github.com/rafappelt/crypto-dashboard/internal/domain"
	"github.com/rafappelt/crypto-dashboard/internal/storage"
)

// Events carries the outbound streams consumed by presentation layers.
// Publishing never waits on a subscriber; a full subscriber misses the event.
type Events struct {
	Samples  *broadcast.Broker[domain.PriceSample]
	Averages *broadcast.Broker[domain.HourlyAverage]

	logger zerolog.Logger
}

// NewEvents constructs both brokers.
func NewEvents(logger zerolog.Logger) *Events {
	return &Events{
		Samples:  broadcast.New[domain.PriceSample](),
		Averages: broadcast.New[domain.HourlyAverage](),
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

func (e *Events) publishSample(s domain.PriceSample) {
	if e == nil {
		return
	}
	if dropped := e.Samples.TryPublish(s); dropped > 0 {
		e.logger.Warn().Str("pair", s.Pair().String()).Int("subscribers", dropped).Msg("sample event dropped for slow subscribers")
	}
}

func (e *Events) publishAverage(a domain.HourlyAverage) {
	if e == nil {
		return
	}
	if dropped := e.Averages.TryPublish(a); dropped > 0 {
		e.logger.Warn().Str("pair", a.Pair().String()).Time("hour", a.Hour()).Int("subscribers", dropped).Msg("hourly average event dropped for slow subscribers")
	}
}

// Close ends every subscription.
func (e *Events) Close() {
	if e == nil {
		return
	}
	e.Samples.Close()
	e.Averages.Close()
}

// ProcessSample stores an incoming sample and announces it.
type ProcessSample struct {
	repo   storage.RateRepository
	events *Events
}

// NewProcessSample wires the use case. events may be nil.
func NewProcessSample(repo storage.RateRepository, events *Events) *ProcessSample {
	return &ProcessSample{repo: repo, events: events}
}

// Execute saves the sample and publishes it once stored.
func (p *ProcessSample) Execute(ctx context.Context, sample domain.PriceSample) error {
	if err := p.repo.Save(ctx, sample); err != nil {
		return fmt.Errorf("save sample: %w", err)
	}
	p.events.publishSample(sample)
	return nil
}

// CalculateHourlyAverage recomputes the average for one pair and hour.
type CalculateHourlyAverage struct {
	repo   storage.RateRepository
	events *Events
	logger zerolog.Logger
}

// NewCalculateHourlyAverage wires the use case. events may be nil.
func NewCalculateHourlyAverage(repo storage.RateRepository, events *Events, logger zerolog.Logger) *CalculateHourlyAverage {
	return &CalculateHourlyAverage{
		repo:   repo,
		events: events,
		logger: logger.With().Str("component", "aggregation").Logger(),
	}
}

// Execute averages the buffered samples of pair inside hour. It reports
// false without writing anything when the hour has no samples.
func (c *CalculateHourlyAverage) Execute(ctx context.Context, pair domain.Pair, hour time.Time) (domain.HourlyAverage, bool, error) {
	samples, err := c.repo.FindByPairAndHour(ctx, pair, hour)
	if err != nil {
		return domain.HourlyAverage{}, false, fmt.Errorf("load samples: %w", err)
	}

	avg, ok := calculator.Calculate(samples, pair, hour)
	if !ok {
		c.logger.Debug().Str("pair", pair.String()).Time("hour", domain.TopOfHour(hour)).Msg("no samples in hour")
		return domain.HourlyAverage{}, false, nil
	}

	if err := c.repo.SaveHourlyAverage(ctx, avg); err != nil {
		return domain.HourlyAverage{}, false, fmt.Errorf("save hourly average: %w", err)
	}

	c.logger.Debug().
		Str("pair", pair.String()).
		Time("hour", avg.Hour()).
		Str("average", avg.AveragePrice().String()).
		Int("samples", avg.SampleCount()).
		Msg("hourly average updated")

	c.events.publishAverage(avg)
	return avg, true, nil
}

// PersistHourlyAverages flushes the durable table.
type PersistHourlyAverages struct {
	repo storage.RateRepository
}

// NewPersistHourlyAverages wires the use case.
func NewPersistHourlyAverages(repo storage.RateRepository) *PersistHourlyAverages {
	return &PersistHourlyAverages{repo: repo}
}

// Execute writes the durable table through to disk.
func (p *PersistHourlyAverages) Execute(ctx context.Context) error {
	if err := p.repo.Flush(ctx); err != nil {
		return fmt.Errorf("flush hourly averages: %w", err)
	}
	return nil
}

// Queries serves read-only lookups.
type Queries struct {
	repo storage.RateRepository
}

// NewQueries wires the read side.
func NewQueries(repo storage.RateRepository) *Queries {
	return &Queries{repo: repo}
}

// PriceHistory returns the most recent samples for pair, oldest first.
// A limit of zero or less means storage.DefaultQueryLimit.
func (q *Queries) PriceHistory(ctx context.Context, pair domain.Pair, limit int) ([]domain.PriceSample, error) {
	return q.repo.FindByPair(ctx, pair, limit)
}

// LatestHourlyAverage returns the newest durable average for pair.
func (q *Queries) LatestHourlyAverage(ctx context.Context, pair domain.Pair) (domain.HourlyAverage, bool, error) {
	return q.repo.LatestHourlyAverage(ctx, pair)
}

// HourlyAverages returns every durable average for pair, newest first.
func (q *Queries) HourlyAverages(ctx context.Context, pair domain.Pair) ([]domain.HourlyAverage, error) {
	return q.repo.HourlyAverages(ctx, pair)
}
