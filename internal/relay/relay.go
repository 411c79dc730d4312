// Package relay forwards sample and hourly-average events to an external
// sink such as Redis.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafappelt/crypto-dashboard/internal/broadcast"
	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

const (
	defaultBuffer = 64
	// DefaultSinkTimeout bounds a single sink call.
	DefaultSinkTimeout = 5 * time.Second
)

// Sink receives relayed events.
type Sink interface {
	PublishSample(ctx context.Context, sample domain.PriceSample) error
	PublishAverage(ctx context.Context, avg domain.HourlyAverage) error
}

// Relay subscribes to the event brokers and hands every event to the sink.
type Relay struct {
	samples  *broadcast.Broker[domain.PriceSample]
	averages *broadcast.Broker[domain.HourlyAverage]
	sink     Sink
	logger   zerolog.Logger
	timeout  time.Duration
}

// New constructs a relay.
func New(samples *broadcast.Broker[domain.PriceSample], averages *broadcast.Broker[domain.HourlyAverage], sink Sink, logger zerolog.Logger) *Relay {
	return &Relay{
		samples:  samples,
		averages: averages,
		sink:     sink,
		logger:   logger.With().Str("component", "relay").Logger(),
		timeout:  DefaultSinkTimeout,
	}
}

// Run forwards events until ctx is cancelled or both brokers close. Sink
// failures and timeouts are logged and the event is dropped.
func (r *Relay) Run(ctx context.Context) error {
	samples, cancelSamples := r.samples.Subscribe(defaultBuffer)
	defer cancelSamples()
	averages, cancelAverages := r.averages.Subscribe(defaultBuffer)
	defer cancelAverages()

	r.logger.Info().Msg("relay started")
	for samples != nil || averages != nil {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("relay stopped")
			return nil
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			if err := r.deliver(ctx, func(ctx context.Context) error { return r.sink.PublishSample(ctx, s) }); err != nil {
				r.logger.Warn().Err(err).Str("pair", s.Pair().String()).Msg("failed to relay sample")
			}
		case avg, ok := <-averages:
			if !ok {
				averages = nil
				continue
			}
			if err := r.deliver(ctx, func(ctx context.Context) error { return r.sink.PublishAverage(ctx, avg) }); err != nil {
				r.logger.Warn().Err(err).Str("pair", avg.Pair().String()).Time("hour", avg.Hour()).Msg("failed to relay hourly average")
			}
		}
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, call func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return call(callCtx)
}

type sampleEvent struct {
	Pair      string      `json:"pair"`
	Price     json.Number `json:"price"`
	Timestamp time.Time   `json:"timestamp"`
}

func newSampleEvent(s domain.PriceSample) sampleEvent {
	return sampleEvent{
		Pair:      s.Pair().String(),
		Price:     json.Number(s.Price().String()),
		Timestamp: s.Timestamp().UTC(),
	}
}

type averageEvent struct {
	Pair         string      `json:"pair"`
	AveragePrice json.Number `json:"averagePrice"`
	Hour         string      `json:"hour"`
	SampleCount  int         `json:"sampleCount"`
}

func newAverageEvent(a domain.HourlyAverage) averageEvent {
	return averageEvent{
		Pair:         a.Pair().String(),
		AveragePrice: json.Number(a.AveragePrice().String()),
		Hour:         domain.FormatHour(a.Hour()),
		SampleCount:  a.SampleCount(),
	}
}
