package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

const (
	defaultPrefix    = "ratewatch"
	defaultLatestTTL = 5 * time.Minute
)

// RedisOptions parameterise the Redis sink.
type RedisOptions struct {
	Prefix    string
	LatestTTL time.Duration
}

// RedisSink publishes events on Redis channels and keeps the latest sample
// and every hourly average per pair readable by key.
//
// Keys:
//
//	<prefix>:latest:<pair>      latest sample, expires after LatestTTL
//	<prefix>:averages:<pair>    hash of hour -> average
//
// Channels: <prefix>:samples and <prefix>:averages.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client redis.UniversalClient, opts RedisOptions) *RedisSink {
	prefix := strings.TrimSuffix(opts.Prefix, ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := opts.LatestTTL
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks the connection to the Redis server.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// PublishSample stores and announces one sample.
func (s *RedisSink) PublishSample(ctx context.Context, sample domain.PriceSample) error {
	payload, err := json.Marshal(newSampleEvent(sample))
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.latestKey(sample.Pair()), payload, s.ttl)
	pipe.Publish(ctx, s.channel("samples"), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relay sample: %w", err)
	}
	return nil
}

// PublishAverage stores and announces one hourly average.
func (s *RedisSink) PublishAverage(ctx context.Context, avg domain.HourlyAverage) error {
	payload, err := json.Marshal(newAverageEvent(avg))
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.averagesKey(avg.Pair()), domain.FormatHour(avg.Hour()), payload)
	pipe.Publish(ctx, s.channel("averages"), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relay hourly average: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) latestKey(pair domain.Pair) string {
	return fmt.Sprintf("%s:latest:%s", s.prefix, pair)
}

func (s *RedisSink) averagesKey(pair domain.Pair) string {
	return fmt.Sprintf("%s:averages:%s", s.prefix, pair)
}

func (s *RedisSink) channel(name string) string {
	return s.prefix + ":" + name
}

var _ Sink = (*RedisSink)(nil)
