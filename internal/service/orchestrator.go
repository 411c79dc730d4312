package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
	"github.com/rafappelt/crypto-dashboard/internal/scheduler"
)

const (
	// DefaultAggregationInterval is the period of the hourly-average recompute.
	DefaultAggregationInterval = 60 * time.Second
	// DefaultPersistenceInterval is the period of the durable-table flush.
	DefaultPersistenceInterval = 20 * time.Second

	defaultSampleBuffer = 256
)

// ErrAlreadyStarted is returned by Start unless the orchestrator is stopped.
var ErrAlreadyStarted = errors.New("orchestrator already started")

// SampleFeed is the ingestion side the orchestrator drives.
type SampleFeed interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Samples(buffer int) (<-chan domain.PriceSample, func())
}

// State is the orchestrator lifecycle stage.
type State int32

const (
	// StateStopped is the initial state and the state after Stop returns.
	StateStopped State = iota
	// StateStarting covers the connect attempt and job startup.
	StateStarting
	// StateRunning means the consumer and both jobs are active.
	StateRunning
	// StateStopping covers the shutdown sequence.
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// OrchestratorOptions parameterise the background jobs.
type OrchestratorOptions struct {
	Pairs               []domain.Pair
	AggregationInterval time.Duration
	PersistenceInterval time.Duration
	SampleBuffer        int
}

// Orchestrator owns ingestion and the aggregation and persistence jobs.
// Every failure inside it is logged and absorbed.
type Orchestrator struct {
	opts      OrchestratorOptions
	feed      SampleFeed
	sched     *scheduler.Scheduler
	process   *ProcessSample
	calculate *CalculateHourlyAverage
	persist   *PersistHourlyAverages
	logger    zerolog.Logger
	now       func() time.Time

	lifecycle sync.Mutex

	mu          sync.RWMutex
	state       State
	feedErr     error
	tasks       []*scheduler.Task
	unsubscribe func()
	consumed    chan struct{}
	cancel      context.CancelFunc
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(
	opts OrchestratorOptions,
	feed SampleFeed,
	sched *scheduler.Scheduler,
	process *ProcessSample,
	calculate *CalculateHourlyAverage,
	persist *PersistHourlyAverages,
	logger zerolog.Logger,
) *Orchestrator {
	if opts.AggregationInterval <= 0 {
		opts.AggregationInterval = DefaultAggregationInterval
	}
	if opts.PersistenceInterval <= 0 {
		opts.PersistenceInterval = DefaultPersistenceInterval
	}
	if opts.SampleBuffer <= 0 {
		opts.SampleBuffer = defaultSampleBuffer
	}
	return &Orchestrator{
		opts:      opts,
		feed:      feed,
		sched:     sched,
		process:   process,
		calculate: calculate,
		persist:   persist,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		now:       time.Now,
	}
}

// State reports the current lifecycle stage.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// FeedError returns the error from the last failed connect on Start, if any.
func (o *Orchestrator) FeedError() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.feedErr
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Info().Str("state", s.String()).Msg("state changed")
}

// Start connects the feed and launches both jobs. A failed connect leaves
// the orchestrator running in a degraded state; see FeedError.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if o.State() != StateStopped {
		return ErrAlreadyStarted
	}
	o.setState(StateStarting)

	runCtx, cancel := context.WithCancel(ctx)
	samples, unsubscribe := o.feed.Samples(o.opts.SampleBuffer)

	var feedErr error
	if err := o.feed.Connect(ctx); err != nil {
		o.logger.Error().Err(err).Msg("feed connect failed; continuing without live data")
		feedErr = err
	}

	consumed := make(chan struct{})
	go o.consume(runCtx, samples, consumed)

	tasks := []*scheduler.Task{
		o.sched.Every(runCtx, scheduler.Job{
			Name:      "aggregation",
			Interval:  o.opts.AggregationInterval,
			Immediate: true,
		}, o.aggregate),
		o.sched.Every(runCtx, scheduler.Job{
			Name:      "persistence",
			Interval:  o.opts.PersistenceInterval,
			Immediate: true,
		}, o.flush),
	}

	o.mu.Lock()
	o.feedErr = feedErr
	o.tasks = tasks
	o.unsubscribe = unsubscribe
	o.consumed = consumed
	o.cancel = cancel
	o.mu.Unlock()

	o.setState(StateRunning)
	return nil
}

// Stop halts both jobs, flushes once more and disconnects the feed. Flush
// and disconnect failures are logged only. Stop on a stopped orchestrator
// does nothing.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if o.State() != StateRunning {
		return nil
	}
	o.setState(StateStopping)

	o.mu.Lock()
	tasks, unsubscribe, consumed, cancel := o.tasks, o.unsubscribe, o.consumed, o.cancel
	o.tasks, o.unsubscribe, o.consumed, o.cancel = nil, nil, nil, nil
	o.mu.Unlock()

	for _, task := range tasks {
		task.Stop()
	}
	unsubscribe()
	<-consumed

	if err := o.persist.Execute(ctx); err != nil {
		o.logger.Error().Err(err).Msg("final flush failed")
	}
	if err := o.feed.Disconnect(); err != nil {
		o.logger.Error().Err(err).Msg("feed disconnect failed")
	}
	cancel()

	o.setState(StateStopped)
	return nil
}

func (o *Orchestrator) consume(ctx context.Context, samples <-chan domain.PriceSample, done chan<- struct{}) {
	defer close(done)
	for sample := range samples {
		if err := o.process.Execute(ctx, sample); err != nil {
			o.logger.Error().Err(err).Str("pair", sample.Pair().String()).Msg("failed to process sample")
		}
	}
}

func (o *Orchestrator) aggregate(ctx context.Context, _ time.Time) error {
	hour := domain.TopOfHour(o.now())
	for _, pair := range o.opts.Pairs {
		if _, _, err := o.calculate.Execute(ctx, pair, hour); err != nil {
			o.logger.Error().Err(err).Str("pair", pair.String()).Time("hour", hour).Msg("hourly aggregation failed")
		}
	}
	return nil
}

func (o *Orchestrator) flush(ctx context.Context, _ time.Time) error {
	if err := o.persist.Execute(ctx); err != nil {
		o.logger.Error().Err(err).Msg("periodic flush failed; retrying next tick")
	}
	return nil
}
