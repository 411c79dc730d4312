package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Job describes one repeating task.
type Job struct {
	Name     string
	Interval time.Duration
	// Immediate runs the first tick as soon as the job starts.
	Immediate    bool
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives repeating jobs. Ticks of one job never overlap.
type Scheduler struct {
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Task is a running job started by Every.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the job and waits for an in-flight tick to finish. It is
// safe to call more than once.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the job loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Every starts job in its own goroutine and returns a handle to stop it.
func (s *Scheduler) Every(ctx context.Context, job Job, tick TickFunc) *Task {
	if job.Interval <= 0 {
		panic("scheduler interval must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	task := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(task.done)
		if err := s.Run(ctx, job, tick); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("job stopped")
		}
	}()
	return task
}

// Run blocks, invoking tick on every interval until ctx is cancelled. A tick
// that has started runs to completion even if ctx is cancelled meanwhile.
func (s *Scheduler) Run(ctx context.Context, job Job, tick TickFunc) error {
	if job.Interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	log := s.logger.With().Str("job", job.Name).Dur("interval", job.Interval).Logger()

	if job.StartupDelay > 0 {
		timer := time.NewTimer(job.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if job.Immediate {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.execute(ctx, log, job, tick, time.Now().UTC())
	}

	next := nextTick(job, time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = nextTick(job, time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		log.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.execute(ctx, log, job, tick, bucketStart(job, next))
		next = next.Add(job.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, log zerolog.Logger, job Job, tick TickFunc, bucket time.Time) {
	log.Debug().Time("bucket", bucket).Msg("executing scheduled tick")
	if err := tick(context.WithoutCancel(ctx), bucket); err != nil {
		log.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

func nextTick(job Job, now time.Time) time.Time {
	if !job.AlignToStart {
		return now.Add(job.Interval)
	}
	bucket := now.Truncate(job.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(job.Interval)
	}
	return bucket
}

func bucketStart(job Job, t time.Time) time.Time {
	if !job.AlignToStart {
		return t
	}
	return t.Truncate(job.Interval)
}
