package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rafappelt/crypto-dashboard/internal/broadcast"
	"github.com/rafappelt/crypto-dashboard/internal/domain"
	"github.com/rafappelt/crypto-dashboard/internal/scheduler"
	"github.com/rafappelt/crypto-dashboard/internal/storage"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeFeed struct {
	broker     *broadcast.Broker[domain.PriceSample]
	connectErr error
	rec        *recorder
}

func newFakeFeed(rec *recorder, connectErr error) *fakeFeed {
	return &fakeFeed{broker: broadcast.New[domain.PriceSample](), connectErr: connectErr, rec: rec}
}

func (f *fakeFeed) Connect(context.Context) error {
	f.rec.add("connect")
	return f.connectErr
}

func (f *fakeFeed) Disconnect() error {
	f.rec.add("disconnect")
	return errors.New("already closed")
}

func (f *fakeFeed) Samples(buffer int) (<-chan domain.PriceSample, func()) {
	return f.broker.Subscribe(buffer)
}

// flakyRepo fails selected operations on top of a MemoryStore.
type flakyRepo struct {
	*storage.MemoryStore
	rec      *recorder
	failSave domain.Pair
	failHour domain.Pair
	flushErr error
}

func (r *flakyRepo) Save(ctx context.Context, s domain.PriceSample) error {
	if s.Pair() == r.failSave {
		return errors.New("disk full")
	}
	return r.MemoryStore.Save(ctx, s)
}

func (r *flakyRepo) FindByPairAndHour(ctx context.Context, pair domain.Pair, hour time.Time) ([]domain.PriceSample, error) {
	if pair == r.failHour {
		return nil, errors.New("buffer unavailable")
	}
	return r.MemoryStore.FindByPairAndHour(ctx, pair, hour)
}

func (r *flakyRepo) Flush(ctx context.Context) error {
	r.rec.add("flush")
	if r.flushErr != nil {
		return r.flushErr
	}
	return r.MemoryStore.Flush(ctx)
}

func newFlakyRepo(rec *recorder) *flakyRepo {
	return &flakyRepo{MemoryStore: storage.NewMemoryStore(0, domain.DefaultPairs...), rec: rec}
}

func mustSample(t *testing.T, pair domain.Pair, price int64, ts time.Time) domain.PriceSample {
	t.Helper()
	s, err := domain.NewPriceSample(pair, decimal.NewFromInt(price), ts)
	require.NoError(t, err)
	return s
}

func newTestOrchestrator(repo storage.RateRepository, feed SampleFeed, events *Events, now time.Time) *Orchestrator {
	logger := zerolog.Nop()
	o := NewOrchestrator(
		OrchestratorOptions{
			Pairs:               domain.DefaultPairs,
			AggregationInterval: 20 * time.Millisecond,
			PersistenceInterval: 20 * time.Millisecond,
		},
		feed,
		scheduler.New(logger),
		NewProcessSample(repo, events),
		NewCalculateHourlyAverage(repo, events, logger),
		NewPersistHourlyAverages(repo),
		logger,
	)
	o.now = func() time.Time { return now }
	return o
}

func TestProcessSampleSavesAndPublishes(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryStore(0)
	events := NewEvents(zerolog.Nop())
	defer events.Close()

	published, cancel := events.Samples.Subscribe(1)
	defer cancel()

	s := mustSample(t, domain.PairETHUSDC, 3000, time.Now().Add(-time.Second))
	require.NoError(t, NewProcessSample(repo, events).Execute(ctx, s))

	require.Equal(t, s, <-published)
	stored, err := repo.FindByPair(ctx, domain.PairETHUSDC, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestStalledSubscriberDoesNotBlockUseCases(t *testing.T) {
	ctx := context.Background()
	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := storage.NewMemoryStore(0)
	events := NewEvents(zerolog.Nop())
	defer events.Close()

	// never drained
	_, cancelSamples := events.Samples.Subscribe(0)
	defer cancelSamples()
	_, cancelAverages := events.Averages.Subscribe(0)
	defer cancelAverages()

	process := NewProcessSample(repo, events)
	calculate := NewCalculateHourlyAverage(repo, events, zerolog.Nop())

	samples := make([]domain.PriceSample, 5)
	for i := range samples {
		samples[i] = mustSample(t, domain.PairETHUSDC, int64(1000+i), hour.Add(time.Duration(i)*time.Minute))
	}

	done := make(chan error, 1)
	go func() {
		for _, s := range samples {
			if err := process.Execute(ctx, s); err != nil {
				done <- err
				return
			}
		}
		_, _, err := calculate.Execute(ctx, domain.PairETHUSDC, hour)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("use cases blocked on a subscriber that never reads")
	}

	stored, err := repo.FindByPair(ctx, domain.PairETHUSDC, 0)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	_, ok, err := repo.LatestHourlyAverage(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCalculateHourlyAverage(t *testing.T) {
	ctx := context.Background()
	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := storage.NewMemoryStore(0)
	events := NewEvents(zerolog.Nop())
	defer events.Close()

	averages, cancel := events.Averages.Subscribe(1)
	defer cancel()

	for i, price := range []int64{1000, 2000, 3000} {
		require.NoError(t, repo.Save(ctx, mustSample(t, domain.PairETHUSDC, price, hour.Add(time.Duration(i)*15*time.Minute))))
	}

	uc := NewCalculateHourlyAverage(repo, events, zerolog.Nop())
	avg, ok, err := uc.Execute(ctx, domain.PairETHUSDC, hour.Add(45*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, avg.AveragePrice().Equal(decimal.NewFromInt(2000)))
	require.Equal(t, 3, avg.SampleCount())
	require.True(t, avg.Hour().Equal(hour))
	require.True(t, avg.Equal(<-averages))

	latest, ok, err := repo.LatestHourlyAverage(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, latest.Equal(avg))

	// empty hour writes nothing
	_, ok, err = uc.Execute(ctx, domain.PairETHBTC, hour)
	require.NoError(t, err)
	require.False(t, ok)
	all, err := repo.HourlyAverages(ctx, domain.PairETHBTC)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestQueriesPriceHistoryDefaultLimit(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryStore(0)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 150; i++ {
		require.NoError(t, repo.Save(ctx, mustSample(t, domain.PairETHUSDT, int64(i+1), base.Add(time.Duration(i)*time.Second))))
	}

	q := NewQueries(repo)
	history, err := q.PriceHistory(ctx, domain.PairETHUSDT, 0)
	require.NoError(t, err)
	require.Len(t, history, storage.DefaultQueryLimit)
	require.True(t, history[0].Price().Equal(decimal.NewFromInt(51)))
	require.True(t, history[len(history)-1].Price().Equal(decimal.NewFromInt(150)))

	history, err = q.PriceHistory(ctx, domain.PairETHUSDT, 10)
	require.NoError(t, err)
	require.Len(t, history, 10)
}

func TestOrchestratorDegradedStartStillRunsJobs(t *testing.T) {
	rec := &recorder{}
	repo := newFlakyRepo(rec)
	feed := newFakeFeed(rec, errors.New("dial refused"))
	now := time.Now().Add(-2 * time.Hour)
	o := newTestOrchestrator(repo, feed, nil, now)

	require.NoError(t, o.Start(context.Background()))
	require.Equal(t, StateRunning, o.State())
	require.EqualError(t, o.FeedError(), "dial refused")
	require.ErrorIs(t, o.Start(context.Background()), ErrAlreadyStarted)

	feed.broker.Publish(mustSample(t, domain.PairETHUSDC, 100, now))
	feed.broker.Publish(mustSample(t, domain.PairETHUSDC, 300, now))

	require.Eventually(t, func() bool {
		avg, ok, err := repo.LatestHourlyAverage(context.Background(), domain.PairETHUSDC)
		return err == nil && ok && avg.SampleCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, o.Stop(context.Background()))
	require.Equal(t, StateStopped, o.State())
}

func TestOrchestratorIsolatesPerPairFailures(t *testing.T) {
	rec := &recorder{}
	repo := newFlakyRepo(rec)
	repo.failHour = domain.PairETHUSDT
	repo.failSave = domain.PairETHBTC
	feed := newFakeFeed(rec, nil)
	now := time.Now().Add(-2 * time.Hour)
	o := newTestOrchestrator(repo, feed, nil, now)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	feed.broker.Publish(mustSample(t, domain.PairETHBTC, 1, now))
	feed.broker.Publish(mustSample(t, domain.PairETHUSDT, 2000, now))
	feed.broker.Publish(mustSample(t, domain.PairETHUSDC, 2000, now))

	require.Eventually(t, func() bool {
		_, ok, _ := repo.LatestHourlyAverage(context.Background(), domain.PairETHUSDC)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok, err := repo.LatestHourlyAverage(context.Background(), domain.PairETHUSDT)
	require.NoError(t, err)
	require.False(t, ok)

	btc, err := repo.FindByPair(context.Background(), domain.PairETHBTC, 0)
	require.NoError(t, err)
	require.Empty(t, btc)
}

func TestOrchestratorStopFlushesThenDisconnects(t *testing.T) {
	rec := &recorder{}
	repo := newFlakyRepo(rec)
	repo.flushErr = errors.New("read-only filesystem")
	feed := newFakeFeed(rec, nil)
	o := newTestOrchestrator(repo, feed, nil, time.Now())
	o.opts.PersistenceInterval = time.Hour

	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool {
		return len(rec.list()) >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, o.Stop(context.Background()))
	require.Equal(t, StateStopped, o.State())
	require.Equal(t, []string{"connect", "flush", "flush", "disconnect"}, rec.list())

	require.NoError(t, o.Stop(context.Background()))
	require.Len(t, rec.list(), 4)

	// a stopped orchestrator can start again
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Stop(context.Background()))
}
