package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rafappelt/crypto-dashboard/internal/alerting"
	"github.com/rafappelt/crypto-dashboard/internal/config"
	"github.com/rafappelt/crypto-dashboard/internal/domain"
	"github.com/rafappelt/crypto-dashboard/internal/feed"
	"github.com/rafappelt/crypto-dashboard/internal/relay"
	"github.com/rafappelt/crypto-dashboard/internal/scheduler"
	"github.com/rafappelt/crypto-dashboard/internal/service"
	"github.com/rafappelt/crypto-dashboard/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

// openStore returns the file-backed store, or an in-memory one when no data
// directory is configured.
func (a *App) openStore(pairs []domain.Pair) (storage.RateRepository, error) {
	if a.Config.Storage.DataDir == "" {
		a.Logger.Warn().Msg("storage.data_dir not configured; hourly averages will not survive a restart")
		return storage.NewMemoryStore(a.Config.Storage.HistoryLimit, pairs...), nil
	}
	return storage.NewFileStore(storage.FileStoreOptions{
		DataDir:      a.Config.Storage.DataDir,
		HistoryLimit: a.Config.Storage.HistoryLimit,
		Pairs:        pairs,
	}, a.Logger)
}

func (a *App) openArchive(ctx context.Context) (*storage.Archive, func(), error) {
	if !a.Config.Database.Enabled() {
		return nil, nil, nil
	}
	archive, err := storage.OpenArchive(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return archive, archive.Close, nil
}

func (a *App) openRedis(ctx context.Context) (*relay.RedisSink, func(), error) {
	if !a.Config.Redis.Enabled() {
		return nil, nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	sink := relay.NewRedisSink(client, relay.RedisOptions{
		Prefix:    a.Config.Redis.Prefix,
		LatestTTL: a.Config.Redis.LatestTTL,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sink.Ping(pingCtx); err != nil {
		_ = sink.Close()
		return nil, nil, err
	}
	return sink, func() { _ = sink.Close() }, nil
}

// openSinks collects the optional relay targets. A target that cannot be
// reached is skipped with a warning.
func (a *App) openSinks(ctx context.Context) ([]relay.Sink, func()) {
	var (
		sinks   []relay.Sink
		closers []func()
	)

	archive, closeArchive, err := a.openArchive(ctx)
	switch {
	case err != nil:
		a.Logger.Warn().Err(err).Msg("database unavailable; archive disabled")
	case archive == nil:
		a.Logger.Debug().Msg("database.dsn not configured; archive disabled")
	default:
		sinks = append(sinks, relay.NewArchiveSink(archive))
		closers = append(closers, closeArchive)
	}

	redisSink, closeRedis, err := a.openRedis(ctx)
	switch {
	case err != nil:
		a.Logger.Warn().Err(err).Msg("redis unavailable; event relay disabled")
	case redisSink == nil:
		a.Logger.Debug().Msg("redis.addr not configured; event relay disabled")
	default:
		sinks = append(sinks, redisSink)
		closers = append(closers, closeRedis)
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func (a *App) newAdapter(pairs []domain.Pair, onExhausted func()) *feed.Adapter {
	return feed.NewAdapter(feed.Options{
		APIKey:               a.Config.Feed.APIKey,
		URL:                  a.Config.Feed.URL,
		Pairs:                pairs,
		MaxReconnectAttempts: a.Config.Feed.MaxReconnectAttempts,
		HandshakeTimeout:     a.Config.Feed.HandshakeTimeout,
		OnReconnectExhausted: onExhausted,
	}, a.Logger)
}

func (a *App) notifyExhausted(notifier alerting.Notifier, pairs []domain.Pair) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	attempts := a.Config.Feed.MaxReconnectAttempts
	if attempts <= 0 {
		attempts = feed.DefaultMaxReconnectAttempts
	}
	note := alerting.Notification{
		At:       time.Now(),
		Event:    alerting.EventFeedExhausted,
		Summary:  "feed stopped reconnecting; ingestion is idle until restart",
		Pairs:    pairs,
		Attempts: attempts,
		Channels: a.Config.Alerting.Channels,
	}
	if err := notifier.Notify(ctx, note); err != nil {
		a.Logger.Error().Err(err).Msg("failed to dispatch feed alert")
	}
}

// Run executes the long-running ingestion service until SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pairs, err := a.Config.Pairs()
	if err != nil {
		return err
	}

	repo, err := a.openStore(pairs)
	if err != nil {
		return err
	}

	events := service.NewEvents(a.Logger)
	defer events.Close()

	notifier := a.newNotifier()
	adapter := a.newAdapter(pairs, func() { a.notifyExhausted(notifier, pairs) })

	orchestrator := service.NewOrchestrator(
		service.OrchestratorOptions{
			Pairs:               pairs,
			AggregationInterval: a.Config.Scheduler.AggregationInterval,
			PersistenceInterval: a.Config.Scheduler.PersistenceInterval,
		},
		adapter,
		scheduler.New(a.Logger),
		service.NewProcessSample(repo, events),
		service.NewCalculateHourlyAverage(repo, events, a.Logger),
		service.NewPersistHourlyAverages(repo),
		a.Logger,
	)

	sinks, closeSinks := a.openSinks(ctx)
	defer closeSinks()

	relayCtx, stopRelays := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRelays()
	group, groupCtx := errgroup.WithContext(relayCtx)
	for _, sink := range sinks {
		r := relay.New(events.Samples, events.Averages, sink, a.Logger)
		group.Go(func() error { return r.Run(groupCtx) })
	}

	a.Logger.Info().Int("pairs", len(pairs)).Int("sinks", len(sinks)).Msg("starting rate service")
	if err := orchestrator.Start(ctx); err != nil {
		stopRelays()
		_ = group.Wait()
		return err
	}
	if feedErr := orchestrator.FeedError(); feedErr != nil {
		a.Logger.Warn().Err(feedErr).Msg("running degraded; feed not connected")
	}

	<-ctx.Done()
	a.Logger.Info().Msg("shutdown requested")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := orchestrator.Stop(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("orchestrator stop failed")
	}

	stopRelays()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.Logger.Info().Msg("rate service stopped")
	return nil
}

// ExportOptions hold parameters for exporting hourly averages.
type ExportOptions struct {
	Pair      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Pair    string
	Limit   int
	Archive bool
}
