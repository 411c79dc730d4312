package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
	"github.com/rafappelt/crypto-dashboard/internal/service"
)

// Show prints the most recent durable hourly averages per pair.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	pairs, err := a.selectPairs(opts.Pair)
	if err != nil {
		return err
	}

	list, closeSource, err := a.averageSource(ctx, opts.Archive, pairs)
	if err != nil {
		return err
	}
	defer closeSource()

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pair\tHour (UTC)\tAverage\tSamples")

	rows := 0
	for _, pair := range pairs {
		averages, err := list(ctx, pair, opts.Limit)
		if err != nil {
			return fmt.Errorf("list %s: %w", pair, err)
		}
		for _, avg := range averages {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n",
				avg.Pair(),
				avg.Hour().UTC().Format(time.RFC3339),
				formatDecimal(avg.AveragePrice(), 8),
				avg.SampleCount(),
			)
			rows++
		}
	}
	if rows == 0 {
		fmt.Fprintln(a.Out, "no hourly averages found")
		return nil
	}

	return writer.Flush()
}

type listFunc func(ctx context.Context, pair domain.Pair, limit int) ([]domain.HourlyAverage, error)

// averageSource reads from the archive when asked, otherwise from the
// durable file table. Results are newest first and capped at limit.
func (a *App) averageSource(ctx context.Context, fromArchive bool, pairs []domain.Pair) (listFunc, func(), error) {
	if fromArchive {
		archive, closeArchive, err := a.openArchive(ctx)
		if err != nil {
			return nil, nil, err
		}
		if archive == nil {
			return nil, nil, errors.New("database not configured; cannot read archive")
		}
		return archive.ListHourlyAverages, closeArchive, nil
	}

	if a.Config.Storage.DataDir == "" {
		return nil, nil, errors.New("storage.data_dir not configured; nothing to read")
	}
	repo, err := a.openStore(pairs)
	if err != nil {
		return nil, nil, err
	}
	queries := service.NewQueries(repo)
	list := func(ctx context.Context, pair domain.Pair, limit int) ([]domain.HourlyAverage, error) {
		averages, err := queries.HourlyAverages(ctx, pair)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(averages) > limit {
			averages = averages[:limit]
		}
		return averages, nil
	}
	return list, func() {}, nil
}

func (a *App) selectPairs(raw string) ([]domain.Pair, error) {
	if raw != "" {
		pair, err := domain.ParsePair(raw)
		if err != nil {
			return nil, err
		}
		return []domain.Pair{pair}, nil
	}
	return a.Config.Pairs()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
