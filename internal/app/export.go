package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

// Export renders durable hourly averages as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	pairs, err := a.selectPairs(opts.Pair)
	if err != nil {
		return err
	}

	from, to := time.Time{}, time.Now().UTC()
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if opts.To != nil {
		to = opts.To.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	list, closeSource, err := a.averageSource(ctx, false, pairs)
	if err != nil {
		return err
	}
	defer closeSource()

	series := make(map[domain.Pair][]domain.HourlyAverage, len(pairs))
	total := 0
	for _, pair := range pairs {
		averages, err := list(ctx, pair, 0)
		if err != nil {
			return err
		}
		window := inWindow(averages, from, to)
		if len(window) == 0 {
			continue
		}
		series[pair] = downsampleAverages(window, opts.MaxPoints)
		total += len(window)
	}
	if total == 0 {
		a.Logger.Info().Msg("no hourly averages found for export window")
		return nil
	}
	a.Logger.Info().Int("total", total).Int("pairs", len(series)).Msg("exporting hourly averages")

	if opts.CSVPath != "" {
		if err := writeAveragesCSV(opts.CSVPath, pairs, series); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeAveragesPNG(opts.PNGPath, pairs, series); err != nil {
			return err
		}
	}

	return nil
}

// inWindow keeps averages whose hour is in [from, to), oldest first.
func inWindow(averages []domain.HourlyAverage, from, to time.Time) []domain.HourlyAverage {
	out := make([]domain.HourlyAverage, 0, len(averages))
	for _, avg := range averages {
		if avg.Hour().Before(from) || !avg.Hour().Before(to) {
			continue
		}
		out = append(out, avg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour().Before(out[j].Hour()) })
	return out
}

func downsampleAverages(averages []domain.HourlyAverage, max int) []domain.HourlyAverage {
	if max <= 0 || len(averages) <= max {
		return averages
	}
	if max == 1 {
		return averages[len(averages)-1:]
	}

	result := make([]domain.HourlyAverage, 0, max)
	step := float64(len(averages)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(averages) {
			idx = len(averages) - 1
		}
		result = append(result, averages[idx])
	}
	return result
}

func writeAveragesCSV(path string, pairs []domain.Pair, series map[domain.Pair][]domain.HourlyAverage) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"pair", "hour_ts", "average_price", "sample_count"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, pair := range pairs {
		for _, avg := range series[pair] {
			record := []string{
				avg.Pair().String(),
				avg.Hour().UTC().Format(time.RFC3339),
				avg.AveragePrice().String(),
				strconv.Itoa(avg.SampleCount()),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeAveragesPNG plots one line per pair. BTC-quoted pairs go on the
// secondary axis since their scale differs by orders of magnitude.
func writeAveragesPNG(path string, pairs []domain.Pair, series map[domain.Pair][]domain.HourlyAverage) error {
	var lines []chart.Series
	for _, pair := range pairs {
		averages := series[pair]
		if len(averages) < 2 {
			continue
		}
		x := make([]time.Time, len(averages))
		y := make([]float64, len(averages))
		for i, avg := range averages {
			x[i] = avg.Hour()
			y[i] = avg.AveragePrice().InexactFloat64()
		}
		line := chart.TimeSeries{Name: pair.String(), XValues: x, YValues: y}
		if pair.Quote() == "BTC" {
			line.YAxis = chart.YAxisSecondary
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return errors.New("need at least two hourly averages for one pair to render a chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	ratioFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.5f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Average price (stablecoin quote)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Average price (BTC quote)",
			ValueFormatter: ratioFormatter,
		},
		Series: lines,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
