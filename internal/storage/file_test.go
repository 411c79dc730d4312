package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

func newTestFileStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	store, err := NewFileStore(FileStoreOptions{DataDir: dir, Pairs: domain.DefaultPairs}, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func mustAverage(t *testing.T, pair domain.Pair, price string, hour time.Time, count int) domain.HourlyAverage {
	t.Helper()
	avg, err := domain.NewHourlyAverage(pair, decimal.RequireFromString(price), hour, count)
	require.NoError(t, err)
	return avg
}

func TestFileStoreDurableAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "data")
	hour := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	store := newTestFileStore(t, dir)
	avg := mustAverage(t, domain.PairETHUSDC, "2000.125", hour, 3)
	require.NoError(t, store.SaveHourlyAverage(ctx, avg))
	require.NoError(t, store.Flush(ctx))

	reopened := newTestFileStore(t, dir)
	got, ok, err := reopened.LatestHourlyAverage(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(avg), "got %+v", got)
}

func TestFileStoreSaveDoesNotWriteUntilFlush(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestFileStore(t, dir)

	hour := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHBTC, "0.05", hour, 1)))

	_, err := os.Stat(store.Path())
	require.True(t, os.IsNotExist(err), "file should not exist before flush")

	latest, ok, err := store.LatestHourlyAverage(ctx, domain.PairETHBTC)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hour, latest.Hour())
}

func TestFileStoreFlushWritesDocumentShape(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestFileStore(t, dir)
	hour := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHUSDC, "2000", hour, 3)))
	require.NoError(t, store.Flush(ctx))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	content := string(raw)
	require.Contains(t, content, `"hourlyAverages"`)
	require.Contains(t, content, `"ETH/USDC-2024-01-02T03:00:00.000Z"`)
	require.Contains(t, content, `"averagePrice": 2000`)
	require.Contains(t, content, `"hour": "2024-01-02T03:00:00.000Z"`)
	require.Contains(t, content, `"sampleCount": 3`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestFileStoreFlushMergesExistingFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	hour := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	first := newTestFileStore(t, dir)
	require.NoError(t, first.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHUSDT, "10", hour, 1)))
	require.NoError(t, first.Flush(ctx))

	second := newTestFileStore(t, t.TempDir())
	second.path = first.Path()
	second.dataDir = dir
	require.NoError(t, second.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHUSDT, "20", hour.Add(time.Hour), 2)))
	require.NoError(t, second.Flush(ctx))

	reopened := newTestFileStore(t, dir)
	all, err := reopened.HourlyAverages(ctx, domain.PairETHUSDT)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].Hour().After(all[1].Hour()), "expected newest first")
}

func TestFileStoreUpsertOverwritesSameKey(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t, t.TempDir())
	hour := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHUSDC, "1", hour, 1)))
	require.NoError(t, store.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHUSDC, "3", hour, 4)))

	all, err := store.HourlyAverages(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 4, all[0].SampleCount())
}

func TestFileStoreConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestFileStore(t, dir)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			avg, err := domain.NewHourlyAverage(domain.PairETHUSDC, decimal.NewFromInt(int64(i+1)), base.Add(time.Duration(i)*time.Hour), i+1)
			if err != nil {
				errs <- err
				return
			}
			errs <- store.SaveHourlyAverage(ctx, avg)
		}(i)
		go func() {
			defer wg.Done()
			errs <- store.Flush(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := store.HourlyAverages(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.Len(t, all, n)
	for _, avg := range all {
		idx := int(avg.Hour().Sub(base) / time.Hour)
		require.Equal(t, idx+1, avg.SampleCount(), fmt.Sprintf("entry %d mixed up", idx))
		require.True(t, avg.AveragePrice().Equal(decimal.NewFromInt(int64(idx+1))))
	}

	require.NoError(t, store.Flush(ctx))
	reopened := newTestFileStore(t, dir)
	persisted, err := reopened.HourlyAverages(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.Len(t, persisted, n)
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte("{not json"), 0o644))

	var logs bytes.Buffer
	store, err := NewFileStore(FileStoreOptions{DataDir: dir}, zerolog.New(&logs))
	require.NoError(t, err)
	require.Contains(t, logs.String(), "failed to load hourly averages")

	ctx := context.Background()
	hour := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	all, err := store.HourlyAverages(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.Empty(t, all)

	avg := mustAverage(t, domain.PairETHUSDC, "10", hour, 1)
	require.NoError(t, store.SaveHourlyAverage(ctx, avg))
	latest, ok, err := store.LatestHourlyAverage(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, latest.Equal(avg))

	// the read error surfaces on every flush and the file is left alone
	require.Error(t, store.Flush(ctx))
	require.Error(t, store.Flush(ctx))
	raw, err := os.ReadFile(filepath.Join(dir, DefaultFileName))
	require.NoError(t, err)
	require.Equal(t, "{not json", string(raw))
}

func TestFileStoreCanceledContext(t *testing.T) {
	store := newTestFileStore(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, store.section.sem.Acquire(context.Background(), 1))
	defer store.section.sem.Release(1)

	require.Error(t, store.Flush(ctx))
}

func TestMemoryStoreLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	hour := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	_, ok, err := store.LatestHourlyAverage(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHUSDC, "1", hour, 1)))
	require.NoError(t, store.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHUSDC, "2", hour.Add(2*time.Hour), 1)))
	require.NoError(t, store.SaveHourlyAverage(ctx, mustAverage(t, domain.PairETHUSDC, "3", hour.Add(time.Hour), 1)))

	latest, ok, err := store.LatestHourlyAverage(ctx, domain.PairETHUSDC)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hour.Add(2*time.Hour), latest.Hour())
	require.NoError(t, store.Flush(ctx))
}

func TestArchiveNotConfigured(t *testing.T) {
	var archive *Archive
	err := archive.UpsertHourlyAverage(context.Background(), domain.HourlyAverage{})
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewArchive(nil).ListHourlyAverages(context.Background(), domain.PairETHUSDC, 10)
	require.ErrorIs(t, err, ErrNotConfigured)
}
