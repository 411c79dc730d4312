package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

// MemoryStore is a RateRepository without a disk mirror. Flush is a no-op.
type MemoryStore struct {
	*SampleBuffer

	mtx      sync.RWMutex
	averages map[string]domain.HourlyAverage
}

// NewMemoryStore builds an in-memory repository.
func NewMemoryStore(historyLimit int, pairs ...domain.Pair) *MemoryStore {
	return &MemoryStore{
		SampleBuffer: NewSampleBuffer(historyLimit, pairs...),
		averages:     make(map[string]domain.HourlyAverage),
	}
}

// LatestHourlyAverage returns the entry for pair with the greatest hour.
func (m *MemoryStore) LatestHourlyAverage(_ context.Context, pair domain.Pair) (domain.HourlyAverage, bool, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	avg, ok := latestFor(m.averages, pair)
	return avg, ok, nil
}

// SaveHourlyAverage upserts by identity key.
func (m *MemoryStore) SaveHourlyAverage(_ context.Context, average domain.HourlyAverage) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.averages[average.Key()] = average
	return nil
}

// HourlyAverages lists every entry for pair, newest hour first.
func (m *MemoryStore) HourlyAverages(_ context.Context, pair domain.Pair) ([]domain.HourlyAverage, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return averagesFor(m.averages, pair), nil
}

// Flush has nothing to write.
func (m *MemoryStore) Flush(context.Context) error { return nil }

func latestFor(table map[string]domain.HourlyAverage, pair domain.Pair) (domain.HourlyAverage, bool) {
	var latest domain.HourlyAverage
	found := false
	for _, avg := range table {
		if avg.Pair() != pair {
			continue
		}
		if !found || avg.Hour().After(latest.Hour()) {
			latest = avg
			found = true
		}
	}
	return latest, found
}

func averagesFor(table map[string]domain.HourlyAverage, pair domain.Pair) []domain.HourlyAverage {
	out := make([]domain.HourlyAverage, 0)
	for _, avg := range table {
		if avg.Pair() == pair {
			out = append(out, avg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour().After(out[j].Hour()) })
	return out
}

var _ RateRepository = (*MemoryStore)(nil)
