package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

// DefaultFileName is the snapshot file created inside the data directory.
const DefaultFileName = "hourly-averages.json"

// FileStoreOptions parameterise a FileStore.
type FileStoreOptions struct {
	DataDir      string
	FileName     string
	HistoryLimit int
	Pairs        []domain.Pair
}

// FileStore keeps samples in memory and mirrors the hourly-average table to
// a JSON file.
//
// Every operation touching the table or the file runs inside one critical
// section; waiters are admitted in arrival order. SaveHourlyAverage only
// updates memory, the file catches up on the next Flush.
type FileStore struct {
	*SampleBuffer

	dataDir string
	path    string
	logger  zerolog.Logger
	section *criticalSection
	table   map[string]domain.HourlyAverage
}

// NewFileStore creates the data directory if needed and loads the last snapshot.
// A snapshot that cannot be read is logged and the store starts empty.
func NewFileStore(opts FileStoreOptions, logger zerolog.Logger) (*FileStore, error) {
	if opts.DataDir == "" {
		return nil, errors.New("storage: data dir is required")
	}
	name := opts.FileName
	if name == "" {
		name = DefaultFileName
	}

	s := &FileStore{
		SampleBuffer: NewSampleBuffer(opts.HistoryLimit, opts.Pairs...),
		dataDir:      opts.DataDir,
		path:         filepath.Join(opts.DataDir, name),
		logger:       logger.With().Str("component", "rate_store").Logger(),
		section:      newCriticalSection(),
		table:        make(map[string]domain.HourlyAverage),
	}

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		s.logger.Error().Err(err).Str("dir", s.dataDir).Msg("failed to create data dir")
	}

	// an unreadable file leaves the table empty; Flush keeps reporting it
	snap, err := s.readSnapshot()
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("failed to load hourly averages; starting empty")
		return s, nil
	}
	s.absorb(snap)
	s.logger.Info().Str("path", s.path).Int("entries", len(s.table)).Msg("rate store loaded")
	return s, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

// LatestHourlyAverage returns the entry for pair with the greatest hour.
func (s *FileStore) LatestHourlyAverage(ctx context.Context, pair domain.Pair) (domain.HourlyAverage, bool, error) {
	var (
		avg   domain.HourlyAverage
		found bool
	)
	err := s.section.run(ctx, func() error {
		avg, found = latestFor(s.table, pair)
		return nil
	})
	return avg, found, err
}

// SaveHourlyAverage upserts into the in-memory table.
func (s *FileStore) SaveHourlyAverage(ctx context.Context, average domain.HourlyAverage) error {
	return s.section.run(ctx, func() error {
		s.table[average.Key()] = average
		return nil
	})
}

// HourlyAverages lists every entry for pair, newest hour first.
func (s *FileStore) HourlyAverages(ctx context.Context, pair domain.Pair) ([]domain.HourlyAverage, error) {
	var out []domain.HourlyAverage
	err := s.section.run(ctx, func() error {
		out = averagesFor(s.table, pair)
		return nil
	})
	return out, err
}

// Flush merges the in-memory table over the current file contents and
// replaces the file atomically.
func (s *FileStore) Flush(ctx context.Context) error {
	return s.section.run(ctx, func() error {
		snap, err := s.readSnapshot()
		if err != nil {
			return err
		}
		for key, avg := range s.table {
			snap.HourlyAverages[key] = toRecord(avg)
		}
		if err := s.writeSnapshot(snap); err != nil {
			return err
		}
		s.absorb(snap)
		s.logger.Debug().Int("entries", len(snap.HourlyAverages)).Msg("hourly averages flushed")
		return nil
	})
}

// absorb adds file entries that memory does not hold yet.
func (s *FileStore) absorb(snap snapshot) {
	for key, rec := range snap.HourlyAverages {
		if _, ok := s.table[key]; ok {
			continue
		}
		avg, err := fromRecord(rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skipping invalid stored average")
			continue
		}
		s.table[key] = avg
	}
}

func (s *FileStore) readSnapshot() (snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newSnapshot(), nil
		}
		return snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	snap := newSnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	if snap.HourlyAverages == nil {
		snap.HourlyAverages = make(map[string]hourlyAverageRecord)
	}
	return snap, nil
}

func (s *FileStore) writeSnapshot(snap snapshot) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dataDir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// criticalSection admits one caller at a time, in arrival order.
type criticalSection struct {
	sem *semaphore.Weighted
}

func newCriticalSection() *criticalSection {
	return &criticalSection{sem: semaphore.NewWeighted(1)}
}

func (c *criticalSection) run(ctx context.Context, fn func() error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire rate store lock: %w", err)
	}
	defer c.sem.Release(1)
	return fn()
}

var _ RateRepository = (*FileStore)(nil)
