package relay

import (
	"context"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
	"github.com/rafappelt/crypto-dashboard/internal/storage"
)

// ArchiveSink writes every recomputed hourly average to an archive. Samples
// are not archived.
type ArchiveSink struct {
	archive storage.AverageArchive
}

// NewArchiveSink wraps an archive.
func NewArchiveSink(archive storage.AverageArchive) *ArchiveSink {
	return &ArchiveSink{archive: archive}
}

// PublishSample is a no-op.
func (s *ArchiveSink) PublishSample(context.Context, domain.PriceSample) error { return nil }

// PublishAverage upserts avg into the archive.
func (s *ArchiveSink) PublishAverage(ctx context.Context, avg domain.HourlyAverage) error {
	return s.archive.UpsertHourlyAverage(ctx, avg)
}

var _ Sink = (*ArchiveSink)(nil)
