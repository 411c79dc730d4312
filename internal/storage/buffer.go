package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
)

// SampleBuffer keeps the most recent samples per pair in memory.
//
// Each pair holds at most limit samples; once full the oldest sample is
// evicted. The buffer is never persisted.
type SampleBuffer struct {
	limit int
	mtx   sync.RWMutex
	rings map[domain.Pair]*ring
}

// NewSampleBuffer builds a buffer with per-pair capacity limit.
// Pairs are pre-registered; unknown pairs are created on first save.
func NewSampleBuffer(limit int, pairs ...domain.Pair) *SampleBuffer {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	b := &SampleBuffer{limit: limit, rings: make(map[domain.Pair]*ring, len(pairs))}
	for _, p := range pairs {
		b.rings[p] = newRing(limit)
	}
	return b
}

// Save appends the sample to its pair's buffer.
func (b *SampleBuffer) Save(_ context.Context, sample domain.PriceSample) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	r, ok := b.rings[sample.Pair()]
	if !ok {
		r = newRing(b.limit)
		b.rings[sample.Pair()] = r
	}
	r.push(sample)
	return nil
}

// FindByPair returns the latest limit samples in chronological order.
// A non-positive limit falls back to DefaultQueryLimit.
func (b *SampleBuffer) FindByPair(_ context.Context, pair domain.Pair, limit int) ([]domain.PriceSample, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	b.mtx.RLock()
	defer b.mtx.RUnlock()

	r, ok := b.rings[pair]
	if !ok {
		return []domain.PriceSample{}, nil
	}
	return r.last(limit), nil
}

// FindByPairAndHour returns buffered samples inside the hour window containing hour.
func (b *SampleBuffer) FindByPairAndHour(_ context.Context, pair domain.Pair, hour time.Time) ([]domain.PriceSample, error) {
	start := domain.TopOfHour(hour)

	b.mtx.RLock()
	defer b.mtx.RUnlock()

	r, ok := b.rings[pair]
	if !ok {
		return []domain.PriceSample{}, nil
	}

	samples := make([]domain.PriceSample, 0)
	r.each(func(s domain.PriceSample) {
		if s.WithinHour(start) {
			samples = append(samples, s)
		}
	})
	return samples, nil
}

// Len returns the number of buffered samples for pair.
func (b *SampleBuffer) Len(pair domain.Pair) int {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	if r, ok := b.rings[pair]; ok {
		return r.size
	}
	return 0
}

// ring is a fixed-capacity FIFO of samples.
type ring struct {
	items []domain.PriceSample
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{items: make([]domain.PriceSample, capacity)}
}

func (r *ring) push(s domain.PriceSample) {
	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.start+r.size)%capacity] = s
		r.size++
		return
	}
	// full: overwrite the oldest
	r.items[r.start] = s
	r.start = (r.start + 1) % capacity
}

func (r *ring) each(fn func(domain.PriceSample)) {
	capacity := len(r.items)
	for i := 0; i < r.size; i++ {
		fn(r.items[(r.start+i)%capacity])
	}
}

func (r *ring) last(n int) []domain.PriceSample {
	if n > r.size {
		n = r.size
	}
	out := make([]domain.PriceSample, 0, n)
	capacity := len(r.items)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.items[(r.start+i)%capacity])
	}
	return out
}
