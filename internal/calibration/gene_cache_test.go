package calibration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-calibration-server/internal/domain"
	"github.com/variant-calibration-server/internal/storage"
)

// fakeFetcher serves a fixed variant list per gene and counts calls.
type fakeFetcher struct {
	variants map[string][]domain.ReferenceVariant
	err      error
	calls    atomic.Int64
}

func (f *fakeFetcher) FetchVariants(_ context.Context, gene string) ([]domain.ReferenceVariant, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.variants[gene], nil
}

// fakeScorer derives each variant's delta from its position so the
// resulting distribution is deterministic.
type fakeScorer struct{}

func (fakeScorer) ScoreVariant(_ context.Context, chromosome string, position int64, ref, alt string) (*domain.VariantDeltaSample, error) {
	delta := -float64(position) / 10
	return &domain.VariantDeltaSample{
		Chromosome:   chromosome,
		Position:     position,
		Ref:          ref,
		Alt:          alt,
		WindowDeltas: []domain.WindowDelta{{WindowSize: 512, Delta: delta}},
		MinDelta:     delta,
		WindowUsed:   512,
	}, nil
}

// fakeClock is a settable clock shared between the cache and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func referenceVariants(n int) []domain.ReferenceVariant {
	variants := make([]domain.ReferenceVariant, n)
	for i := range variants {
		variants[i] = domain.ReferenceVariant{
			Chromosome: "chr12",
			Position:   int64(i + 1),
			Ref:        "A",
			Alt:        "T",
		}
	}
	return variants
}

func testGeneCache(t *testing.T, fetcher domain.ReferenceVariantFetcher, clock domain.Clock) *GeneCache {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	cfg := domain.CalibrationConfig{
		TTL:                  24 * time.Hour,
		RefreshInterval:      time.Hour,
		MaxReferenceVariants: 200,
		PreloadConcurrency:   2,
	}
	return NewGeneCache(logger, cfg, store, fetcher, fakeScorer{}, clock)
}

func TestGeneCache_GeneSpecificCalibration(t *testing.T) {
	// Positions 1..10 score to deltas -0.1 .. -1.0.
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(10),
	}}
	clock := &fakeClock{now: time.Now()}
	cache := testGeneCache(t, fetcher, clock)

	result := cache.Calibrate(context.Background(), "KRAS", -0.55)

	assert.Equal(t, domain.CalibrationSourceGeneSpecific, result.Source)
	assert.Equal(t, 10, result.SampleSize)
	// -0.55 sits exactly in the middle of the symmetric distribution.
	assert.InDelta(t, 50.0, result.Percentile, 1e-9)
	assert.InDelta(t, 0.0, result.ZScore, 1e-9)
	assert.InDelta(t, 0.2, result.Confidence, 1e-9)
}

func TestGeneCache_PercentileIsMonotone(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(20),
	}}
	cache := testGeneCache(t, fetcher, &fakeClock{now: time.Now()})

	deltas := []float64{-1.9, -1.0, -0.5, -0.15, 0.3}
	prev := -1.0
	for _, delta := range deltas {
		p := cache.Calibrate(context.Background(), "KRAS", delta).Percentile
		assert.GreaterOrEqual(t, p, prev, "percentile must not decrease with delta %v", delta)
		prev = p
	}
}

func TestGeneCache_RepeatLookupsHitCache(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(10),
	}}
	cache := testGeneCache(t, fetcher, &fakeClock{now: time.Now()})

	first := cache.Calibrate(context.Background(), "KRAS", -0.55)
	second := cache.Calibrate(context.Background(), "KRAS", -0.55)

	assert.Equal(t, int64(1), fetcher.calls.Load())
	assert.Equal(t, first.Percentile, second.Percentile)
	assert.Equal(t, first.ZScore, second.ZScore)
	assert.Equal(t, first.Confidence, second.Confidence)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Recomputes)
}

func TestGeneCache_TTLExpiryRecomputes(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(10),
	}}
	clock := &fakeClock{now: time.Now()}
	cache := testGeneCache(t, fetcher, clock)

	cache.Calibrate(context.Background(), "KRAS", -0.55)
	clock.Advance(25 * time.Hour)
	cache.Calibrate(context.Background(), "KRAS", -0.55)

	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestGeneCache_ThinDataServesFallback(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"RARE1": referenceVariants(3),
	}}
	cache := testGeneCache(t, fetcher, &fakeClock{now: time.Now()})

	result := cache.Calibrate(context.Background(), "RARE1", -1.5)

	assert.Equal(t, domain.CalibrationSourceFallback, result.Source)
	assert.Equal(t, 3, result.SampleSize)
	assert.InDelta(t, 95.0, result.Percentile, 1e-9)
	assert.InDelta(t, 0.1, result.Confidence, 1e-9)
	assert.Equal(t, int64(1), cache.Stats().FallbackServed)
}

func TestGeneCache_FallbackStepFunction(t *testing.T) {
	tests := []struct {
		delta float64
		want  float64
	}{
		{-2.0, 95},
		{-1.0, 95},
		{-0.5, 75},
		{-0.1, 75},
		{-0.02, 60},
		{-0.001, 30},
		{0.5, 30},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, fallbackPercentile(tt.delta), "delta %v", tt.delta)
	}
}

func TestGeneCache_FetchFailureDegradesToFallback(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("catalog unavailable")}
	cache := testGeneCache(t, fetcher, &fakeClock{now: time.Now()})

	result := cache.Calibrate(context.Background(), "KRAS", -1.5)

	assert.Equal(t, domain.CalibrationSourceFallback, result.Source)
	assert.Equal(t, 0, result.SampleSize)
	assert.InDelta(t, 0.1, result.Confidence, 1e-9)

	// The degraded record is cached; no hammering of the failing upstream.
	cache.Calibrate(context.Background(), "KRAS", -1.5)
	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestGeneCache_PersistedRecordSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := domain.CalibrationConfig{
		TTL:                24 * time.Hour,
		RefreshInterval:    time.Hour,
		PreloadConcurrency: 2,
	}
	clock := &fakeClock{now: time.Now()}

	store1, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	fetcher1 := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(10),
	}}
	cache1 := NewGeneCache(logger, cfg, store1, fetcher1, fakeScorer{}, clock)
	first := cache1.Calibrate(context.Background(), "KRAS", -0.55)

	// Second process over the same data dir.
	store2, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	fetcher2 := &fakeFetcher{}
	cache2 := NewGeneCache(logger, cfg, store2, fetcher2, fakeScorer{}, clock)
	second := cache2.Calibrate(context.Background(), "KRAS", -0.55)

	assert.Equal(t, int64(0), fetcher2.calls.Load(), "fresh persisted record must not refetch")
	assert.Equal(t, first.Percentile, second.Percentile)
	assert.Equal(t, first.SampleSize, second.SampleSize)
}

func TestGeneCache_PreloadWarmsRequestedGenes(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(10),
		"TP53": referenceVariants(8),
	}}
	cache := testGeneCache(t, fetcher, &fakeClock{now: time.Now()})

	warmed := cache.Preload(context.Background(), []string{"kras", "TP53", ""})

	assert.Equal(t, 2, warmed)
	for _, gene := range []string{"KRAS", "TP53"} {
		record, ok := cache.Record(gene)
		require.True(t, ok, gene)
		assert.False(t, record.Insufficient(), gene)
	}

	// A second preload finds everything fresh and does nothing.
	assert.Equal(t, 0, cache.Preload(context.Background(), []string{"KRAS", "TP53"}))
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestGeneCache_GeneNameIsNormalized(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(10),
	}}
	cache := testGeneCache(t, fetcher, &fakeClock{now: time.Now()})

	lower := cache.Calibrate(context.Background(), "  kras ", -0.55)
	upper := cache.Calibrate(context.Background(), "KRAS", -0.55)

	assert.Equal(t, "KRAS", lower.Gene)
	assert.Equal(t, int64(1), fetcher.calls.Load())
	assert.Equal(t, lower.Percentile, upper.Percentile)
}

func TestGeneCache_MaxReferenceVariantsCapsDistribution(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(50),
	}}
	clock := &fakeClock{now: time.Now()}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	cfg := domain.CalibrationConfig{
		TTL:                  24 * time.Hour,
		RefreshInterval:      time.Hour,
		MaxReferenceVariants: 15,
		PreloadConcurrency:   2,
	}
	cache := NewGeneCache(logger, cfg, store, fetcher, fakeScorer{}, clock)

	result := cache.Calibrate(context.Background(), "KRAS", -0.5)
	assert.Equal(t, 15, result.SampleSize)
}

func TestGeneCache_BackgroundRefreshRecomputesStale(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(10),
	}}
	clock := &fakeClock{now: time.Now()}
	cache := testGeneCache(t, fetcher, clock)

	cache.Calibrate(context.Background(), "KRAS", -0.55)
	require.Equal(t, int64(1), fetcher.calls.Load())

	// Nothing stale yet: a refresh cycle is a no-op.
	cache.refreshStale(context.Background())
	assert.Equal(t, int64(1), fetcher.calls.Load())

	clock.Advance(25 * time.Hour)
	cache.refreshStale(context.Background())
	assert.Equal(t, int64(2), fetcher.calls.Load())

	// The refreshed record serves without a request-time recompute.
	cache.Calibrate(context.Background(), "KRAS", -0.55)
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestGeneCache_RefreshFailureLeavesRecordStale(t *testing.T) {
	fetcher := &fakeFetcher{variants: map[string][]domain.ReferenceVariant{
		"KRAS": referenceVariants(10),
	}}
	clock := &fakeClock{now: time.Now()}
	cache := testGeneCache(t, fetcher, clock)

	before := cache.Calibrate(context.Background(), "KRAS", -0.55)
	require.Equal(t, domain.CalibrationSourceGeneSpecific, before.Source)

	clock.Advance(25 * time.Hour)
	fetcher.err = fmt.Errorf("catalog down")
	cache.refreshStale(context.Background())

	assert.Equal(t, int64(1), cache.Stats().RefreshFailures)

	// The stale record is still in memory with its full distribution.
	record, ok := cache.Record("KRAS")
	require.True(t, ok)
	assert.Equal(t, 10, record.SampleSize)
}

func TestGeneCache_StartStopIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := testGeneCache(t, fetcher, &fakeClock{now: time.Now()})

	cache.Start()
	cache.Start()
	cache.Stop()
	cache.Stop()
}

func TestGeneCache_StartThenImmediateStop(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := testGeneCache(t, fetcher, &fakeClock{now: time.Now()})

	// Stop racing a refresh goroutine that has not run yet must neither
	// panic nor hang, however tight the turnaround.
	for i := 0; i < 2000; i++ {
		cache.Start()
		cache.Stop()
	}
}
