package calibration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/variant-calibration-server/internal/domain"
)

// Fallback percentile step function, used when a gene's empirical
// distribution carries fewer than domain.MinGeneSampleSize scores.
// Hand-tuned against pan-gene delta magnitudes.
const (
	fallbackConfidence = 0.1

	fallbackStrongDelta   = -1.0
	fallbackModerateDelta = -0.1
	fallbackWeakDelta     = -0.01

	fallbackStrongPercentile   = 95
	fallbackModeratePercentile = 75
	fallbackWeakPercentile     = 60
	fallbackBasePercentile     = 30
)

// fullConfidenceSamples is the sample size at which gene-specific
// calibration confidence saturates at 1.0.
const fullConfidenceSamples = 50.0

// CacheStats counts gene cache activity since process start.
type CacheStats struct {
	Hits            int64 `json:"hits"`
	Misses          int64 `json:"misses"`
	Recomputes      int64 `json:"recomputes"`
	RefreshFailures int64 `json:"refresh_failures"`
	FallbackServed  int64 `json:"fallback_served"`
}

// GeneCache serves percentile and z-score lookups against per-gene
// empirical delta distributions. Missing or expired records are
// computed on demand by fetching and scoring reference variants; a
// background loop proactively refreshes records nearing expiry so that
// request-time misses are rare in steady state.
//
// Concurrent lookups for the same cold gene may recompute independently;
// recomputation is idempotent and the store write is atomic, so the
// thundering herd on a cold cache is an accepted trade-off.
type GeneCache struct {
	logger  *logrus.Logger
	cfg     domain.CalibrationConfig
	store   domain.DocumentStore
	fetcher domain.ReferenceVariantFetcher
	scorer  domain.SequenceScorer
	clock   domain.Clock

	mu      sync.RWMutex
	records map[string]*domain.GeneCalibrationRecord

	hits            atomic.Int64
	misses          atomic.Int64
	recomputes      atomic.Int64
	refreshFailures atomic.Int64
	fallbackServed  atomic.Int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGeneCache creates a gene calibration cache. A nil clock uses the
// system time.
func NewGeneCache(
	logger *logrus.Logger,
	cfg domain.CalibrationConfig,
	store domain.DocumentStore,
	fetcher domain.ReferenceVariantFetcher,
	scorer domain.SequenceScorer,
	clock domain.Clock,
) *GeneCache {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	if cfg.PreloadConcurrency <= 0 {
		cfg.PreloadConcurrency = 4
	}
	return &GeneCache{
		logger:  logger,
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		scorer:  scorer,
		clock:   clock,
		records: make(map[string]*domain.GeneCalibrationRecord),
	}
}

// Calibrate returns the population-relative reading of delta against
// the gene's history. It always returns a usable result: thin data
// degrades to the fallback step function, never to an error.
func (c *GeneCache) Calibrate(ctx context.Context, gene string, delta float64) domain.CalibrationResult {
	gene = normalizeGene(gene)
	record := c.loadOrCompute(ctx, gene)
	age := c.clock.Now().Sub(record.ComputedAt).Hours()

	if record.Insufficient() {
		c.fallbackServed.Add(1)
		return domain.CalibrationResult{
			Gene:          gene,
			Percentile:    fallbackPercentile(delta),
			ZScore:        0,
			Confidence:    fallbackConfidence,
			SampleSize:    record.SampleSize,
			Source:        domain.CalibrationSourceFallback,
			CacheAgeHours: age,
		}
	}

	// Rank-based percentile, ties inclusive. The distribution is kept
	// sorted, so the rank is the first index holding a larger value.
	rank := sort.Search(len(record.Distribution), func(i int) bool {
		return record.Distribution[i] > delta
	})
	percentile := 100 * float64(rank) / float64(record.SampleSize)

	var zScore float64
	if record.StdDev > 0 {
		zScore = (delta - record.Mean) / record.StdDev
	}

	confidence := float64(record.SampleSize) / fullConfidenceSamples
	if confidence > 1.0 {
		confidence = 1.0
	}

	return domain.CalibrationResult{
		Gene:          gene,
		Percentile:    percentile,
		ZScore:        zScore,
		Confidence:    confidence,
		SampleSize:    record.SampleSize,
		Source:        domain.CalibrationSourceGeneSpecific,
		CacheAgeHours: age,
	}
}

// Record returns a copy of the cached record for a gene, if any.
func (c *GeneCache) Record(gene string) (domain.GeneCalibrationRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[normalizeGene(gene)]
	if !ok {
		return domain.GeneCalibrationRecord{}, false
	}
	return *r, true
}

// Stats returns a snapshot of the cache counters.
func (c *GeneCache) Stats() CacheStats {
	return CacheStats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Recomputes:      c.recomputes.Load(),
		RefreshFailures: c.refreshFailures.Load(),
		FallbackServed:  c.fallbackServed.Load(),
	}
}

// loadOrCompute returns a current record for the gene: the in-memory
// one when fresh, the persisted one when its file age is within TTL,
// and otherwise a freshly computed record.
func (c *GeneCache) loadOrCompute(ctx context.Context, gene string) *domain.GeneCalibrationRecord {
	now := c.clock.Now()

	c.mu.RLock()
	record, ok := c.records[gene]
	c.mu.RUnlock()
	if ok && now.Sub(record.ComputedAt) <= c.cfg.TTL {
		c.hits.Add(1)
		return record
	}
	c.misses.Add(1)

	// A persisted record younger than TTL (by store write time) avoids
	// redundant external fetches across process restarts.
	var persisted domain.GeneCalibrationRecord
	if found, modifiedAt, err := c.store.Load(c.storeKey(gene), &persisted); err == nil && found {
		if now.Sub(modifiedAt) <= c.cfg.TTL && persisted.SampleSize == len(persisted.Distribution) {
			c.put(gene, &persisted)
			return &persisted
		}
	} else if err != nil {
		// Persistence failure is a cache miss, never fatal.
		c.logger.WithError(err).WithField("gene", gene).Warn("Failed to load persisted calibration record")
	}

	fresh, err := c.computeRecord(ctx, gene)
	if err != nil {
		// Degrade to an insufficient record so the caller always has an
		// answer; the next TTL cycle retries the upstream fetch.
		c.logger.WithError(err).WithField("gene", gene).Warn("Gene calibration compute failed, serving fallback")
		fresh = &domain.GeneCalibrationRecord{Gene: gene, ComputedAt: now}
	}
	c.put(gene, fresh)
	return fresh
}

// computeRecord builds a gene's empirical distribution by fetching its
// reference variants and scoring each against the sequence model, then
// persists the record.
func (c *GeneCache) computeRecord(ctx context.Context, gene string) (*domain.GeneCalibrationRecord, error) {
	c.recomputes.Add(1)

	variants, err := c.fetcher.FetchVariants(ctx, gene)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference variants for %s: %w", gene, err)
	}
	if c.cfg.MaxReferenceVariants > 0 && len(variants) > c.cfg.MaxReferenceVariants {
		variants = variants[:c.cfg.MaxReferenceVariants]
	}

	distribution := make([]float64, 0, len(variants))
	for _, rv := range variants {
		sample, err := c.scorer.ScoreVariant(ctx, rv.Chromosome, rv.Position, rv.Ref, rv.Alt)
		if err != nil {
			// No score available for this variant; skip it.
			c.logger.WithError(err).WithFields(logrus.Fields{
				"gene":     gene,
				"position": rv.Position,
			}).Debug("Reference variant scoring failed")
			continue
		}
		distribution = append(distribution, sample.MinDelta)
	}
	sort.Float64s(distribution)

	record := &domain.GeneCalibrationRecord{
		Gene:         gene,
		Distribution: distribution,
		SampleSize:   len(distribution),
		ComputedAt:   c.clock.Now(),
	}
	if len(distribution) > 0 {
		record.Mean = stat.Mean(distribution, nil)
	}
	if len(distribution) > 1 {
		record.StdDev = stat.StdDev(distribution, nil)
	}

	if err := c.store.Save(c.storeKey(gene), record); err != nil {
		// The in-memory record still serves; persistence catches up on
		// the next recompute.
		c.logger.WithError(err).WithField("gene", gene).Warn("Failed to persist calibration record")
	}

	c.logger.WithFields(logrus.Fields{
		"gene":        gene,
		"sample_size": record.SampleSize,
		"mean":        record.Mean,
		"std_dev":     record.StdDev,
	}).Info("Gene calibration record computed")

	return record, nil
}

// Preload concurrently warms calibration for every listed gene that is
// missing or stale and reports how many were warmed. Per-gene failures
// are logged and do not stop the batch.
func (c *GeneCache) Preload(ctx context.Context, genes []string) int {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PreloadConcurrency)

	var warmed atomic.Int64
	for _, gene := range genes {
		gene := normalizeGene(gene)
		if gene == "" || c.fresh(gene) {
			continue
		}
		g.Go(func() error {
			record, err := c.computeRecord(ctx, gene)
			if err != nil {
				c.logger.WithError(err).WithField("gene", gene).Warn("Preload failed for gene")
				return nil
			}
			c.put(gene, record)
			warmed.Add(1)
			return nil
		})
	}
	g.Wait()

	count := int(warmed.Load())
	c.logger.WithFields(logrus.Fields{
		"requested": len(genes),
		"warmed":    count,
	}).Info("Gene calibration preload completed")
	return count
}

// Start launches the background refresh loop. Safe to call once per
// cache instance; tests run isolated instances without starting it.
func (c *GeneCache) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go c.refreshLoop(ctx, done)
}

// Stop cancels the refresh loop and waits for any in-flight refresh to
// wind down.
func (c *GeneCache) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// refreshLoop wakes on the configured interval and recomputes every
// record whose age exceeds TTL. A per-gene failure leaves that record
// stale for the next cycle; it never takes down the process. The done
// channel is owned by this goroutine: Stop may nil the field before the
// loop even starts, so the field itself is never touched here.
func (c *GeneCache) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	c.logger.WithField("interval", c.cfg.RefreshInterval).Info("Gene calibration refresh loop started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Gene calibration refresh loop stopped")
			return
		case <-ticker.C:
			c.refreshStale(ctx)
		}
	}
}

// refreshStale recomputes every cached record older than TTL.
func (c *GeneCache) refreshStale(ctx context.Context) {
	now := c.clock.Now()

	c.mu.RLock()
	stale := make([]string, 0)
	for gene, record := range c.records {
		if now.Sub(record.ComputedAt) > c.cfg.TTL {
			stale = append(stale, gene)
		}
	}
	c.mu.RUnlock()
	sort.Strings(stale)

	for _, gene := range stale {
		select {
		case <-ctx.Done():
			return
		default:
		}
		record, err := c.computeRecord(ctx, gene)
		if err != nil {
			c.refreshFailures.Add(1)
			c.logger.WithError(err).WithField("gene", gene).Warn("Background refresh failed, record left stale")
			continue
		}
		c.put(gene, record)
	}

	if len(stale) > 0 {
		c.logger.WithFields(logrus.Fields{
			"stale": len(stale),
			"stats": c.Stats(),
		}).Info("Background calibration refresh cycle completed")
	}
}

func (c *GeneCache) fresh(gene string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.records[gene]
	return ok && c.clock.Now().Sub(record.ComputedAt) <= c.cfg.TTL
}

func (c *GeneCache) put(gene string, record *domain.GeneCalibrationRecord) {
	c.mu.Lock()
	c.records[gene] = record
	c.mu.Unlock()
}

func (c *GeneCache) storeKey(gene string) string {
	return gene + "_stats"
}

func normalizeGene(gene string) string {
	return strings.ToUpper(strings.TrimSpace(gene))
}

// fallbackPercentile maps a delta score onto a coarse percentile when no
// gene-specific distribution is available.
func fallbackPercentile(delta float64) float64 {
	switch {
	case delta <= fallbackStrongDelta:
		return fallbackStrongPercentile
	case delta <= fallbackModerateDelta:
		return fallbackModeratePercentile
	case delta <= fallbackWeakDelta:
		return fallbackWeakPercentile
	default:
		return fallbackBasePercentile
	}
}
