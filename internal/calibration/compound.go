package calibration

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/variant-calibration-server/internal/domain"
)

// storeVersion identifies the consolidated compound document layout.
const storeVersion = "1.0"

// percentileAnchors are the quantiles captured when a calibration
// record is built.
var percentileAnchors = []float64{10, 25, 50, 75, 90}

// CompoundService maps raw efficacy scores to population-relative
// percentiles for (compound, disease) pairs. Records are built offline
// from historical run batches; request-time lookups interpolate between
// stored percentile anchors without any network call.
//
// Reads serve an in-memory snapshot of the consolidated document; the
// offline batch builder is the only writer. Last writer wins on the
// persisted document, which matches this system's staleness tolerance.
type CompoundService struct {
	logger   *logrus.Logger
	store    domain.DocumentStore
	storeKey string
	clock    domain.Clock

	mu  sync.RWMutex
	doc *domain.CompoundCalibrationStore
}

// NewCompoundService creates a compound calibration service backed by
// the given document store. A nil clock uses the system time.
func NewCompoundService(logger *logrus.Logger, store domain.DocumentStore, storeKey string, clock domain.Clock) *CompoundService {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	return &CompoundService{
		logger:   logger,
		store:    store,
		storeKey: storeKey,
		clock:    clock,
		doc:      emptyStore(),
	}
}

// BuildCalibrationFromRuns computes a calibration record from a batch
// of historical run scores. Scores outside [0,1] and non-finite values
// are silently filtered; the batch is rejected only when fewer than
// domain.MinCompoundSampleSize valid scores remain.
func (s *CompoundService) BuildCalibrationFromRuns(compound, disease string, runs []domain.RunScore) (*domain.CompoundCalibrationRecord, error) {
	valid := make([]float64, 0, len(runs))
	for _, run := range runs {
		if math.IsNaN(run.Score) || math.IsInf(run.Score, 0) {
			continue
		}
		if run.Score < 0 || run.Score > 1 {
			continue
		}
		valid = append(valid, run.Score)
	}

	if len(valid) < domain.MinCompoundSampleSize {
		return nil, fmt.Errorf("%w: compound %s disease %s has %d valid scores, need %d",
			domain.ErrInsufficientRuns, compound, disease, len(valid), domain.MinCompoundSampleSize)
	}

	percentiles := make(map[string]float64, len(percentileAnchors))
	for _, p := range percentileAnchors {
		v, err := stats.Percentile(valid, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compute p%d for %s/%s: %w", int(p), compound, disease, err)
		}
		percentiles[fmt.Sprintf("p%d", int(p))] = v
	}

	sort.Float64s(valid)
	record := &domain.CompoundCalibrationRecord{
		Percentiles: percentiles,
		SampleSize:  len(valid),
		MeanScore:   stat.Mean(valid, nil),
		StdDev:      stat.StdDev(valid, nil),
		MinScore:    valid[0],
		MaxScore:    valid[len(valid)-1],
		Source:      "historical_runs",
		Date:        s.clock.Now(),
	}

	s.logger.WithFields(logrus.Fields{
		"compound":    NormalizeCompoundKey(compound),
		"disease":     disease,
		"sample_size": record.SampleSize,
		"mean_score":  record.MeanScore,
	}).Info("Compound calibration record built")

	return record, nil
}

// AddCalibration attaches a record under the normalized compound key
// and disease, creating the compound entry if needed.
func (s *CompoundService) AddCalibration(compound, canonicalName, disease string, record *domain.CompoundCalibrationRecord) {
	key := NormalizeCompoundKey(compound)
	if canonicalName == "" {
		canonicalName = compound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.doc.Compounds[key]
	if !ok {
		entry = &domain.CompoundEntry{
			CanonicalName: canonicalName,
			Diseases:      make(map[string]*domain.CompoundCalibrationRecord),
		}
		s.doc.Compounds[key] = entry
	}
	entry.Diseases[disease] = record

	s.doc.Metadata.LastUpdated = s.clock.Now()
	s.doc.Metadata.TotalCompounds = len(s.doc.Compounds)
}

// GetPercentile maps a raw efficacy score to its population-relative
// fraction by linear interpolation between the stored percentile
// anchors. The second return is false when no usable calibration exists
// for the pair or the raw score is not a number.
func (s *CompoundService) GetPercentile(compound, disease string, rawScore float64) (float64, bool) {
	if math.IsNaN(rawScore) {
		return 0, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.doc.Compounds[NormalizeCompoundKey(compound)]
	if !ok {
		return 0, false
	}
	record, ok := entry.Diseases[disease]
	if !ok || record.SampleSize < domain.MinCompoundSampleSize {
		return 0, false
	}

	anchors := sortedAnchors(record.Percentiles)
	if len(anchors) < 2 {
		return 0, false
	}

	// Clamp at the boundary fractions rather than extrapolating beyond
	// the observed range.
	if rawScore <= anchors[0].score {
		return anchors[0].fraction, true
	}
	last := anchors[len(anchors)-1]
	if rawScore >= last.score {
		return last.fraction, true
	}

	for i := 1; i < len(anchors); i++ {
		lo, hi := anchors[i-1], anchors[i]
		if rawScore > hi.score {
			continue
		}
		if hi.score == lo.score {
			return lo.fraction, true
		}
		frac := lo.fraction + (rawScore-lo.score)/(hi.score-lo.score)*(hi.fraction-lo.fraction)
		return frac, true
	}
	return last.fraction, true
}

// SaveCalibration persists the consolidated document wholesale.
func (s *CompoundService) SaveCalibration() error {
	s.mu.RLock()
	doc := *s.doc
	s.mu.RUnlock()

	if err := s.store.Save(s.storeKey, &doc); err != nil {
		return fmt.Errorf("failed to save compound calibration store: %w", err)
	}
	return nil
}

// LoadCalibration replaces the in-memory snapshot with the persisted
// document. A missing document leaves an empty store, which is a valid
// cold-start state.
func (s *CompoundService) LoadCalibration() error {
	doc := emptyStore()
	found, _, err := s.store.Load(s.storeKey, doc)
	if err != nil {
		return fmt.Errorf("failed to load compound calibration store: %w", err)
	}
	if !found {
		s.logger.Info("No compound calibration store found, starting empty")
		return nil
	}
	if doc.Compounds == nil {
		doc.Compounds = make(map[string]*domain.CompoundEntry)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"compounds":    doc.Metadata.TotalCompounds,
		"last_updated": doc.Metadata.LastUpdated,
	}).Info("Compound calibration store loaded")
	return nil
}

// NormalizeCompoundKey lowercases a compound name and folds spaces and
// hyphens to underscores.
func NormalizeCompoundKey(compound string) string {
	key := strings.ToLower(strings.TrimSpace(compound))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}

type anchor struct {
	fraction float64
	score    float64
}

// sortedAnchors converts percentile labels to numeric fractions and
// orders the (fraction, score) pairs by score ascending.
func sortedAnchors(percentiles map[string]float64) []anchor {
	anchors := make([]anchor, 0, len(percentiles))
	for label, score := range percentiles {
		p, err := strconv.Atoi(strings.TrimPrefix(label, "p"))
		if err != nil {
			continue
		}
		anchors = append(anchors, anchor{fraction: float64(p) / 100, score: score})
	}
	sort.Slice(anchors, func(i, j int) bool {
		if anchors[i].score == anchors[j].score {
			return anchors[i].fraction < anchors[j].fraction
		}
		return anchors[i].score < anchors[j].score
	})
	return anchors
}

func emptyStore() *domain.CompoundCalibrationStore {
	return &domain.CompoundCalibrationStore{
		Version:   storeVersion,
		Compounds: make(map[string]*domain.CompoundEntry),
	}
}
