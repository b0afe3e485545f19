package domain

import "time"

// MinGeneSampleSize is the smallest empirical distribution considered
// usable for gene-specific calibration. Records below it serve the
// fallback path.
const MinGeneSampleSize = 5

// MinCompoundSampleSize is the smallest run batch accepted when building
// a compound calibration record.
const MinCompoundSampleSize = 10

// Calibration result sources.
const (
	CalibrationSourceGeneSpecific = "gene_specific"
	CalibrationSourceFallback     = "fallback"
)

// GeneCalibrationRecord is the cached empirical distribution of historical
// delta scores for one gene. SampleSize always equals len(Distribution);
// a record with SampleSize < MinGeneSampleSize is "insufficient" and
// callers must use the fallback path.
type GeneCalibrationRecord struct {
	Gene         string    `json:"gene"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"std"`
	Distribution []float64 `json:"distribution"`
	SampleSize   int       `json:"sample_size"`
	ComputedAt   time.Time `json:"computed_at"`
}

// Insufficient reports whether the record carries too few samples for
// gene-specific calibration.
func (r *GeneCalibrationRecord) Insufficient() bool {
	return r.SampleSize < MinGeneSampleSize
}

// CalibrationResult is the population-relative reading of one delta score
// against a gene's history.
type CalibrationResult struct {
	Gene          string  `json:"gene"`
	Percentile    float64 `json:"percentile"`
	ZScore        float64 `json:"z_score"`
	Confidence    float64 `json:"confidence"`
	SampleSize    int     `json:"sample_size"`
	Source        string  `json:"source"`
	CacheAgeHours float64 `json:"cache_age_hours"`
}

// CompoundCalibrationRecord holds the percentile anchors and summary
// statistics for one (compound, disease) pair. Percentile anchors are
// monotonically non-decreasing in score from p10 to p90.
type CompoundCalibrationRecord struct {
	Percentiles map[string]float64 `json:"percentiles"`
	SampleSize  int                `json:"sample_size"`
	MeanScore   float64            `json:"mean_score"`
	StdDev      float64            `json:"std_dev"`
	MinScore    float64            `json:"min_score"`
	MaxScore    float64            `json:"max_score"`
	Source      string             `json:"source"`
	Date        time.Time          `json:"date"`
}

// CompoundEntry groups the per-disease calibration records of one compound.
type CompoundEntry struct {
	CanonicalName string                                `json:"canonical_name"`
	Diseases      map[string]*CompoundCalibrationRecord `json:"diseases"`
}

// CompoundStoreMetadata describes the consolidated compound document.
type CompoundStoreMetadata struct {
	LastUpdated    time.Time `json:"last_updated"`
	TotalCompounds int       `json:"total_compounds"`
}

// CompoundCalibrationStore is the consolidated document holding every
// compound's calibration, persisted wholesale as a single JSON document.
type CompoundCalibrationStore struct {
	Version   string                    `json:"version"`
	Metadata  CompoundStoreMetadata     `json:"metadata"`
	Compounds map[string]*CompoundEntry `json:"compounds"`
}

// RunScore is one historical efficacy run consumed by the offline
// compound calibration builder.
type RunScore struct {
	RunID string  `json:"run_id,omitempty"`
	Score float64 `json:"score"`
}
