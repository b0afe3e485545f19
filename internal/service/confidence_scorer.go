package service

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/variant-calibration-server/internal/domain"
)

// Exon corroboration credit levels. Absence of an exon delta is partial
// credit, not evidence against.
const (
	exonFullSupport    = 1.0
	exonPartialSupport = 0.5
	exonNoSupport      = 0.0
	exonAbsentCredit   = 0.3
)

// neutralConsistency is the s3 value when fewer than two windows were scored.
const neutralConsistency = 0.5

// ConfidenceScorer turns a multi-window delta sample into a bounded
// confidence value, an interpretation label and a structured breakdown.
// It is a pure function over its input: no I/O, no shared state.
type ConfidenceScorer struct {
	cfg domain.ScoringConfig
}

// NewConfidenceScorer creates a scorer with the given tuning constants.
func NewConfidenceScorer(cfg domain.ScoringConfig) *ConfidenceScorer {
	return &ConfidenceScorer{cfg: cfg}
}

// Score computes the confidence breakdown for one variant sample.
// Every well-formed input produces a defined output; degraded inputs
// (single window, absent exon delta) fall back to neutral credit.
func (s *ConfidenceScorer) Score(sample *domain.VariantDeltaSample) domain.ConfidenceBreakdown {
	absMin := math.Abs(sample.MinDelta)

	// s1: magnitude normalized against the large-effect reference.
	s1 := clamp01(absMin / s.cfg.MagnitudeReference)

	// s2: exon corroboration.
	s2 := s.exonSupport(sample, absMin)

	// s3: window consistency.
	s3 := s.windowConsistency(sample, absMin)

	confidence := s.cfg.MagnitudeWeight*s1 + s.cfg.ExonWeight*s2 + s.cfg.ConsistencyWeight*s3

	// Adaptive boosts.
	var shortWindowBoost, consistencyBoost float64
	if sample.WindowUsed <= s.cfg.ShortWindowMax &&
		sample.HasExonDelta() &&
		sameSign(*sample.ExonDelta, sample.MinDelta) &&
		math.Abs(*sample.ExonDelta) >= s.cfg.ExonAgreementRatio*absMin {
		shortWindowBoost = s.cfg.ShortWindowBoost
	}
	if s3 >= s.cfg.ConsistencyGate {
		consistencyBoost = s.cfg.ConsistencyBoost
	}
	confidence = clamp01(confidence + shortWindowBoost + consistencyBoost)

	gating := s.gate(sample, absMin, confidence)

	return domain.ConfidenceBreakdown{
		MagnitudeS1:         s1,
		ExonSupportS2:       s2,
		WindowConsistencyS3: s3,
		ShortWindowBoost:    shortWindowBoost,
		ConsistencyBoost:    consistencyBoost,
		FinalConfidence:     confidence,
		Interpretation:      s.interpret(sample, gating, confidence),
		Gating:              gating,
	}
}

// exonSupport scores how strongly the exon-flank delta corroborates the
// multi-window minimum.
func (s *ConfidenceScorer) exonSupport(sample *domain.VariantDeltaSample, absMin float64) float64 {
	if !sample.HasExonDelta() {
		return exonAbsentCredit
	}
	exon := *sample.ExonDelta
	if !sameSign(exon, sample.MinDelta) {
		return exonNoSupport
	}
	if math.Abs(exon) >= absMin {
		return exonFullSupport
	}
	return exonPartialSupport
}

// windowConsistency measures how tightly the per-window deltas agree.
// The spread is compared against the effect size, floored so that tiny
// deltas do not divide by near-zero.
func (s *ConfidenceScorer) windowConsistency(sample *domain.VariantDeltaSample, absMin float64) float64 {
	if len(sample.WindowDeltas) < 2 {
		return neutralConsistency
	}

	deltas := make([]float64, len(sample.WindowDeltas))
	for i, wd := range sample.WindowDeltas {
		deltas[i] = wd.Delta
	}
	stdev, err := stats.StandardDeviationSample(deltas)
	if err != nil {
		return neutralConsistency
	}

	denom := math.Max(s.cfg.StdevFloor, absMin)
	return clamp01(1 - stdev/denom)
}

func (s *ConfidenceScorer) gate(sample *domain.VariantDeltaSample, absMin, confidence float64) domain.Gating {
	absExon := math.Abs(sample.ExonDeltaOrZero())
	return domain.Gating{
		MagnitudeOK:  absMin >= s.cfg.MagnitudeGate || (sample.HasExonDelta() && absExon >= s.cfg.MagnitudeGate),
		NeutralZone:  absMin < s.cfg.NeutralZone && absExon < s.cfg.NeutralZone,
		ConfidenceOK: confidence >= s.cfg.ConfidenceGate,
	}
}

func (s *ConfidenceScorer) interpret(sample *domain.VariantDeltaSample, gating domain.Gating, confidence float64) domain.Interpretation {
	if confidence < s.cfg.ConfidenceGate {
		return domain.InterpretationUnknown
	}

	disruptive := sample.MinDelta < 0 || (sample.HasExonDelta() && *sample.ExonDelta < 0)
	if gating.MagnitudeOK && disruptive {
		return domain.InterpretationPathogenic
	}
	if gating.NeutralZone {
		return domain.InterpretationBenign
	}
	return domain.InterpretationUnknown
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// sameSign reports whether two deltas point the same way. Two exact
// zeros count as agreeing.
func sameSign(a, b float64) bool {
	if a == 0 && b == 0 {
		return true
	}
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
