package service

import (
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/variant-calibration-server/internal/domain"
)

// PathwayAggregator combines per-variant confidence results into
// composite pathway scores and a binary prediction label. It performs
// no external calls; malformed rows are skipped and counted, never
// abort the batch.
type PathwayAggregator struct {
	logger *logrus.Logger
	cfg    domain.PathwayConfig
}

// NewPathwayAggregator creates an aggregator with the given weights.
func NewPathwayAggregator(logger *logrus.Logger, cfg domain.PathwayConfig) *PathwayAggregator {
	return &PathwayAggregator{logger: logger, cfg: cfg}
}

// Aggregate deduplicates, weights and sums the scored variants.
// Output order is stable with respect to input order; duplicates after
// the first occurrence are dropped, not merged.
func (a *PathwayAggregator) Aggregate(variants []domain.ScoredVariant, opts domain.AggregateOptions) domain.PathwayAggregate {
	agg := domain.PathwayAggregate{
		DeduplicatedVariants: make([]domain.ScoredVariant, 0, len(variants)),
	}

	seen := make(map[string]struct{}, len(variants))
	var rasScore, tp53Score float64

	for _, v := range variants {
		if !validRow(&v) {
			agg.PreflightIssues.Invalid++
			continue
		}
		if v.ReferenceMismatch {
			agg.PreflightIssues.RefMismatch++
			continue
		}

		key := v.Sample.Key()
		if _, dup := seen[key]; dup {
			agg.PreflightIssues.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		agg.DeduplicatedVariants = append(agg.DeduplicatedVariants, v)

		weight := a.variantWeight(&v, opts)

		if isRASDriver(v.Sample.Gene) {
			rasScore += weight * a.cfg.RASDriverWeight
		} else {
			rasScore += weight * a.cfg.RASOtherWeight
		}
		if strings.EqualFold(v.Sample.Gene, "TP53") {
			tp53Score += weight * a.cfg.TP53Weight
		} else {
			tp53Score += weight * a.cfg.TP53OtherWeight
		}
	}

	agg.RASPathwayScore = round2(rasScore)
	agg.TP53Score = round2(tp53Score)
	if agg.RASPathwayScore >= a.cfg.ResistanceThreshold {
		agg.PredictionLabel = domain.LabelLikelyResistant
	} else {
		agg.PredictionLabel = domain.LabelLikelySensitive
	}

	a.logger.WithFields(logrus.Fields{
		"variants_in":  len(variants),
		"variants_out": len(agg.DeduplicatedVariants),
		"invalid":      agg.PreflightIssues.Invalid,
		"ref_mismatch": agg.PreflightIssues.RefMismatch,
		"duplicates":   agg.PreflightIssues.Duplicates,
		"ras_score":    agg.RASPathwayScore,
		"tp53_score":   agg.TP53Score,
		"label":        agg.PredictionLabel,
	}).Info("Pathway aggregation completed")

	return agg
}

// variantWeight computes one variant's contribution before pathway
// weighting: confidence (hotspot-relaxed when enabled) times a capped
// effect size, plus an optional additive external-evidence prior.
func (a *PathwayAggregator) variantWeight(v *domain.ScoredVariant, opts domain.AggregateOptions) float64 {
	confidence := v.Breakdown.FinalConfidence
	if opts.HotspotRelaxation && isHotspot(v.Sample.Gene, v.HGVSProtein) && deltasAgree(&v.Sample) {
		confidence = math.Min(1.0, confidence+a.cfg.HotspotBoost)
	}

	effect := math.Max(math.Abs(v.Sample.MinDelta), math.Abs(v.Sample.ExonDeltaOrZero()))
	eff := math.Min(effect, a.cfg.EffectCap) / a.cfg.EffectCap

	weight := confidence * eff
	if opts.UsePriors && pathogenicPrior(v.ExternalClassification) {
		// Priors blend additively, not multiplicatively.
		weight += a.cfg.PriorBoost
	}
	return weight
}

// deltasAgree reports whether the exon and window deltas point the same
// way. Hotspot relaxation requires agreement; a missing exon delta
// cannot corroborate.
func deltasAgree(s *domain.VariantDeltaSample) bool {
	return s.HasExonDelta() && sameSign(*s.ExonDelta, s.MinDelta)
}

func pathogenicPrior(classification string) bool {
	c := strings.ToLower(strings.TrimSpace(classification))
	return c == domain.ClassificationPathogenic || c == domain.ClassificationLikelyPathogenic
}

// validRow rejects rows missing the fields every downstream step needs.
func validRow(v *domain.ScoredVariant) bool {
	return v.Sample.Gene != "" &&
		v.Sample.Chromosome != "" &&
		len(v.Sample.WindowDeltas) > 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
