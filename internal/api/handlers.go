package api

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/variant-calibration-server/internal/domain"
)

// handleScoreVariant scores one already-sampled variant. Malformed
// samples are rejected here so the scorer itself stays total.
func (s *Server) handleScoreVariant(c *gin.Context) {
	var sample domain.VariantDeltaSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		s.badRequest(c, "invalid variant sample", err.Error())
		return
	}
	if len(sample.WindowDeltas) == 0 {
		s.badRequest(c, "window_deltas must be non-empty", "")
		return
	}

	breakdown := s.app.ConfidenceScorer.Score(&sample)
	c.JSON(http.StatusOK, breakdown)
}

type calibrateGeneRequest struct {
	Gene       string  `json:"gene" binding:"required"`
	DeltaScore float64 `json:"delta_score"`
}

// handleCalibrateGene returns the population-relative calibration of a
// delta score against the gene's history. Thin data degrades to the
// fallback source; this endpoint never fails for lack of calibration.
func (s *Server) handleCalibrateGene(c *gin.Context) {
	var req calibrateGeneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid calibration request", err.Error())
		return
	}
	if math.IsNaN(req.DeltaScore) || math.IsInf(req.DeltaScore, 0) {
		s.badRequest(c, "delta_score must be a finite number", "")
		return
	}

	result := s.app.GeneCache.Calibrate(c.Request.Context(), req.Gene, req.DeltaScore)
	c.JSON(http.StatusOK, result)
}

type preloadRequest struct {
	Genes []string `json:"genes" binding:"required"`
}

// handlePreloadGenes warms calibration for a batch of genes.
func (s *Server) handlePreloadGenes(c *gin.Context) {
	var req preloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid preload request", err.Error())
		return
	}

	warmed := s.app.GeneCache.Preload(c.Request.Context(), req.Genes)
	c.JSON(http.StatusOK, gin.H{
		"requested": len(req.Genes),
		"warmed":    warmed,
	})
}

// handleGeneStats exposes a gene's cached calibration record summary.
func (s *Server) handleGeneStats(c *gin.Context) {
	gene := c.Param("gene")
	record, ok := s.app.GeneCache.Record(gene)
	if !ok {
		c.JSON(http.StatusNotFound, domain.NewAPIError(
			domain.ErrNotFound, "no calibration record cached for gene", gene, requestID(c)))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gene":         record.Gene,
		"sample_size":  record.SampleSize,
		"mean":         record.Mean,
		"std_dev":      record.StdDev,
		"computed_at":  record.ComputedAt,
		"insufficient": record.Insufficient(),
	})
}

// handleCompoundPercentile maps a raw efficacy score to its
// population-relative fraction for a compound and disease.
func (s *Server) handleCompoundPercentile(c *gin.Context) {
	compound := c.Query("compound")
	disease := c.Query("disease")
	rawScore, err := strconv.ParseFloat(c.Query("raw_score"), 64)
	if compound == "" || disease == "" || err != nil ||
		math.IsNaN(rawScore) || math.IsInf(rawScore, 0) {
		s.badRequest(c, "compound, disease and a finite raw_score are required", "")
		return
	}

	percentile, ok := s.app.Compound.GetPercentile(compound, disease, rawScore)
	if !ok {
		c.JSON(http.StatusNotFound, domain.NewAPIError(
			domain.ErrNotFound, domain.ErrCalibrationNotFound.Error(), compound, requestID(c)))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"compound":   compound,
		"disease":    disease,
		"raw_score":  rawScore,
		"percentile": percentile,
	})
}

type buildCalibrationRequest struct {
	Compound      string            `json:"compound" binding:"required"`
	CanonicalName string            `json:"canonical_name"`
	Disease       string            `json:"disease" binding:"required"`
	Runs          []domain.RunScore `json:"runs" binding:"required"`
}

// handleBuildCompoundCalibration is the offline batch-builder entry
// point: it builds a record from historical runs, attaches it and
// persists the consolidated store. Not part of the request-serving hot
// path.
func (s *Server) handleBuildCompoundCalibration(c *gin.Context) {
	var req buildCalibrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid calibration build request", err.Error())
		return
	}

	record, err := s.app.Compound.BuildCalibrationFromRuns(req.Compound, req.Disease, req.Runs)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, domain.NewAPIError(
			domain.ErrInvalidInput, "calibration build rejected", err.Error(), requestID(c)))
		return
	}

	s.app.Compound.AddCalibration(req.Compound, req.CanonicalName, req.Disease, record)
	if err := s.app.Compound.SaveCalibration(); err != nil {
		s.app.Logger.WithError(err).Error("Failed to persist compound calibration store")
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrPersistence, "calibration built but not persisted", err.Error(), requestID(c)))
		return
	}

	c.JSON(http.StatusOK, record)
}

type aggregateRequest struct {
	Variants []domain.ScoredVariant  `json:"variants" binding:"required"`
	Options  domain.AggregateOptions `json:"options"`
}

// handleAggregatePathways combines scored variants into composite
// pathway scores and a prediction label. With priors enabled, missing
// external classifications are fetched before aggregating.
func (s *Server) handleAggregatePathways(c *gin.Context) {
	var req aggregateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid aggregation request", err.Error())
		return
	}

	if req.Options.UsePriors {
		s.attachEvidence(c.Request.Context(), req.Variants)
	}

	aggregate := s.app.Aggregator.Aggregate(req.Variants, req.Options)
	c.JSON(http.StatusOK, aggregate)
}

// attachEvidence fills in the external classification for variants that
// carry a protein change but arrived without one. A failed lookup
// leaves the classification empty; the variant still aggregates, just
// without the prior.
func (s *Server) attachEvidence(ctx context.Context, variants []domain.ScoredVariant) {
	if s.app.EvidenceClassifier == nil {
		return
	}
	for i := range variants {
		v := &variants[i]
		if v.HGVSProtein == "" || v.ExternalClassification != "" {
			continue
		}
		classification, err := s.app.EvidenceClassifier.Classify(ctx, v.Sample.Gene, v.HGVSProtein)
		if err != nil {
			s.app.Logger.WithError(err).WithFields(logrus.Fields{
				"gene":    v.Sample.Gene,
				"protein": v.HGVSProtein,
			}).Warn("Evidence classification unavailable, aggregating without prior")
			continue
		}
		v.ExternalClassification = classification
	}
}

func (s *Server) badRequest(c *gin.Context, message, details string) {
	c.JSON(http.StatusBadRequest, domain.NewAPIError(
		domain.ErrInvalidInput, message, details, requestID(c)))
}
