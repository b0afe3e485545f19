package domain

// Pathogenic evidence classifications accepted for prior blending.
const (
	ClassificationPathogenic       = "pathogenic"
	ClassificationLikelyPathogenic = "likely_pathogenic"
)

// Prediction labels produced by the pathway aggregator.
const (
	LabelLikelyResistant = "Likely Resistant"
	LabelLikelySensitive = "Likely Sensitive"
)

// ScoredVariant is one fully scored variant handed to the pathway
// aggregator: the raw sample, its confidence breakdown and gene
// calibration, plus optional annotations attached by upstream steps.
type ScoredVariant struct {
	Sample      VariantDeltaSample  `json:"sample"`
	Breakdown   ConfidenceBreakdown `json:"breakdown"`
	Calibration *CalibrationResult  `json:"calibration,omitempty"`

	// HGVSProtein is the protein-level change (e.g. "V600E") used for
	// hotspot matching when present.
	HGVSProtein string `json:"hgvs_protein,omitempty"`

	// ExternalClassification is a ClinVar-style pathogenicity label
	// attached by the evidence classifier collaborator.
	ExternalClassification string `json:"external_classification,omitempty"`

	// ReferenceMismatch is set by the model-scoring step when the
	// submitted reference base disagreed with the genome assembly.
	ReferenceMismatch bool `json:"reference_mismatch,omitempty"`
}

// AggregateOptions toggles the optional aggregation behaviors.
type AggregateOptions struct {
	UsePriors         bool `json:"use_priors"`
	HotspotRelaxation bool `json:"hotspot_relaxation"`
}

// PreflightIssues counts input rows excluded before scoring.
type PreflightIssues struct {
	Invalid     int `json:"invalid"`
	RefMismatch int `json:"ref_mismatch"`
	Duplicates  int `json:"duplicates"`
}

// PathwayAggregate is the composite output for one scoring request.
// Every variant is counted exactly once per unique variant key;
// duplicates are dropped, not merged.
type PathwayAggregate struct {
	RASPathwayScore      float64         `json:"ras_pathway_score"`
	TP53Score            float64         `json:"tp53_score"`
	PredictionLabel      string          `json:"prediction_label"`
	DeduplicatedVariants []ScoredVariant `json:"deduplicated_variants"`
	PreflightIssues      PreflightIssues `json:"preflight_issues"`
}
