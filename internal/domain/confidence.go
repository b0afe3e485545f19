package domain

// Interpretation is the clinical call derived from a scored variant.
type Interpretation string

const (
	InterpretationPathogenic Interpretation = "pathogenic"
	InterpretationBenign     Interpretation = "benign"
	InterpretationUnknown    Interpretation = "unknown"
)

// Gating records which confidence gates a variant passed.
type Gating struct {
	MagnitudeOK  bool `json:"magnitude_ok"`
	NeutralZone  bool `json:"neutral_zone"`
	ConfidenceOK bool `json:"confidence_ok"`
}

// ConfidenceBreakdown is the structured output of the confidence scorer.
// It is fully determined by the input sample; there is no hidden state.
type ConfidenceBreakdown struct {
	MagnitudeS1         float64 `json:"magnitude_s1"`
	ExonSupportS2       float64 `json:"exon_support_s2"`
	WindowConsistencyS3 float64 `json:"window_consistency_s3"`

	ShortWindowBoost float64 `json:"short_window_boost"`
	ConsistencyBoost float64 `json:"consistency_boost"`

	FinalConfidence float64        `json:"final_confidence"`
	Interpretation  Interpretation `json:"interpretation"`
	Gating          Gating         `json:"gating"`
}
