package domain

import (
	"fmt"
	"strings"
)

// WindowDelta is the model's delta score for one flanking window.
type WindowDelta struct {
	WindowSize int     `json:"window_size"`
	Delta      float64 `json:"delta"`
}

// VariantDeltaSample is the raw multi-window output of the sequence model
// for a single variant. It is constructed once by the model-scoring
// collaborator and consumed immutably by the confidence scorer.
type VariantDeltaSample struct {
	Gene         string        `json:"gene"`
	Chromosome   string        `json:"chromosome"`
	Position     int64         `json:"position"`
	Ref          string        `json:"ref"`
	Alt          string        `json:"alt"`
	WindowDeltas []WindowDelta `json:"window_deltas"`

	// MinDelta is the most extreme delta observed across windows and
	// WindowUsed is the window size that produced it.
	MinDelta   float64 `json:"min_delta"`
	WindowUsed int     `json:"window_used"`

	// ExonDelta is the delta over a tight exon-restricted flank. It is
	// absent when the model could not score an exon window.
	ExonDelta  *float64 `json:"exon_delta,omitempty"`
	ExonWindow *int     `json:"exon_window,omitempty"`
}

// Key returns the deduplication key for the variant: one unique
// (gene, chromosome, position, ref>alt) tuple per counted variant.
func (s *VariantDeltaSample) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s>%s",
		strings.ToUpper(s.Gene), s.Chromosome, s.Position, s.Ref, s.Alt)
}

// HasExonDelta reports whether an exon-flank delta is present.
func (s *VariantDeltaSample) HasExonDelta() bool {
	return s.ExonDelta != nil
}

// ExonDeltaOrZero returns the exon delta, treating absence as zero.
// Only the neutral-zone gate uses this reading of absence.
func (s *VariantDeltaSample) ExonDeltaOrZero() float64 {
	if s.ExonDelta == nil {
		return 0
	}
	return *s.ExonDelta
}

// ReferenceVariant is one known variant returned by the reference-variant
// fetcher, used to build a gene's empirical delta distribution.
type ReferenceVariant struct {
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Ref        string `json:"ref"`
	Alt        string `json:"alt"`
}
