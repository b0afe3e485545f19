package domain

import (
	"context"
	"time"
)

// SequenceScorer scores one variant against the sequence model and
// returns its per-window deltas. Failures surface as "no score
// available" for that variant; the caller degrades, never aborts.
type SequenceScorer interface {
	ScoreVariant(ctx context.Context, chromosome string, position int64, ref, alt string) (*VariantDeltaSample, error)
}

// ReferenceVariantFetcher returns the known variants of a gene used to
// build its empirical delta distribution. An empty list is a valid
// "insufficient data" outcome, not an error.
type ReferenceVariantFetcher interface {
	FetchVariants(ctx context.Context, gene string) ([]ReferenceVariant, error)
}

// EvidenceClassifier attaches a ClinVar-style pathogenicity
// classification to a variant. An empty string means no classification
// is available.
type EvidenceClassifier interface {
	Classify(ctx context.Context, gene, hgvsProtein string) (string, error)
}

// DocumentStore is the key-value persistence boundary shared by the
// gene and compound calibration stores. Load reports whether the
// document exists and when it was last written, so callers can honor
// TTLs across process restarts.
type DocumentStore interface {
	Load(key string, out interface{}) (found bool, modifiedAt time.Time, err error)
	Save(key string, doc interface{}) error
}

// Clock abstracts time for TTL and refresh logic so tests can drive it
// deterministically.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }
