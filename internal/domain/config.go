package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Compound    CompoundConfig    `mapstructure:"compound"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Pathway     PathwayConfig     `mapstructure:"pathway"`
	ExternalAPI ExternalAPIConfig `mapstructure:"external_api"`
	Cache       CacheConfig       `mapstructure:"cache"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CalibrationConfig configures the gene calibration cache.
type CalibrationConfig struct {
	// Backend selects the document store: "file" or "sqlite".
	Backend         string        `mapstructure:"backend"`
	DataDir         string        `mapstructure:"data_dir"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// MaxReferenceVariants caps how many reference variants are scored
	// when building a gene's distribution.
	MaxReferenceVariants int `mapstructure:"max_reference_variants"`
	PreloadConcurrency   int `mapstructure:"preload_concurrency"`
}

// CompoundConfig configures the compound calibration service.
type CompoundConfig struct {
	// StoreKey is the document key of the consolidated calibration store.
	StoreKey string `mapstructure:"store_key"`
}

// ScoringConfig holds the tunable constants of the confidence scorer.
// These encode domain calibration choices and are expected to be retuned.
type ScoringConfig struct {
	// MagnitudeReference is the delta magnitude treated as a full-sized
	// effect when normalizing s1.
	MagnitudeReference float64 `mapstructure:"magnitude_reference"`
	// StdevFloor bounds the consistency denominator for tiny deltas.
	StdevFloor float64 `mapstructure:"stdev_floor"`

	MagnitudeWeight   float64 `mapstructure:"magnitude_weight"`
	ExonWeight        float64 `mapstructure:"exon_weight"`
	ConsistencyWeight float64 `mapstructure:"consistency_weight"`

	// ShortWindowMax is the largest window size still counted as "short"
	// for the short-window boost.
	ShortWindowMax     int     `mapstructure:"short_window_max"`
	ShortWindowBoost   float64 `mapstructure:"short_window_boost"`
	ExonAgreementRatio float64 `mapstructure:"exon_agreement_ratio"`
	ConsistencyGate    float64 `mapstructure:"consistency_gate"`
	ConsistencyBoost   float64 `mapstructure:"consistency_boost"`

	MagnitudeGate  float64 `mapstructure:"magnitude_gate"`
	NeutralZone    float64 `mapstructure:"neutral_zone"`
	ConfidenceGate float64 `mapstructure:"confidence_gate"`
}

// PathwayConfig holds the tunable constants of the pathway aggregator.
type PathwayConfig struct {
	// EffectCap saturates the per-variant effect-size weight.
	EffectCap float64 `mapstructure:"effect_cap"`

	RASDriverWeight float64 `mapstructure:"ras_driver_weight"`
	RASOtherWeight  float64 `mapstructure:"ras_other_weight"`
	TP53Weight      float64 `mapstructure:"tp53_weight"`
	TP53OtherWeight float64 `mapstructure:"tp53_other_weight"`

	// ResistanceThreshold is the RAS pathway score at or above which the
	// request is labeled resistant.
	ResistanceThreshold float64 `mapstructure:"resistance_threshold"`

	// PriorBoost is added flat to a variant's weight when an external
	// pathogenic classification is attached and priors are enabled.
	PriorBoost float64 `mapstructure:"prior_boost"`
	// HotspotBoost is added to confidence for known hotspot variants
	// whose exon and window deltas agree in sign.
	HotspotBoost float64 `mapstructure:"hotspot_boost"`
}

// ExternalAPIConfig represents external collaborator configuration
type ExternalAPIConfig struct {
	SequenceModel     SequenceModelConfig     `mapstructure:"sequence_model"`
	ReferenceVariants ReferenceVariantsConfig `mapstructure:"reference_variants"`
	Evidence          EvidenceConfig          `mapstructure:"evidence"`
}

// SequenceModelConfig represents the sequence-model scorer API configuration
type SequenceModelConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Assembly string        `mapstructure:"assembly"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ReferenceVariantsConfig represents the reference-variant catalog
// API configuration
type ReferenceVariantsConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// EvidenceConfig represents the ClinVar-style evidence classifier
// API configuration
type EvidenceConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// CacheConfig represents the evidence result cache configuration.
// RedisURL is optional; when empty only the in-memory tier is used.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MemorySize  int           `mapstructure:"memory_size"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}
