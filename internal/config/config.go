package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/variant-calibration-server/internal/domain"
)

// Manager loads and validates application configuration using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/variant-calibration-server/")

	viper.SetEnvPrefix("VARCAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars apply otherwise.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Gene calibration cache defaults
	viper.SetDefault("calibration.backend", "file")
	viper.SetDefault("calibration.data_dir", "./data/calibration")
	viper.SetDefault("calibration.sqlite_path", "./data/calibration.db")
	viper.SetDefault("calibration.ttl", "24h")
	viper.SetDefault("calibration.refresh_interval", "6h")
	viper.SetDefault("calibration.max_reference_variants", 200)
	viper.SetDefault("calibration.preload_concurrency", 4)

	// Compound calibration defaults
	viper.SetDefault("compound.store_key", "compound_calibration")

	// Confidence scorer defaults. Magnitude reference and gates are
	// empirically tuned against held-out variant panels.
	viper.SetDefault("scoring.magnitude_reference", 0.5)
	viper.SetDefault("scoring.stdev_floor", 0.05)
	viper.SetDefault("scoring.magnitude_weight", 0.5)
	viper.SetDefault("scoring.exon_weight", 0.3)
	viper.SetDefault("scoring.consistency_weight", 0.2)
	viper.SetDefault("scoring.short_window_max", 1024)
	viper.SetDefault("scoring.short_window_boost", 0.10)
	viper.SetDefault("scoring.exon_agreement_ratio", 0.8)
	viper.SetDefault("scoring.consistency_gate", 0.7)
	viper.SetDefault("scoring.consistency_boost", 0.05)
	viper.SetDefault("scoring.magnitude_gate", 0.02)
	viper.SetDefault("scoring.neutral_zone", 0.005)
	viper.SetDefault("scoring.confidence_gate", 0.6)

	// Pathway aggregation defaults
	viper.SetDefault("pathway.effect_cap", 0.05)
	viper.SetDefault("pathway.ras_driver_weight", 1.3)
	viper.SetDefault("pathway.ras_other_weight", 0.6)
	viper.SetDefault("pathway.tp53_weight", 0.7)
	viper.SetDefault("pathway.tp53_other_weight", 0.3)
	viper.SetDefault("pathway.resistance_threshold", 2.0)
	viper.SetDefault("pathway.prior_boost", 0.30)
	viper.SetDefault("pathway.hotspot_boost", 0.10)

	// External collaborator defaults
	viper.SetDefault("external_api.sequence_model.base_url", "http://localhost:9200/")
	viper.SetDefault("external_api.sequence_model.assembly", "GRCh38")
	viper.SetDefault("external_api.sequence_model.timeout", "60s")

	viper.SetDefault("external_api.reference_variants.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/")
	viper.SetDefault("external_api.reference_variants.timeout", "30s")
	viper.SetDefault("external_api.reference_variants.rate_limit", 10)

	viper.SetDefault("external_api.evidence.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/")
	viper.SetDefault("external_api.evidence.timeout", "30s")
	viper.SetDefault("external_api.evidence.rate_limit", 10)

	// Evidence cache defaults. Redis URL left empty keeps the cache
	// memory-only.
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.default_ttl", "24h")
	viper.SetDefault("cache.memory_size", 1000)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")
	viper.SetDefault("cache.max_retries", 3)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetCalibrationConfig returns gene calibration cache configuration
func (m *Manager) GetCalibrationConfig() *domain.CalibrationConfig {
	return &m.config.Calibration
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Calibration.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid calibration backend: %s", config.Calibration.Backend)
	}
	if config.Calibration.TTL <= 0 {
		return fmt.Errorf("calibration TTL must be positive")
	}
	if config.Calibration.RefreshInterval <= 0 {
		return fmt.Errorf("calibration refresh interval must be positive")
	}

	if config.Scoring.MagnitudeReference <= 0 {
		return fmt.Errorf("scoring magnitude reference must be positive")
	}
	if config.Pathway.EffectCap <= 0 {
		return fmt.Errorf("pathway effect cap must be positive")
	}

	if config.ExternalAPI.SequenceModel.BaseURL == "" {
		return fmt.Errorf("sequence model base URL is required")
	}
	if config.ExternalAPI.ReferenceVariants.BaseURL == "" {
		return fmt.Errorf("reference variants base URL is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
