// Package setup assembles the application: storage backend, external
// clients, calibration services and scorers, wired from configuration.
package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/variant-calibration-server/internal/calibration"
	"github.com/variant-calibration-server/internal/domain"
	"github.com/variant-calibration-server/internal/logging"
	"github.com/variant-calibration-server/internal/service"
	"github.com/variant-calibration-server/internal/storage"
	"github.com/variant-calibration-server/pkg/external"
)

// App holds the wired components of the running service.
type App struct {
	Logger *logrus.Logger

	ConfidenceScorer *service.ConfidenceScorer
	Aggregator       *service.PathwayAggregator
	GeneCache        *calibration.GeneCache
	Compound         *calibration.CompoundService

	EvidenceClassifier domain.EvidenceClassifier

	closers []func() error
}

// Build wires the application from configuration.
func Build(cfg *domain.Config) (*App, error) {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	app := &App{Logger: logger}

	store, err := buildStore(cfg.Calibration, app)
	if err != nil {
		return nil, err
	}

	sequenceScorer := external.NewSequenceModelClient(cfg.ExternalAPI.SequenceModel, logger)
	fetcher := external.NewCatalogReferenceFetcher(cfg.ExternalAPI.ReferenceVariants, logger)

	evidenceCache, err := external.NewEvidenceCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to build evidence cache: %w", err)
	}
	app.closers = append(app.closers, evidenceCache.Close)

	app.ConfidenceScorer = service.NewConfidenceScorer(cfg.Scoring)
	app.Aggregator = service.NewPathwayAggregator(logger, cfg.Pathway)
	app.GeneCache = calibration.NewGeneCache(logger, cfg.Calibration, store, fetcher, sequenceScorer, nil)
	app.EvidenceClassifier = external.NewEvidenceClient(cfg.ExternalAPI.Evidence, evidenceCache, logger)

	app.Compound = calibration.NewCompoundService(logger, store, cfg.Compound.StoreKey, nil)
	if err := app.Compound.LoadCalibration(); err != nil {
		// A broken store document is a cold start, not a fatal error.
		logger.WithError(err).Warn("Failed to load compound calibration store, starting empty")
	}

	return app, nil
}

// Close releases held resources.
func (a *App) Close() error {
	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildStore(cfg domain.CalibrationConfig, app *App) (domain.DocumentStore, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		app.closers = append(app.closers, store.Close)
		return store, nil
	case "file", "":
		store, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown calibration backend %q", cfg.Backend)
	}
}
