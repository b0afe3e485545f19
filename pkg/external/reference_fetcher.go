package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/variant-calibration-server/internal/domain"
)

// CatalogReferenceFetcher retrieves the known variants of a gene from
// an NCBI-style variant catalog. The catalog enforces per-key request
// quotas, so calls are rate limited client-side; an empty result is a
// valid "insufficient data" outcome.
type CatalogReferenceFetcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// NewCatalogReferenceFetcher creates a rate-limited catalog client.
func NewCatalogReferenceFetcher(cfg domain.ReferenceVariantsConfig, logger *logrus.Logger) *CatalogReferenceFetcher {
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 10
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ReferenceVariants",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &CatalogReferenceFetcher{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		breaker: breaker,
		logger:  logger,
	}
}

type catalogVariant struct {
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Ref        string `json:"ref"`
	Alt        string `json:"alt"`
}

type catalogResponse struct {
	Gene     string           `json:"gene"`
	Variants []catalogVariant `json:"variants"`
}

// FetchVariants returns the catalog's known variants for a gene.
func (f *CatalogReferenceFetcher) FetchVariants(ctx context.Context, gene string) ([]domain.ReferenceVariant, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx, gene)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("variant catalog unavailable (circuit breaker open)")
		}
		return nil, fmt.Errorf("variant catalog query failed: %w", err)
	}
	return result.([]domain.ReferenceVariant), nil
}

func (f *CatalogReferenceFetcher) fetch(ctx context.Context, gene string) ([]domain.ReferenceVariant, error) {
	params := url.Values{
		"gene":    {gene},
		"retmode": {"json"},
	}
	if f.apiKey != "" {
		params.Set("api_key", f.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%svariants?%s", f.baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown gene: a valid insufficient-data outcome.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog request returned %d", resp.StatusCode)
	}

	var parsed catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	variants := make([]domain.ReferenceVariant, 0, len(parsed.Variants))
	for _, v := range parsed.Variants {
		variants = append(variants, domain.ReferenceVariant{
			Chromosome: v.Chromosome,
			Position:   v.Position,
			Ref:        v.Ref,
			Alt:        v.Alt,
		})
	}

	f.logger.WithFields(logrus.Fields{
		"gene":     gene,
		"variants": len(variants),
	}).Debug("Reference variants fetched")

	return variants, nil
}
