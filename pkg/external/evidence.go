package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/variant-calibration-server/internal/domain"
)

// EvidenceClient queries a ClinVar-style service for the pathogenicity
// classification of a variant. Results are cached through the two-tier
// EvidenceCache; a missing classification is reported as an empty
// string, not an error.
type EvidenceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *EvidenceCache
	logger     *logrus.Logger
}

// NewEvidenceClient creates an evidence classifier client.
func NewEvidenceClient(cfg domain.EvidenceConfig, cache *EvidenceCache, logger *logrus.Logger) *EvidenceClient {
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 10
	}
	return &EvidenceClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		cache:   cache,
		logger:  logger,
	}
}

type classificationResponse struct {
	Gene                 string `json:"gene"`
	ClinicalSignificance string `json:"clinical_significance"`
	ReviewStatus         string `json:"review_status"`
}

// Classify returns the external pathogenicity classification for a
// variant, normalized to lowercase underscore form (e.g.
// "likely_pathogenic").
func (c *EvidenceClient) Classify(ctx context.Context, gene, hgvsProtein string) (string, error) {
	if c.cache != nil {
		if classification, ok := c.cache.Get(ctx, gene, hgvsProtein); ok {
			return classification, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	params := url.Values{
		"gene":    {gene},
		"protein": {hgvsProtein},
		"retmode": {"json"},
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%sclassification?%s", c.baseURL, params.Encode()), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build classification request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("classification request returned %d", resp.StatusCode)
	}

	var parsed classificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode classification response: %w", err)
	}

	classification := normalizeClassification(parsed.ClinicalSignificance)
	if c.cache != nil {
		c.cache.Set(ctx, gene, hgvsProtein, classification)
	}

	c.logger.WithFields(logrus.Fields{
		"gene":           gene,
		"protein":        hgvsProtein,
		"classification": classification,
	}).Debug("Evidence classification fetched")

	return classification, nil
}

// normalizeClassification folds ClinVar display forms ("Likely
// pathogenic") into the underscore form the aggregator matches on.
func normalizeClassification(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
