package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/variant-calibration-server/internal/domain"
)

// SequenceModelClient calls the external genomic sequence model that
// scores a variant across multiple flanking windows. The model is a
// black box; any failure surfaces as "no score available" for that
// variant and the caller degrades.
type SequenceModelClient struct {
	baseURL    string
	apiKey     string
	assembly   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// NewSequenceModelClient creates a sequence model client wrapped in a
// circuit breaker.
func NewSequenceModelClient(cfg domain.SequenceModelConfig, logger *logrus.Logger) *SequenceModelClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "SequenceModel",
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

	return &SequenceModelClient{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		assembly: cfg.Assembly,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: breaker,
		logger:  logger,
	}
}

type scoreRequest struct {
	Assembly   string `json:"assembly"`
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Ref        string `json:"ref"`
	Alt        string `json:"alt"`
}

type scoreResponse struct {
	Gene         string               `json:"gene"`
	WindowDeltas []domain.WindowDelta `json:"window_deltas"`
	MinDelta     float64              `json:"min_delta"`
	WindowUsed   int                  `json:"window_used"`
	ExonDelta    *float64             `json:"exon_delta,omitempty"`
	ExonWindow   *int                 `json:"exon_window,omitempty"`
}

// ScoreVariant scores one variant and returns its per-window deltas.
func (c *SequenceModelClient) ScoreVariant(ctx context.Context, chromosome string, position int64, ref, alt string) (*domain.VariantDeltaSample, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.score(ctx, chromosome, position, ref, alt)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("sequence model unavailable (circuit breaker open)")
		}
		return nil, fmt.Errorf("sequence model scoring failed: %w", err)
	}
	return result.(*domain.VariantDeltaSample), nil
}

func (c *SequenceModelClient) score(ctx context.Context, chromosome string, position int64, ref, alt string) (*domain.VariantDeltaSample, error) {
	body, err := json.Marshal(scoreRequest{
		Assembly:   c.assembly,
		Chromosome: chromosome,
		Position:   position,
		Ref:        ref,
		Alt:        alt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("score request returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode score response: %w", err)
	}
	if len(parsed.WindowDeltas) == 0 {
		return nil, fmt.Errorf("sequence model returned no window deltas")
	}

	return &domain.VariantDeltaSample{
		Gene:         parsed.Gene,
		Chromosome:   chromosome,
		Position:     position,
		Ref:          ref,
		Alt:          alt,
		WindowDeltas: parsed.WindowDeltas,
		MinDelta:     parsed.MinDelta,
		WindowUsed:   parsed.WindowUsed,
		ExonDelta:    parsed.ExonDelta,
		ExonWindow:   parsed.ExonWindow,
	}, nil
}
