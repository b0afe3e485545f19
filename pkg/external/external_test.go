package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-calibration-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSequenceModelClient_ScoreVariant(t *testing.T) {
	exon := -2.6
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/score", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "GRCh38", req["assembly"])
		assert.Equal(t, "chr12", req["chromosome"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"gene": "KRAS",
			"window_deltas": []domain.WindowDelta{
				{WindowSize: 512, Delta: -2.5},
				{WindowSize: 1024, Delta: -2.0},
			},
			"min_delta":   -2.5,
			"window_used": 512,
			"exon_delta":  exon,
		})
	}))
	defer server.Close()

	client := NewSequenceModelClient(domain.SequenceModelConfig{
		BaseURL:  server.URL + "/",
		APIKey:   "test-key",
		Assembly: "GRCh38",
		Timeout:  time.Second,
	}, testLogger())

	sample, err := client.ScoreVariant(context.Background(), "chr12", 25245350, "C", "T")
	require.NoError(t, err)

	assert.Equal(t, "KRAS", sample.Gene)
	assert.Equal(t, "chr12", sample.Chromosome)
	assert.Equal(t, int64(25245350), sample.Position)
	assert.Equal(t, -2.5, sample.MinDelta)
	assert.Equal(t, 512, sample.WindowUsed)
	require.NotNil(t, sample.ExonDelta)
	assert.Equal(t, -2.6, *sample.ExonDelta)
}

func TestSequenceModelClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			},
		},
		{
			name: "empty window deltas",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{"gene": "KRAS"})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "not json")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewSequenceModelClient(domain.SequenceModelConfig{
				BaseURL: server.URL + "/",
				Timeout: time.Second,
			}, testLogger())

			_, err := client.ScoreVariant(context.Background(), "chr12", 100, "A", "T")
			assert.Error(t, err)
		})
	}
}

func TestSequenceModelClient_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewSequenceModelClient(domain.SequenceModelConfig{
		BaseURL: server.URL + "/",
		Timeout: time.Second,
	}, testLogger())

	for i := 0; i < 10; i++ {
		_, err := client.ScoreVariant(context.Background(), "chr12", 100, "A", "T")
		require.Error(t, err)
	}

	// After tripping, requests stop reaching the upstream.
	assert.Less(t, calls.Load(), int64(10))
}

func TestCatalogReferenceFetcher_FetchVariants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/variants", r.URL.Path)
		assert.Equal(t, "KRAS", r.URL.Query().Get("gene"))
		assert.Equal(t, "json", r.URL.Query().Get("retmode"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"gene": "KRAS",
			"variants": []map[string]interface{}{
				{"chromosome": "chr12", "position": 25245350, "ref": "C", "alt": "T"},
				{"chromosome": "chr12", "position": 25245351, "ref": "G", "alt": "A"},
			},
		})
	}))
	defer server.Close()

	fetcher := NewCatalogReferenceFetcher(domain.ReferenceVariantsConfig{
		BaseURL:   server.URL + "/",
		Timeout:   time.Second,
		RateLimit: 100,
	}, testLogger())

	variants, err := fetcher.FetchVariants(context.Background(), "KRAS")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, int64(25245350), variants[0].Position)
	assert.Equal(t, "C", variants[0].Ref)
}

func TestCatalogReferenceFetcher_UnknownGeneIsEmptyNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := NewCatalogReferenceFetcher(domain.ReferenceVariantsConfig{
		BaseURL:   server.URL + "/",
		Timeout:   time.Second,
		RateLimit: 100,
	}, testLogger())

	variants, err := fetcher.FetchVariants(context.Background(), "NOSUCHGENE")
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestEvidenceClient_ClassifyAndCache(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/classification", r.URL.Path)
		assert.Equal(t, "BRAF", r.URL.Query().Get("gene"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"gene":                  "BRAF",
			"clinical_significance": "Likely pathogenic",
			"review_status":         "criteria provided",
		})
	}))
	defer server.Close()

	cache, err := NewEvidenceCache(domain.CacheConfig{MemorySize: 10, DefaultTTL: time.Hour})
	require.NoError(t, err)
	defer cache.Close()

	client := NewEvidenceClient(domain.EvidenceConfig{
		BaseURL:   server.URL + "/",
		Timeout:   time.Second,
		RateLimit: 100,
	}, cache, testLogger())

	classification, err := client.Classify(context.Background(), "BRAF", "V600E")
	require.NoError(t, err)
	assert.Equal(t, "likely_pathogenic", classification)

	// Second call is served from the cache.
	classification, err = client.Classify(context.Background(), "BRAF", "V600E")
	require.NoError(t, err)
	assert.Equal(t, "likely_pathogenic", classification)
	assert.Equal(t, int64(1), calls.Load())
}

func TestEvidenceClient_MissingClassificationIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewEvidenceClient(domain.EvidenceConfig{
		BaseURL:   server.URL + "/",
		Timeout:   time.Second,
		RateLimit: 100,
	}, nil, testLogger())

	classification, err := client.Classify(context.Background(), "BRAF", "V600E")
	require.NoError(t, err)
	assert.Empty(t, classification)
}

func TestEvidenceCache_ExpiryIsAMiss(t *testing.T) {
	cache, err := NewEvidenceCache(domain.CacheConfig{MemorySize: 10, DefaultTTL: 10 * time.Millisecond})
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "BRAF", "V600E", "pathogenic")

	got, ok := cache.Get(ctx, "BRAF", "V600E")
	require.True(t, ok)
	assert.Equal(t, "pathogenic", got)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get(ctx, "BRAF", "V600E")
	assert.False(t, ok)
}
