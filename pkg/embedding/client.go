// Package embedding provides clients for turning text into vectors.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"waris-go/internal/config"
	"waris-go/pkg/log"
)

// ErrUnavailable marks failures to reach the embedding backend, as opposed
// to bad input. Callers use it to decide whether a document can be retried.
var ErrUnavailable = errors.New("embedding service unavailable")

// DefaultMaxInputChars caps the text sent per embedding request.
const DefaultMaxInputChars = 30000

// Client defines the interface for an embedding client.
type Client interface {
	// EmbedOne returns the vector for a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedMany returns one vector per input text, in input order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the vector size this client produces.
	Dimension() int
}

// NewClient creates an embedding client based on the provider in the
// config. "local" runs in-process with no network access; anything else
// talks to an OpenAI-compatible embeddings API.
func NewClient(cfg config.EmbeddingConfig) Client {
	if cfg.Provider == "local" {
		return NewLocalClient(cfg.Dimensions)
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &openAICompatibleClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type openAICompatibleClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Dimension() int {
	return c.cfg.Dimensions
}

// EmbedOne calls the embeddings API for a single text.
func (c *openAICompatibleClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany calls the embeddings API for a batch of texts. The response is
// re-sorted by the returned index, so vectors always line up with inputs.
func (c *openAICompatibleClient) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = c.cleanText(t)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	log.Infof("[EmbeddingClient] calling embeddings API, model: %s, batch: %d", c.cfg.Model, len(input))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      input,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] embeddings API call failed, error: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[EmbeddingClient] embeddings API returned non-200 status: %s", resp.Status)
		return nil, fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] failed to decode embeddings response, error: %v", err)
		return nil, fmt.Errorf("%w: failed to decode embedding response: %v", ErrUnavailable, err)
	}

	if len(embeddingResp.Data) != len(input) {
		return nil, fmt.Errorf("%w: embedding api returned %d vectors for %d inputs",
			ErrUnavailable, len(embeddingResp.Data), len(input))
	}

	// Some providers return the batch out of order.
	sort.Slice(embeddingResp.Data, func(i, j int) bool {
		return embeddingResp.Data[i].Index < embeddingResp.Data[j].Index
	})

	vectors := make([][]float32, len(embeddingResp.Data))
	for i, d := range embeddingResp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: received empty embedding from api at index %d", ErrUnavailable, i)
		}
		vectors[i] = d.Embedding
	}

	log.Infof("[EmbeddingClient] got %d vectors from embeddings API, dimension: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}

// cleanText collapses whitespace and truncates to the configured input
// limit before sending text to the API.
func (c *openAICompatibleClient) cleanText(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	max := c.cfg.MaxInputChars
	if max <= 0 {
		max = DefaultMaxInputChars
	}
	if len(cleaned) > max {
		// Cut on a rune boundary so Thai text is not split mid-character.
		cut := max
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		log.Warnf("[EmbeddingClient] input truncated from %d to %d bytes, embedding quality degrades", len(cleaned), cut)
		cleaned = cleaned[:cut]
	}
	return cleaned
}
