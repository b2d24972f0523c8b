// Package embedding provides the gateway converting text to vector
// representations via an OpenAI-compatible embeddings endpoint.
// Requests are batched, paced by a token-bucket rate limiter and
// retried with bounded exponential backoff.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"bookchat/internal/domain"
	"bookchat/internal/logger"
)

// Service defines the text embedding operations used by the
// vectorization pipeline and the chat query engine.
type Service interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	EmbedOne(ctx context.Context, text string) ([]float64, error)
	Dimension() int
}

// Options configures the API gateway.
type Options struct {
	Endpoint          string
	APIKey            string
	Model             string
	Dimension         int
	BatchSize         int
	MaxRetries        int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Gateway implements Service against an OpenAI-compatible API. It is
// stateless apart from the rate limiter and safe for concurrent use.
type Gateway struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewGateway creates a Gateway with the given options.
func NewGateway(opts Options, log *logger.Logger) *Gateway {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Gateway{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		log:     log,
	}
}

// Dimension returns the configured vector dimension.
func (g *Gateway) Dimension() int { return g.opts.Dimension }

// embeddingRequest is the request body for the embeddings API.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse is the response body from the embeddings API.
type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

// embeddingData represents a single embedding result.
type embeddingData struct {
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// apiError represents an error returned by the API.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// EmbedOne converts a single text into an embedding vector.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed converts texts into embedding vectors, preserving input order
// 1:1. Batches are submitted sequentially; if any batch fails after all
// retry attempts, the whole call fails and no partial result is
// returned.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += g.opts.BatchSize {
		end := start + g.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// embedBatch submits one batch with bounded retry and validates every
// returned vector against the configured dimension.
func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	var lastErr error
	for attempt := 0; attempt <= g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			g.log.Warn("retrying embedding batch",
				"attempt", attempt, "batch_size", len(texts), "error", lastErr)
			select {
			case <-time.After(retryDelay(attempt - 1)):
			case <-ctx.Done():
				return nil, fmt.Errorf("embedding request cancelled: %v: %w", ctx.Err(), domain.ErrUpstreamUnavailable)
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding request cancelled: %v: %w", err, domain.ErrUpstreamUnavailable)
		}

		data, retryable, err := g.callAPI(ctx, texts)
		if err != nil {
			if !retryable {
				return nil, err
			}
			lastErr = err
			continue
		}

		return g.orderVectors(data, len(texts))
	}
	return nil, fmt.Errorf("embedding failed after %d attempts (%v): %w",
		g.opts.MaxRetries+1, lastErr, domain.ErrUpstreamUnavailable)
}

// callAPI sends one embeddings request. The second return value
// reports whether a failure is worth retrying.
func (g *Gateway) callAPI(ctx context.Context, texts []string) ([]embeddingData, bool, error) {
	bodyBytes, err := json.Marshal(embeddingRequest{Model: g.opts.Model, Input: texts})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := g.opts.Endpoint + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.opts.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				select {
				case <-time.After(time.Duration(secs) * time.Second):
				case <-ctx.Done():
				}
			}
		}
		return nil, true, fmt.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, apiErrorMessage(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		// Anything else in the 4xx range means the upstream rejected the
		// input; retrying the same payload cannot succeed.
		return nil, false, fmt.Errorf("embedding API rejected request (HTTP %d): %s: %w",
			resp.StatusCode, apiErrorMessage(respBody), domain.ErrInvalidInput)
	}

	var result embeddingResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, true, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != nil {
		return nil, true, fmt.Errorf("embedding API error: %s", result.Error.Message)
	}
	return result.Data, false, nil
}

// orderVectors reassembles API results by index and enforces the
// configured dimension on every vector.
func (g *Gateway) orderVectors(data []embeddingData, want int) ([][]float64, error) {
	if len(data) != want {
		return nil, fmt.Errorf("embedding API returned %d results, expected %d: %w",
			len(data), want, domain.ErrInvalidInput)
	}

	vectors := make([][]float64, want)
	for _, d := range data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("embedding API returned invalid index %d: %w", d.Index, domain.ErrInvalidInput)
		}
		if g.opts.Dimension > 0 && len(d.Embedding) != g.opts.Dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d: %w",
				g.opts.Dimension, len(d.Embedding), domain.ErrInvalidInput)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func apiErrorMessage(body []byte) string {
	var errResp embeddingResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil {
		return errResp.Error.Message
	}
	return string(body)
}

// retryDelay returns the exponential backoff delay for an attempt,
// capped at 5 seconds.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
