// Package vectorstore provides the vector index over a Qdrant
// collection: idempotent collection setup, upsert keyed by chunk id,
// delete-by-book and cosine similarity search filtered to one book.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bookchat/internal/domain"
	"bookchat/internal/logger"
)

// Store defines the vector index operations used by the pipeline and
// the chat query engine.
type Store interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, records []domain.VectorRecord) error
	DeleteByBook(ctx context.Context, bookID string) error
	Search(ctx context.Context, vector []float64, bookID string, topK int, scoreThreshold float64) ([]domain.SearchHit, error)
}

// Options configures the Qdrant client.
type Options struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// QdrantStore is a minimal REST client to Qdrant. Scores are cosine
// similarities and are comparable only within one collection
// configuration.
type QdrantStore struct {
	opts   Options
	client *http.Client
	log    *logger.Logger
}

// NewQdrantStore creates a QdrantStore with the given options.
func NewQdrantStore(opts Options, log *logger.Logger) *QdrantStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &QdrantStore{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		log:    log,
	}
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureCollection creates the backing collection if it is absent. An
// existing collection with a different vector size is a fatal
// configuration error, never silently ignored.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	if s.opts.Dimension <= 0 {
		return fmt.Errorf("collection dimension must be positive: %w", domain.ErrInvalidInput)
	}

	status, body, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusOK:
		var info collectionInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return fmt.Errorf("failed to decode collection info: %w", err)
		}
		if got := info.Result.Config.Params.Vectors.Size; got != s.opts.Dimension {
			return fmt.Errorf("collection %q has dimension %d, configured %d: %w",
				s.opts.Collection, got, s.opts.Dimension, domain.ErrInvalidInput)
		}
		return nil
	case status == http.StatusNotFound:
		createBody := map[string]any{
			"vectors": map[string]any{
				"size":     s.opts.Dimension,
				"distance": "Cosine",
			},
		}
		status, body, err = s.do(ctx, http.MethodPut, s.collectionURL(""), createBody)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("qdrant create collection failed (HTTP %d): %s: %w",
				status, string(body), domain.ErrIndexUnavailable)
		}
		s.log.Info("created vector collection",
			"collection", s.opts.Collection, "dimension", s.opts.Dimension)
		return nil
	default:
		return fmt.Errorf("qdrant collection lookup failed (HTTP %d): %s: %w",
			status, string(body), domain.ErrIndexUnavailable)
	}
}

// Upsert writes records into the collection, replacing any existing
// point with the same id. Every vector is validated against the
// configured dimension before the request is sent.
func (s *QdrantStore) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]map[string]any, len(records))
	for i, rec := range records {
		if len(rec.Vector) != s.opts.Dimension {
			return fmt.Errorf("vector %s has dimension %d, configured %d: %w",
				rec.ID, len(rec.Vector), s.opts.Dimension, domain.ErrInvalidInput)
		}
		points[i] = map[string]any{
			"id":     rec.ID,
			"vector": rec.Vector,
			"payload": map[string]any{
				"book_id":     rec.Payload.BookID,
				"chunk_index": rec.Payload.ChunkIndex,
				"content":     rec.Payload.Content,
				"chapter":     rec.Payload.Chapter,
				"book_title":  rec.Payload.BookTitle,
				"book_author": rec.Payload.BookAuthor,
			},
		}
	}

	status, body, err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"),
		map[string]any{"points": points})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant upsert failed (HTTP %d): %s: %w",
			status, string(body), domain.ErrIndexUnavailable)
	}
	return nil
}

// DeleteByBook removes all points belonging to a book. Deleting a book
// with no points is a no-op, not an error.
func (s *QdrantStore) DeleteByBook(ctx context.Context, bookID string) error {
	reqBody := map[string]any{
		"filter": bookFilter(bookID),
	}
	status, body, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), reqBody)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant delete failed (HTTP %d): %s: %w",
			status, string(body), domain.ErrIndexUnavailable)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search returns up to topK hits for the given book ordered by
// descending similarity. Hits scoring below scoreThreshold are
// excluded server-side; zero hits is a legitimate result.
func (s *QdrantStore) Search(ctx context.Context, vector []float64, bookID string, topK int, scoreThreshold float64) ([]domain.SearchHit, error) {
	if len(vector) != s.opts.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, configured %d: %w",
			len(vector), s.opts.Dimension, domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 5
	}

	reqBody := map[string]any{
		"vector":          vector,
		"limit":           topK,
		"with_payload":    true,
		"filter":          bookFilter(bookID),
		"score_threshold": scoreThreshold,
	}
	status, body, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), reqBody)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("qdrant search failed (HTTP %d): %s: %w",
			status, string(body), domain.ErrIndexUnavailable)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]domain.SearchHit, 0, len(resp.Result))
	for rank, r := range resp.Result {
		hit := domain.SearchHit{
			ChunkID: fmt.Sprintf("%v", r.ID),
			Score:   r.Score,
			Rank:    rank,
		}
		if v, ok := r.Payload["book_id"].(string); ok {
			hit.Payload.BookID = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			hit.Payload.ChunkIndex = int(v)
		}
		if v, ok := r.Payload["content"].(string); ok {
			hit.Payload.Content = v
		}
		if v, ok := r.Payload["chapter"].(string); ok {
			hit.Payload.Chapter = v
		}
		if v, ok := r.Payload["book_title"].(string); ok {
			hit.Payload.BookTitle = v
		}
		if v, ok := r.Payload["book_author"].(string); ok {
			hit.Payload.BookAuthor = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func bookFilter(bookID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "book_id", "match": map[string]any{"value": bookID}},
		},
	}
}

func (s *QdrantStore) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.opts.URL, s.opts.Collection, suffix)
}

// do sends one request and reads the full response. Transport failures
// surface as retryable index-unavailable errors.
func (s *QdrantStore) do(ctx context.Context, method, url string, reqBody any) (int, []byte, error) {
	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.opts.APIKey != "" {
		req.Header.Set("api-key", s.opts.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant request failed: %v: %w", err, domain.ErrIndexUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read qdrant response: %v: %w", err, domain.ErrIndexUnavailable)
	}
	return resp.StatusCode, body, nil
}
