package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bookchat/internal/domain"
	"bookchat/internal/logger"
)

func testGateway(endpoint string, dimension int) *Gateway {
	return NewGateway(Options{
		Endpoint:          endpoint,
		APIKey:            "test-key",
		Model:             "test-model",
		Dimension:         dimension,
		BatchSize:         2,
		MaxRetries:        2,
		RequestsPerSecond: 1000, // effectively unpaced in tests
		Timeout:           5 * time.Second,
	}, logger.NewNop())
}

// fakeEmbeddings responds with deterministic vectors of the given
// dimension, echoing one result per input.
func fakeEmbeddings(t *testing.T, dimension int, calls *int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected /embeddings path, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		resp := embeddingResponse{}
		// Return results in reverse order to exercise index reassembly.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float64, dimension)
			vec[0] = float64(len(req.Input[i]))
			resp.Data = append(resp.Data, embeddingData{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestEmbed_OrderPreserved(t *testing.T) {
	calls := 0
	server := httptest.NewServer(fakeEmbeddings(t, 4, &calls))
	defer server.Close()

	g := testGateway(server.URL, 4)
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := g.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, text := range texts {
		if vectors[i][0] != float64(len(text)) {
			t.Errorf("vector %d does not correspond to input %d: got marker %f", i, i, vectors[i][0])
		}
	}
}

func TestEmbed_Batching(t *testing.T) {
	calls := 0
	server := httptest.NewServer(fakeEmbeddings(t, 4, &calls))
	defer server.Close()

	g := testGateway(server.URL, 4) // batch size 2
	if _, err := g.Embed(context.Background(), []string{"a", "b", "c", "d", "e"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 batch calls for 5 texts with batch size 2, got %d", calls)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	g := testGateway("http://unused", 4)
	vectors, err := g.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("expected no vectors, got %d", len(vectors))
	}
}

func TestEmbed_RetryOnServerError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"server error"}}`))
			return
		}
		fakeEmbeddings(t, 4, new(int))(w, r)
	}))
	defer server.Close()

	g := testGateway(server.URL, 4)
	vectors, err := g.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	if calls != 2 {
		t.Errorf("expected 2 calls (1 failure + 1 retry), got %d", calls)
	}
}

func TestEmbed_RetriesExhausted(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := testGateway(server.URL, 4)
	_, err := g.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatal("expected error after retries exhaust")
	}
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts (MaxRetries=2), got %d", calls)
	}
}

func TestEmbed_RejectedInputNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"input too long"}}`))
	}))
	defer server.Close()

	g := testGateway(server.URL, 4)
	_, err := g.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for HTTP 400, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for rejected input, got %d", calls)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingResponse{Data: []embeddingData{{Embedding: []float64{1, 2}, Index: 0}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	g := testGateway(server.URL, 4)
	_, err := g.EmbedOne(context.Background(), "hello")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for dimension mismatch, got %v", err)
	}
}

func TestEmbed_ResultCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{})
	}))
	defer server.Close()

	g := testGateway(server.URL, 4)
	_, err := g.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing results, got %v", err)
	}
}

func TestEmbedOne(t *testing.T) {
	calls := 0
	server := httptest.NewServer(fakeEmbeddings(t, 4, &calls))
	defer server.Close()

	g := testGateway(server.URL, 4)
	vec, err := g.EmbedOne(context.Background(), "hey")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("expected dimension 4, got %d", len(vec))
	}
	if vec[0] != 3 {
		t.Errorf("expected marker 3, got %f", vec[0])
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := testGateway(server.URL, 4)
	_, err := g.Embed(ctx, []string{"hello"})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
