package vectorize

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bookchat/internal/chunker"
	"bookchat/internal/db"
	"bookchat/internal/domain"
	"bookchat/internal/logger"
	"bookchat/internal/status"
)

type fakeProvider struct {
	book domain.Book
	text string
	err  error
}

func (f *fakeProvider) GetBook(ctx context.Context, bookID string) (domain.Book, error) {
	if f.err != nil {
		return domain.Book{}, f.err
	}
	return f.book, nil
}

func (f *fakeProvider) ExtractedText(ctx context.Context, bookID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	failAfter int // fail once this many calls have succeeded; 0 disables
	block     chan struct{}
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.failAfter > 0 && calls > f.failAfter {
		return nil, fmt.Errorf("embedding backend down: %w", domain.ErrUpstreamUnavailable)
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{float64(len(texts[i])), 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeIndex struct {
	mu      sync.Mutex
	points  map[string]domain.VectorRecord
	deletes int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[string]domain.VectorRecord)}
}

func (f *fakeIndex) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.points[r.ID] = r
	}
	return nil
}

func (f *fakeIndex) DeleteByBook(ctx context.Context, bookID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for id, r := range f.points {
		if r.Payload.BookID == bookID {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float64, bookID string, topK int, scoreThreshold float64) ([]domain.SearchHit, error) {
	return nil, nil
}

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

type fixture struct {
	orch     *Orchestrator
	provider *fakeProvider
	embedder *fakeEmbedder
	index    *fakeIndex
	status   *status.Store
	chunks   *db.ChunkStore
}

func newFixture(t *testing.T, text string) *fixture {
	t.Helper()
	database, err := db.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		provider: &fakeProvider{book: domain.Book{ID: "B1", Title: "测试书", Author: "作者"}, text: text},
		embedder: &fakeEmbedder{},
		index:    newFakeIndex(),
		status:   status.NewStore(database),
		chunks:   db.NewChunkStore(database),
	}
	f.orch = NewOrchestrator(f.provider, chunker.NewTextChunker(100, 20),
		f.embedder, f.index, f.status, f.chunks, 2, logger.NewNop())
	return f
}

func multiParagraphText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "This is paragraph number %d with some content to embed.\n\n", i)
	}
	return b.String()
}

func TestRun_CompletesAndIndexesAllChunks(t *testing.T) {
	f := newFixture(t, multiParagraphText(6))
	ctx := context.Background()

	if err := f.orch.Run(ctx, "B1", false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	st, err := f.orch.Status(ctx, "B1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.State != domain.StateCompleted {
		t.Fatalf("expected completed, got %s (%s)", st.State, st.ErrorMessage)
	}
	if st.TotalChunks == 0 || st.ProcessedChunks != st.TotalChunks {
		t.Errorf("expected processed == total > 0, got %d/%d", st.ProcessedChunks, st.TotalChunks)
	}
	if st.Progress != 1 {
		t.Errorf("expected progress 1, got %f", st.Progress)
	}
	if f.index.count() != st.TotalChunks {
		t.Errorf("index holds %d points, status says %d chunks", f.index.count(), st.TotalChunks)
	}

	stored, err := f.chunks.ListByBook(ctx, "B1")
	if err != nil {
		t.Fatalf("ListByBook failed: %v", err)
	}
	if len(stored) != st.TotalChunks {
		t.Errorf("chunk store holds %d rows, expected %d", len(stored), st.TotalChunks)
	}

	f.index.mu.Lock()
	for _, p := range f.index.points {
		if p.Payload.BookTitle != "测试书" || p.Payload.BookAuthor != "作者" {
			t.Errorf("payload missing book metadata: %+v", p.Payload)
		}
	}
	f.index.mu.Unlock()
}

func TestRun_ReprocessIsIdempotent(t *testing.T) {
	f := newFixture(t, multiParagraphText(6))
	ctx := context.Background()

	if err := f.orch.Run(ctx, "B1", false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := f.index.count()

	if err := f.orch.Run(ctx, "B1", true); err != nil {
		t.Fatalf("forced rerun failed: %v", err)
	}
	if f.index.count() != first {
		t.Errorf("rerun changed point count from %d to %d, ids not deterministic", first, f.index.count())
	}
	if f.index.deletes < 2 {
		t.Errorf("expected stale points purged on each run, got %d deletes", f.index.deletes)
	}
}

func TestRun_CompletedWithoutForceIsNoop(t *testing.T) {
	f := newFixture(t, multiParagraphText(4))
	ctx := context.Background()

	if err := f.orch.Run(ctx, "B1", false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	before := f.embedder.callCount()

	if err := f.orch.Run(ctx, "B1", false); err != nil {
		t.Fatalf("second run should be a no-op, got %v", err)
	}
	if f.embedder.callCount() != before {
		t.Error("no-op rerun must not call the embedding backend")
	}
}

func TestRun_EmptyTextFails(t *testing.T) {
	f := newFixture(t, "   \n\n  ")
	ctx := context.Background()

	err := f.orch.Run(ctx, "B1", false)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	st, _ := f.orch.Status(ctx, "B1")
	if st.State != domain.StateFailed {
		t.Errorf("expected failed state, got %s", st.State)
	}
	if st.ErrorMessage == "" {
		t.Error("expected failure cause recorded")
	}
}

func TestRun_EmbedFailureMidRunFails(t *testing.T) {
	f := newFixture(t, multiParagraphText(10))
	f.embedder.failAfter = 1
	ctx := context.Background()

	err := f.orch.Run(ctx, "B1", false)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}

	st, _ := f.orch.Status(ctx, "B1")
	if st.State != domain.StateFailed {
		t.Errorf("expected failed state, got %s", st.State)
	}
	if st.ProcessedChunks >= st.TotalChunks {
		t.Errorf("expected partial progress, got %d/%d", st.ProcessedChunks, st.TotalChunks)
	}

	// The failed run must be reclaimable and complete on retry.
	f.embedder.failAfter = 0
	if err := f.orch.Run(ctx, "B1", false); err != nil {
		t.Fatalf("retry after failure did not run: %v", err)
	}
	st, _ = f.orch.Status(ctx, "B1")
	if st.State != domain.StateCompleted {
		t.Errorf("expected completed after retry, got %s", st.State)
	}
}

func TestRun_ConcurrentSecondRunConflicts(t *testing.T) {
	f := newFixture(t, multiParagraphText(6))
	f.embedder.block = make(chan struct{})
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- f.orch.Run(ctx, "B1", false) }()

	// Wait until the first run is inside the embedding stage.
	for f.embedder.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	err := f.orch.Run(ctx, "B1", false)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict for concurrent run, got %v", err)
	}

	close(f.embedder.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	st, _ := f.orch.Status(ctx, "B1")
	if st.State != domain.StateCompleted {
		t.Errorf("expected completed, got %s", st.State)
	}
}

func TestStart_ReturnsProcessingImmediately(t *testing.T) {
	f := newFixture(t, multiParagraphText(6))
	f.embedder.block = make(chan struct{})
	ctx := context.Background()

	st, err := f.orch.Start(ctx, "B1", false)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st.State != domain.StateProcessing {
		t.Errorf("expected processing acknowledgment, got %s", st.State)
	}

	close(f.embedder.block)
	// Wait for the background run to finish.
	for {
		st, err = f.orch.Status(ctx, "B1")
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if st.State != domain.StateProcessing {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if st.State != domain.StateCompleted {
		t.Errorf("expected completed, got %s (%s)", st.State, st.ErrorMessage)
	}
}

func TestPurge_RemovesEverything(t *testing.T) {
	f := newFixture(t, multiParagraphText(4))
	ctx := context.Background()

	if err := f.orch.Run(ctx, "B1", false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := f.orch.Purge(ctx, "B1"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	if f.index.count() != 0 {
		t.Errorf("expected 0 points after purge, got %d", f.index.count())
	}
	stored, _ := f.chunks.ListByBook(ctx, "B1")
	if len(stored) != 0 {
		t.Errorf("expected 0 chunks after purge, got %d", len(stored))
	}
	st, _ := f.orch.Status(ctx, "B1")
	if st.State != domain.StateNotStarted {
		t.Errorf("expected not_started after purge, got %s", st.State)
	}

	// Purging again is a no-op.
	if err := f.orch.Purge(ctx, "B1"); err != nil {
		t.Errorf("second purge should be idempotent, got %v", err)
	}
}

func TestPurge_RejectedWhileProcessing(t *testing.T) {
	f := newFixture(t, multiParagraphText(4))
	ctx := context.Background()

	if _, err := f.status.BeginRun(ctx, "B1", false); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	err := f.orch.Purge(ctx, "B1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict purging mid-processing, got %v", err)
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	a := chunkID("B1", 3, "some content")
	b := chunkID("B1", 3, "some content")
	if a != b {
		t.Errorf("same inputs produced different ids: %s vs %s", a, b)
	}
	if chunkID("B2", 3, "some content") == a {
		t.Error("different book produced the same id")
	}
	if chunkID("B1", 4, "some content") == a {
		t.Error("different index produced the same id")
	}
}
