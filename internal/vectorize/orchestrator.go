// Package vectorize drives the per-book pipeline: fetch extracted text,
// segment it, embed the chunks batch by batch and upsert them into the
// vector index, checkpointing progress in the status record.
package vectorize

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bookchat/internal/books"
	"bookchat/internal/chunker"
	"bookchat/internal/domain"
	"bookchat/internal/embedding"
	"bookchat/internal/logger"
	"bookchat/internal/vectorstore"
)

// chunkNamespace seeds deterministic chunk ids. The same (book, index,
// content) triple always maps to the same id, so a full reprocess
// upserts over its previous points instead of accumulating duplicates.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("chunks.bookchat.internal"))

// StatusStore is the slice of the status state machine the pipeline
// drives.
type StatusStore interface {
	Get(ctx context.Context, bookID string) (domain.VectorizationStatus, error)
	BeginRun(ctx context.Context, bookID string, force bool) (bool, error)
	SetTotal(ctx context.Context, bookID string, total int) error
	Progress(ctx context.Context, bookID string, processed int) error
	Complete(ctx context.Context, bookID string) error
	Fail(ctx context.Context, bookID, message string) error
	Delete(ctx context.Context, bookID string) error
}

// ChunkStore persists segmented chunks alongside the vector index.
type ChunkStore interface {
	ReplaceForBook(ctx context.Context, bookID string, chunks []domain.Chunk) error
	DeleteByBook(ctx context.Context, bookID string) error
}

// Orchestrator owns one book's pipeline run at a time (per book).
type Orchestrator struct {
	provider  books.Provider
	splitter  *chunker.TextChunker
	embedder  embedding.Service
	index     vectorstore.Store
	status    StatusStore
	chunks    ChunkStore
	batchSize int
	log       *logger.Logger
}

// NewOrchestrator wires the pipeline stages together. batchSize bounds
// how many chunks go into one embedding call and one index upsert.
func NewOrchestrator(provider books.Provider, splitter *chunker.TextChunker,
	embedder embedding.Service, index vectorstore.Store,
	status StatusStore, chunks ChunkStore, batchSize int, log *logger.Logger) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Orchestrator{
		provider:  provider,
		splitter:  splitter,
		embedder:  embedder,
		index:     index,
		status:    status,
		chunks:    chunks,
		batchSize: batchSize,
		log:       log,
	}
}

// Start claims the book and, on success, runs the pipeline in the
// background, returning the freshly claimed status immediately. A book
// already completed (and not forced) is acknowledged as-is without
// starting a run. A book mid-processing returns ErrConflict.
func (o *Orchestrator) Start(ctx context.Context, bookID string, force bool) (domain.VectorizationStatus, error) {
	claimed, err := o.status.BeginRun(ctx, bookID, force)
	if err != nil {
		return domain.VectorizationStatus{}, err
	}
	if claimed {
		// The run outlives the triggering request.
		go func() {
			if err := o.process(context.Background(), bookID); err != nil {
				o.log.Error("vectorization run failed", "book_id", bookID, "error", err)
			}
		}()
	}
	return o.status.Get(ctx, bookID)
}

// Run claims the book and executes the pipeline synchronously. Same
// claim semantics as Start; a completed, unforced book is a no-op.
func (o *Orchestrator) Run(ctx context.Context, bookID string, force bool) error {
	claimed, err := o.status.BeginRun(ctx, bookID, force)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	return o.process(ctx, bookID)
}

// process executes one claimed run end to end. Any failure transitions
// the status to failed with the cause recorded; the run is fully
// reprocessable afterwards.
func (o *Orchestrator) process(ctx context.Context, bookID string) (err error) {
	defer func() {
		if err != nil {
			if failErr := o.status.Fail(ctx, bookID, err.Error()); failErr != nil {
				o.log.Error("failed to record run failure", "book_id", bookID, "error", failErr)
			}
		}
	}()

	book, err := o.provider.GetBook(ctx, bookID)
	if err != nil {
		return fmt.Errorf("failed to fetch book metadata: %w", err)
	}

	text, err := o.provider.ExtractedText(ctx, bookID)
	if err != nil {
		return fmt.Errorf("failed to fetch extracted text: %w", err)
	}

	chunks := o.splitter.Split(text)
	if len(chunks) == 0 {
		return fmt.Errorf("book %s has no extractable content: %w", bookID, domain.ErrInvalidInput)
	}
	for i := range chunks {
		chunks[i].BookID = bookID
		chunks[i].ID = chunkID(bookID, chunks[i].Index, chunks[i].Content)
	}

	if err := o.index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	// A reprocess replaces everything; stale points from a previous
	// segmentation must not survive.
	if err := o.index.DeleteByBook(ctx, bookID); err != nil {
		return fmt.Errorf("failed to purge stale vectors: %w", err)
	}
	if err := o.chunks.ReplaceForBook(ctx, bookID, chunks); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	if err := o.status.SetTotal(ctx, bookID, len(chunks)); err != nil {
		return err
	}

	o.log.Info("vectorization started",
		"book_id", bookID, "title", book.Title, "chunks", len(chunks))

	processed := 0
	for start := 0; start < len(chunks); start += o.batchSize {
		end := start + o.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := o.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed batch at chunk %d: %w", start, err)
		}

		records := make([]domain.VectorRecord, len(batch))
		for i, c := range batch {
			records[i] = domain.VectorRecord{
				ID:     c.ID,
				Vector: vectors[i],
				Payload: domain.VectorPayload{
					BookID:     bookID,
					ChunkIndex: c.Index,
					Content:    c.Content,
					Chapter:    c.Chapter,
					BookTitle:  book.Title,
					BookAuthor: book.Author,
				},
			}
		}
		if err := o.index.Upsert(ctx, records); err != nil {
			return fmt.Errorf("failed to upsert batch at chunk %d: %w", start, err)
		}

		processed += len(batch)
		if err := o.status.Progress(ctx, bookID, processed); err != nil {
			return err
		}
	}

	if err := o.status.Complete(ctx, bookID); err != nil {
		return err
	}
	o.log.Info("vectorization completed", "book_id", bookID, "chunks", processed)
	return nil
}

// Status returns the current status snapshot for a book.
func (o *Orchestrator) Status(ctx context.Context, bookID string) (domain.VectorizationStatus, error) {
	return o.status.Get(ctx, bookID)
}

// Purge removes a book's vectors, chunks and status record. Purging is
// idempotent; a book with nothing indexed is a no-op. A book
// mid-processing cannot be purged out from under its run.
func (o *Orchestrator) Purge(ctx context.Context, bookID string) error {
	st, err := o.status.Get(ctx, bookID)
	if err != nil {
		return err
	}
	if st.State == domain.StateProcessing {
		return fmt.Errorf("cannot purge book %s while vectorization is in progress: %w",
			bookID, domain.ErrConflict)
	}

	if err := o.index.DeleteByBook(ctx, bookID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := o.chunks.DeleteByBook(ctx, bookID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return o.status.Delete(ctx, bookID)
}

// chunkID derives the deterministic id for one chunk.
func chunkID(bookID string, index int, content string) string {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s:%d:%s", bookID, index, content)).String()
}
