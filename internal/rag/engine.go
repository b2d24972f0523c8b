package rag

import (
	"context"
	"fmt"

	"bookchat/internal/books"
	"bookchat/internal/domain"
	"bookchat/internal/embedding"
	"bookchat/internal/logger"
	"bookchat/internal/vectorstore"
)

// StatusReader reports the vectorization state gating chat queries.
type StatusReader interface {
	Get(ctx context.Context, bookID string) (domain.VectorizationStatus, error)
}

// Recorder persists chat turns. May be nil to disable history.
type Recorder interface {
	Append(ctx context.Context, bookID, role, content string) (domain.Message, error)
}

// Options bounds retrieval for the engine.
type Options struct {
	TopK             int
	ScoreThreshold   float64
	MaxContextLength int
}

// Engine runs the end-to-end query path: readiness gate, query
// embedding, filtered search, context assembly and answer composition.
type Engine struct {
	provider books.Provider
	embedder embedding.Service
	index    vectorstore.Store
	status   StatusReader
	composer *Composer
	recorder Recorder
	opts     Options
	log      *logger.Logger
}

// NewEngine wires the query path together.
func NewEngine(provider books.Provider, embedder embedding.Service,
	index vectorstore.Store, status StatusReader, composer *Composer,
	recorder Recorder, opts Options, log *logger.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxContextLength <= 0 {
		opts.MaxContextLength = 4000
	}
	return &Engine{
		provider: provider,
		embedder: embedder,
		index:    index,
		status:   status,
		composer: composer,
		recorder: recorder,
		opts:     opts,
		log:      log,
	}
}

// Query answers one question against one book. A book whose
// vectorization is not completed is rejected before any backend call.
func (e *Engine) Query(ctx context.Context, bookID, question string) (Answer, error) {
	if question == "" {
		return Answer{}, fmt.Errorf("question must not be empty: %w", domain.ErrInvalidInput)
	}

	st, err := e.status.Get(ctx, bookID)
	if err != nil {
		return Answer{}, err
	}
	if st.State != domain.StateCompleted {
		return Answer{}, fmt.Errorf("book %s is %s, not ready for chat: %w",
			bookID, st.State, domain.ErrNotReady)
	}

	book, err := e.provider.GetBook(ctx, bookID)
	if err != nil {
		return Answer{}, err
	}

	vector, err := e.embedder.EmbedOne(ctx, question)
	if err != nil {
		return Answer{}, err
	}

	hits, err := e.index.Search(ctx, vector, bookID, e.opts.TopK, e.opts.ScoreThreshold)
	if err != nil {
		return Answer{}, err
	}

	contextHits := BuildContext(hits, e.opts.MaxContextLength)
	answer, err := e.composer.Generate(ctx, book, question, contextHits)
	if err != nil {
		return Answer{}, err
	}

	e.log.Info("chat query answered",
		"book_id", bookID, "hits", len(hits), "context_used", answer.ContextUsed)

	if e.recorder != nil {
		if _, err := e.recorder.Append(ctx, bookID, "user", question); err != nil {
			e.log.Warn("failed to record user message", "book_id", bookID, "error", err)
		}
		if _, err := e.recorder.Append(ctx, bookID, "assistant", answer.Response); err != nil {
			e.log.Warn("failed to record assistant message", "book_id", bookID, "error", err)
		}
	}
	return answer, nil
}
