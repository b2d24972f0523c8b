package db

import (
	"context"
	"database/sql"
	"fmt"

	"bookchat/internal/domain"
)

// ChunkStore persists the segmented chunks of each book. It mirrors the
// vector index: reprocessing a book replaces its rows wholesale.
type ChunkStore struct {
	db *sql.DB
}

// NewChunkStore creates a ChunkStore backed by db.
func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// ReplaceForBook atomically deletes a book's existing chunks and inserts
// the new set. A failed insert rolls back the delete too, so the table
// never holds a partial set.
func (s *ChunkStore) ReplaceForBook(ctx context.Context, bookID string, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE book_id = ?", bookID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, book_id, chunk_index, content, chapter, word_count, start_offset, end_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.BookID, c.Index, c.Content,
			c.Chapter, c.WordCount, c.StartOffset, c.EndOffset); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteByBook removes all chunks of a book. Deleting a book with no
// chunks is a no-op.
func (s *ChunkStore) DeleteByBook(ctx context.Context, bookID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE book_id = ?", bookID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// ListByBook returns a book's chunks ordered by chunk index.
func (s *ChunkStore) ListByBook(ctx context.Context, bookID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, book_id, chunk_index, content,
		chapter, word_count, start_offset, end_offset
		FROM chunks WHERE book_id = ? ORDER BY chunk_index`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.BookID, &c.Index, &c.Content,
			&c.Chapter, &c.WordCount, &c.StartOffset, &c.EndOffset); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountByBook returns the number of stored chunks for a book.
func (s *ChunkStore) CountByBook(ctx context.Context, bookID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE book_id = ?", bookID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
