// Package status persists the per-book vectorization state machine.
// Legal transitions are not_started→processing, processing→completed,
// processing→failed, failed→processing and completed→processing (forced
// reprocess only). Claims are conditional UPDATEs, not check-then-act.
package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookchat/internal/domain"
)

// Store reads and transitions vectorization status records.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns a book's status. A book with no record reads as
// not_started rather than an error.
func (s *Store) Get(ctx context.Context, bookID string) (domain.VectorizationStatus, error) {
	var (
		st          domain.VectorizationStatus
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT book_id, state, total_chunks,
		processed_chunks, error_message, started_at, completed_at
		FROM vector_status WHERE book_id = ?`, bookID).
		Scan(&st.BookID, &st.State, &st.TotalChunks, &st.ProcessedChunks,
			&errMsg, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VectorizationStatus{BookID: bookID, State: domain.StateNotStarted}, nil
	}
	if err != nil {
		return domain.VectorizationStatus{}, fmt.Errorf("failed to query status: %w", err)
	}

	st.ErrorMessage = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		st.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		st.CompletedAt = &t
	}
	if st.TotalChunks > 0 {
		st.Progress = float64(st.ProcessedChunks) / float64(st.TotalChunks)
	} else if st.State == domain.StateCompleted {
		st.Progress = 1
	}
	return st, nil
}

// BeginRun attempts to claim a book for processing. It returns
// (true, nil) when the claim succeeded, (false, nil) when the book is
// already completed and force is false, and (false, ErrConflict) when
// another run holds the processing state.
func (s *Store) BeginRun(ctx context.Context, bookID string, force bool) (bool, error) {
	// Seed a row so the claim below is a pure conditional UPDATE.
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO vector_status (book_id, state) VALUES (?, ?)",
		bookID, domain.StateNotStarted)
	if err != nil {
		return false, fmt.Errorf("failed to seed status row: %w", err)
	}

	allowed := "(?, ?)"
	args := []any{
		domain.StateProcessing, time.Now().UTC(), bookID,
		domain.StateNotStarted, domain.StateFailed,
	}
	if force {
		allowed = "(?, ?, ?)"
		args = append(args, domain.StateCompleted)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE vector_status
		SET state = ?, total_chunks = 0, processed_chunks = 0,
		    error_message = NULL, started_at = ?, completed_at = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE book_id = ? AND state IN `+allowed, args...)
	if err != nil {
		return false, fmt.Errorf("failed to claim processing state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	cur, err := s.Get(ctx, bookID)
	if err != nil {
		return false, err
	}
	if cur.State == domain.StateCompleted && !force {
		return false, nil
	}
	return false, fmt.Errorf("vectorization already in progress for book %s: %w", bookID, domain.ErrConflict)
}

// SetTotal records the chunk count of the active run.
func (s *Store) SetTotal(ctx context.Context, bookID string, total int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE vector_status
		SET total_chunks = ?, updated_at = CURRENT_TIMESTAMP
		WHERE book_id = ? AND state = ?`, total, bookID, domain.StateProcessing)
	if err != nil {
		return fmt.Errorf("failed to set total: %w", err)
	}
	return nil
}

// Progress checkpoints processed chunk count. Updates are monotonic;
// a stale lower value never overwrites a newer higher one.
func (s *Store) Progress(ctx context.Context, bookID string, processed int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE vector_status
		SET processed_chunks = ?, updated_at = CURRENT_TIMESTAMP
		WHERE book_id = ? AND state = ? AND processed_chunks <= ?`,
		processed, bookID, domain.StateProcessing, processed)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// Complete transitions processing → completed.
func (s *Store) Complete(ctx context.Context, bookID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE vector_status
		SET state = ?, processed_chunks = total_chunks, completed_at = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE book_id = ? AND state = ?`,
		domain.StateCompleted, time.Now().UTC(), bookID, domain.StateProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete status: %w", err)
	}
	return requireTransition(res, bookID, domain.StateCompleted)
}

// Fail transitions processing → failed, recording the cause.
func (s *Store) Fail(ctx context.Context, bookID, message string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE vector_status
		SET state = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE book_id = ? AND state = ?`,
		domain.StateFailed, message, bookID, domain.StateProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail status: %w", err)
	}
	return requireTransition(res, bookID, domain.StateFailed)
}

// Delete removes a book's status record, returning it to not_started.
func (s *Store) Delete(ctx context.Context, bookID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vector_status WHERE book_id = ?", bookID); err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	return nil
}

func requireTransition(res sql.Result, bookID, target string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("book %s is not processing, cannot transition to %s: %w",
			bookID, target, domain.ErrConflict)
	}
	return nil
}
