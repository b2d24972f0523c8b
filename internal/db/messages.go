package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookchat/internal/domain"
)

// MessageStore persists per-book chat history.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a MessageStore backed by db.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append stores one chat turn and returns it with id and timestamp set.
func (s *MessageStore) Append(ctx context.Context, bookID, role, content string) (domain.Message, error) {
	msg := domain.Message{
		ID:        uuid.NewString(),
		BookID:    bookID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, book_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.BookID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// ListByBook returns up to limit most recent messages for a book in
// chronological order. limit <= 0 means no limit.
func (s *MessageStore) ListByBook(ctx context.Context, bookID string, limit int) ([]domain.Message, error) {
	query := "SELECT id, book_id, role, content, created_at FROM messages WHERE book_id = ? ORDER BY created_at"
	args := []any{bookID}
	if limit > 0 {
		// Take the newest N, then flip back to chronological order.
		query = `SELECT id, book_id, role, content, created_at FROM (
			SELECT id, book_id, role, content, created_at FROM messages
			WHERE book_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.BookID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteByBook removes a book's chat history.
func (s *MessageStore) DeleteByBook(ctx context.Context, bookID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE book_id = ?", bookID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
