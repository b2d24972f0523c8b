// Package domain holds the shared data types and error kinds of the
// book-chat core: chunks, vector records, search hits and the per-book
// vectorization status record.
package domain

import "time"

// Chunk is a contiguous slice of a book's extracted text, the atomic
// unit of retrieval. Chunks are immutable once created; reprocessing a
// book supersedes them rather than mutating them in place.
type Chunk struct {
	ID          string `json:"id"`
	BookID      string `json:"book_id"`
	Index       int    `json:"index"`
	Content     string `json:"content"`
	Chapter     string `json:"chapter"`
	WordCount   int    `json:"word_count"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// VectorPayload is the denormalized payload stored next to each vector
// so the index can filter by book and return self-describing hits.
type VectorPayload struct {
	BookID     string `json:"book_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Chapter    string `json:"chapter"`
	BookTitle  string `json:"book_title"`
	BookAuthor string `json:"book_author"`
}

// VectorRecord ties one embedding to exactly one chunk. The record id
// equals the chunk id for 1:1 traceability.
type VectorRecord struct {
	ID      string
	Vector  []float64
	Payload VectorPayload
}

// SearchHit is a retrieved chunk with its similarity score and rank.
// Hits are produced fresh per query and never persisted.
type SearchHit struct {
	ChunkID string        `json:"chunk_id"`
	Score   float64       `json:"score"`
	Rank    int           `json:"rank"`
	Payload VectorPayload `json:"payload"`
}

// Vectorization states. Legal transitions:
// not_started → processing, processing → completed, processing → failed,
// failed → processing, completed → processing (forced reprocess).
const (
	StateNotStarted = "not_started"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// VectorizationStatus is the state machine record driving the per-book
// pipeline. Progress is monotonically non-decreasing within a run.
type VectorizationStatus struct {
	BookID          string     `json:"book_id"`
	State           string     `json:"state"`
	Progress        float64    `json:"progress"`
	TotalChunks     int        `json:"total_chunks"`
	ProcessedChunks int        `json:"processed_chunks"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Message is one persisted chat turn for a book's conversation history.
type Message struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Book is the metadata the book content provider exposes for a book.
type Book struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}
