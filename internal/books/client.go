// Package books provides the client for the book content provider, the
// upstream service owning book metadata and extracted text.
package books

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookchat/internal/domain"
)

// Provider defines the book lookups the pipeline depends on. Text
// extraction from source formats is the provider's concern, not ours.
type Provider interface {
	GetBook(ctx context.Context, bookID string) (domain.Book, error)
	ExtractedText(ctx context.Context, bookID string) (string, error)
}

// Client implements Provider over the provider's REST API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for the provider at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// GetBook fetches a book's metadata. An unknown book surfaces as
// ErrInvalidInput since the caller supplied an id the provider has
// never seen.
func (c *Client) GetBook(ctx context.Context, bookID string) (domain.Book, error) {
	var book domain.Book
	body, err := c.get(ctx, fmt.Sprintf("%s/api/books/%s", c.baseURL, bookID))
	if err != nil {
		return domain.Book{}, err
	}
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.Book{}, fmt.Errorf("failed to decode book: %w", err)
	}
	if book.ID == "" {
		book.ID = bookID
	}
	return book, nil
}

// ExtractedText fetches a book's full extracted text.
func (c *Client) ExtractedText(ctx context.Context, bookID string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/api/books/%s/text", c.baseURL, bookID))
	if err != nil {
		return "", err
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode extracted text: %w", err)
	}
	return resp.Text, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("book provider request failed: %v: %w", err, domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %v: %w", err, domain.ErrUpstreamUnavailable)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("book not found: %w", domain.ErrInvalidInput)
	default:
		return nil, fmt.Errorf("book provider error (HTTP %d): %s: %w",
			resp.StatusCode, string(body), domain.ErrUpstreamUnavailable)
	}
}
