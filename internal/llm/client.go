// Package llm provides the completion client for an OpenAI-compatible
// chat API. It builds the grounding messages and performs the call with
// a single retry; prompt policy (when to call at all) lives with the
// caller.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookchat/internal/domain"
	"bookchat/internal/logger"
)

// DefaultSystemPrompt is used when the caller does not supply one.
const DefaultSystemPrompt = "你是一个严谨的读书助手。请仅依据提供的参考资料回答问题；如果资料不足以回答，请明确说明。"

// Service defines the completion operation used by the answer composer.
type Service interface {
	Generate(ctx context.Context, systemPrompt string, contextChunks []string, question string) (string, error)
}

// Options configures the API client.
type Options struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// APIService implements Service against a /chat/completions endpoint.
type APIService struct {
	opts   Options
	client *http.Client
	log    *logger.Logger
}

// NewAPIService creates an APIService with the given options.
func NewAPIService(opts Options, log *logger.Logger) *APIService {
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &APIService{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		log:    log,
	}
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// BuildMessages assembles the system and user messages for one
// question. Context chunks are numbered so the model can reference
// them; with no chunks the reference block is omitted entirely.
func BuildMessages(systemPrompt string, contextChunks []string, question string) []Message {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	var b strings.Builder
	if len(contextChunks) > 0 {
		b.WriteString("参考资料：\n")
		for i, chunk := range contextChunks {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, chunk)
		}
		b.WriteString("\n")
	}
	b.WriteString("问题：")
	b.WriteString(question)

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

// Generate runs one completion call with a single retry. A failure of
// both attempts surfaces as ErrUpstreamUnavailable; the caller decides
// what to show the user.
func (s *APIService) Generate(ctx context.Context, systemPrompt string, contextChunks []string, question string) (string, error) {
	messages := BuildMessages(systemPrompt, contextChunks, question)

	answer, err := s.callAPI(ctx, messages)
	if err == nil {
		return answer, nil
	}
	s.log.Warn("completion call failed, retrying", "error", err)

	answer, retryErr := s.callAPI(ctx, messages)
	if retryErr == nil {
		return answer, nil
	}
	return "", fmt.Errorf("completion failed after retry (%v): %w", retryErr, domain.ErrUpstreamUnavailable)
}

func (s *APIService) callAPI(ctx context.Context, messages []Message) (string, error) {
	bodyBytes, err := json.Marshal(chatRequest{
		Model:       s.opts.Model,
		Messages:    messages,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := s.opts.Endpoint + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion API error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("completion API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
