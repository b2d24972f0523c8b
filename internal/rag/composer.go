package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"bookchat/internal/domain"
	"bookchat/internal/llm"
)

// NoContextResponse is returned verbatim when retrieval finds nothing
// relevant; the completion backend is never consulted in that case.
const NoContextResponse = "抱歉，我没有找到相关的信息来回答您的问题。"

const excerptRunes = 100

// Source is one citation attached to an answer.
type Source struct {
	ChunkIndex int     `json:"chunk_index"`
	Chapter    string  `json:"chapter,omitempty"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

// Answer is the composed reply plus its citations.
type Answer struct {
	Response    string   `json:"response"`
	Sources     []Source `json:"sources"`
	ContextUsed int      `json:"context_used"`
}

// Composer renders the grounding prompt and post-processes the raw
// completion.
type Composer struct {
	llm llm.Service
}

// NewComposer creates a Composer over the given completion service.
func NewComposer(svc llm.Service) *Composer {
	return &Composer{llm: svc}
}

// Generate produces the final answer for a question grounded in the
// given context chunks. An empty context short-circuits to the fixed
// no-content response without any completion call.
func (c *Composer) Generate(ctx context.Context, book domain.Book, question string, contextHits []domain.SearchHit) (Answer, error) {
	if len(contextHits) == 0 {
		return Answer{Response: NoContextResponse}, nil
	}

	chunks := make([]string, len(contextHits))
	sources := make([]Source, len(contextHits))
	for i, hit := range contextHits {
		chunks[i] = hit.Payload.Content
		sources[i] = Source{
			ChunkIndex: hit.Payload.ChunkIndex,
			Chapter:    hit.Payload.Chapter,
			Excerpt:    excerpt(hit.Payload.Content),
			Score:      hit.Score,
		}
	}

	raw, err := c.llm.Generate(ctx, systemPrompt(book), chunks, question)
	if err != nil {
		return Answer{}, err
	}

	return Answer{
		Response:    postProcess(raw),
		Sources:     sources,
		ContextUsed: len(contextHits),
	}, nil
}

func systemPrompt(book domain.Book) string {
	var b strings.Builder
	fmt.Fprintf(&b, "你是一个读书助手，正在回答关于《%s》", book.Title)
	if book.Author != "" {
		fmt.Fprintf(&b, "（作者：%s）", book.Author)
	}
	b.WriteString("的问题。请仅依据用户提供的参考资料回答；如果资料不足以回答，请直接说明，不要编造内容。")
	return b.String()
}

// postProcess trims the reply and guarantees terminal punctuation. The
// content itself is never altered.
func postProcess(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	if !strings.ContainsRune("。！？．.!?”\"）)】]", last) {
		s += "。"
	}
	return s
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= excerptRunes {
		return content
	}
	return string(runes[:excerptRunes]) + "..."
}
