// Package rag implements retrieval-augmented answering: context
// assembly from search hits, prompt composition against the completion
// backend and the end-to-end query engine.
package rag

import (
	"unicode/utf8"

	"bookchat/internal/domain"
)

// BuildContext selects the hits that fit the context budget. Hits are
// walked in relevance order and accumulation stops at the first hit
// that would overflow maxContextLength; chunks are taken whole, never
// truncated mid-content. Length is counted in runes since CJK text is
// the common case.
func BuildContext(hits []domain.SearchHit, maxContextLength int) []domain.SearchHit {
	if maxContextLength <= 0 || len(hits) == 0 {
		return nil
	}

	var selected []domain.SearchHit
	used := 0
	for _, hit := range hits {
		n := utf8.RuneCountInString(hit.Payload.Content)
		if used+n > maxContextLength {
			break
		}
		used += n
		selected = append(selected, hit)
	}
	return selected
}
