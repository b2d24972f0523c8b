package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"bookchat/internal/domain"
)

func hit(rank int, score float64, content string) domain.SearchHit {
	return domain.SearchHit{
		ChunkID: "c",
		Score:   score,
		Rank:    rank,
		Payload: domain.VectorPayload{BookID: "B1", ChunkIndex: rank, Content: content},
	}
}

func TestBuildContext_BudgetRespected(t *testing.T) {
	hits := []domain.SearchHit{
		hit(0, 0.9, strings.Repeat("a", 300)),
		hit(1, 0.8, strings.Repeat("b", 300)),
		hit(2, 0.7, strings.Repeat("c", 300)),
	}

	for _, budget := range []int{100, 300, 600, 900, 5000} {
		selected := BuildContext(hits, budget)
		total := 0
		for _, h := range selected {
			total += utf8.RuneCountInString(h.Payload.Content)
		}
		if total > budget {
			t.Errorf("budget %d exceeded: %d", budget, total)
		}
	}
}

func TestBuildContext_StopsAtFirstOverflow(t *testing.T) {
	// The second hit overflows; the third would fit but must not be
	// pulled in past the stop.
	hits := []domain.SearchHit{
		hit(0, 0.9, strings.Repeat("a", 100)),
		hit(1, 0.8, strings.Repeat("b", 500)),
		hit(2, 0.7, strings.Repeat("c", 50)),
	}
	selected := BuildContext(hits, 200)
	if len(selected) != 1 {
		t.Fatalf("expected 1 selected hit, got %d", len(selected))
	}
	if selected[0].Rank != 0 {
		t.Errorf("expected top hit selected, got rank %d", selected[0].Rank)
	}
}

func TestBuildContext_WholeChunksOnly(t *testing.T) {
	hits := []domain.SearchHit{hit(0, 0.9, strings.Repeat("内", 100))}
	selected := BuildContext(hits, 50)
	if len(selected) != 0 {
		t.Errorf("chunk must not be truncated to fit, got %d hits", len(selected))
	}
}

func TestBuildContext_CountsRunesNotBytes(t *testing.T) {
	// 100 CJK runes are 300 bytes; a 100-rune budget must admit them.
	hits := []domain.SearchHit{hit(0, 0.9, strings.Repeat("书", 100))}
	selected := BuildContext(hits, 100)
	if len(selected) != 1 {
		t.Errorf("expected CJK chunk to fit a rune budget, got %d hits", len(selected))
	}
}

func TestBuildContext_EmptyHits(t *testing.T) {
	if got := BuildContext(nil, 4000); len(got) != 0 {
		t.Errorf("expected empty context, got %d", len(got))
	}
}

func TestBuildContext_PreservesOrderAndScores(t *testing.T) {
	hits := []domain.SearchHit{
		hit(0, 0.9, "first"),
		hit(1, 0.8, "second"),
	}
	selected := BuildContext(hits, 4000)
	if len(selected) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(selected))
	}
	if selected[0].Score != 0.9 || selected[1].Score != 0.8 {
		t.Errorf("scores not preserved: %v", selected)
	}
}
