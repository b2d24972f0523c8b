// Package chunker splits extracted book text into overlapping chunks
// suitable for embedding and retrieval. Splitting prefers natural
// boundaries: paragraphs first, then sentences, then a hard character
// cut when nothing else produces a chunk within the size limit.
package chunker

import (
	"regexp"
	"strings"

	"bookchat/internal/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultOverlap is the default number of overlapping characters
// carried between adjacent chunks.
const DefaultOverlap = 200

var (
	paragraphSplitter = regexp.MustCompile(`\n\s*\n`)
	sentenceSplitter  = regexp.MustCompile(`[^。！？.!?]+[。！？.!?]+`)
)

// TextChunker splits text into chunks of at most ChunkSize characters
// with Overlap characters shared between adjacent chunks.
type TextChunker struct {
	ChunkSize int
	Overlap   int
}

// NewTextChunker creates a TextChunker, falling back to defaults for
// non-positive settings.
func NewTextChunker(chunkSize, overlap int) *TextChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &TextChunker{ChunkSize: chunkSize, Overlap: overlap}
}

// Split divides text into ordered chunks. Ids and the owning book id
// are assigned later by the vectorization pipeline. Empty or
// whitespace-only text yields no chunks.
func (tc *TextChunker) Split(text string) []domain.Chunk {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return nil
	}

	var pieces []string
	if len(normalized) <= tc.ChunkSize {
		pieces = []string{normalized}
	} else {
		pieces = tc.splitByParagraphs(normalized)
	}

	chunks := make([]domain.Chunk, 0, len(pieces))
	offset := 0
	for i, content := range pieces {
		step := len(content)
		if i < len(pieces)-1 && step > tc.Overlap {
			step -= tc.Overlap
		}
		chunks = append(chunks, domain.Chunk{
			Index:       i,
			Content:     content,
			Chapter:     DetectChapter(content),
			WordCount:   len(strings.Fields(content)),
			StartOffset: offset,
			EndOffset:   offset + len(content),
		})
		offset += step
	}
	return chunks
}

// splitByParagraphs accumulates paragraphs into chunks, carrying the
// overlap tail of each emitted chunk into the next. Paragraphs larger
// than the chunk size are re-split by sentence.
func (tc *TextChunker) splitByParagraphs(text string) []string {
	paragraphs := paragraphSplitter.Split(text, -1)

	var out []string
	current := ""
	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		if len(paragraph) > tc.ChunkSize {
			if current != "" {
				out = append(out, current)
				current = ""
			}
			out = append(out, tc.splitBySentences(paragraph)...)
			continue
		}

		if current != "" && len(current)+len(paragraph)+2 > tc.ChunkSize {
			out = append(out, current)
			current = tc.overlapTail(current) + "\n\n" + paragraph
			// A long tail plus a long paragraph can still overflow.
			if len(current) > tc.ChunkSize {
				current = paragraph
			}
			continue
		}

		if current == "" {
			current = paragraph
		} else {
			current += "\n\n" + paragraph
		}
	}
	if strings.TrimSpace(current) != "" {
		out = append(out, current)
	}
	return out
}

// splitBySentences accumulates sentences into chunks with overlap
// carry; sentences longer than the chunk size fall back to a hard cut.
func (tc *TextChunker) splitBySentences(text string) []string {
	sentences := sentenceSplitter.FindAllString(text, -1)
	if joined := strings.Join(sentences, ""); len(joined) < len(text) {
		// Trailing text without a terminator still belongs to the chunk.
		if rest := strings.TrimSpace(text[len(joined):]); rest != "" {
			sentences = append(sentences, rest)
		}
	}
	if len(sentences) == 0 {
		return tc.hardSplit(text)
	}

	var out []string
	current := ""
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if len(sentence) > tc.ChunkSize {
			if current != "" {
				out = append(out, current)
				current = ""
			}
			out = append(out, tc.hardSplit(sentence)...)
			continue
		}

		if current != "" && len(current)+len(sentence)+1 > tc.ChunkSize {
			out = append(out, current)
			current = tc.overlapTail(current) + " " + sentence
			if len(current) > tc.ChunkSize {
				current = sentence
			}
			continue
		}

		if current == "" {
			current = sentence
		} else {
			current += " " + sentence
		}
	}
	if strings.TrimSpace(current) != "" {
		out = append(out, current)
	}
	return out
}

// hardSplit cuts text into fixed windows of ChunkSize characters
// advancing by ChunkSize-Overlap. Last resort when no separator fits.
func (tc *TextChunker) hardSplit(text string) []string {
	step := tc.ChunkSize - tc.Overlap
	if step <= 0 {
		step = tc.ChunkSize
	}

	var out []string
	for start := 0; start < len(text); start += step {
		end := start + tc.ChunkSize
		if end > len(text) {
			end = len(text)
		}
		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			out = append(out, piece)
		}
		if end == len(text) {
			break
		}
	}
	return out
}

// overlapTail returns the last Overlap characters of an emitted chunk,
// aligned to a utf-8 boundary so the carry never splits a rune.
func (tc *TextChunker) overlapTail(chunk string) string {
	if tc.Overlap <= 0 || len(chunk) <= tc.Overlap {
		return chunk
	}
	cut := len(chunk) - tc.Overlap
	for cut > 0 && !isRuneStart(chunk[cut]) {
		cut--
	}
	return chunk[cut:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
