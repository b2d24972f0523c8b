package chunker

import (
	"regexp"
	"strings"
)

// ChapterUnknown is the placeholder label used when no heading pattern
// matches the chunk's leading text.
const ChapterUnknown = "未知章节"

// headingPatterns match common chapter and section headings at the
// start of a line. Ordered from most to least specific.
var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^第\s*[0-9一二三四五六七八九十百千零〇]+\s*[章节卷部篇回]\s*[^\n]{0,40}`),
	regexp.MustCompile(`(?i)^chapter\s+[0-9ivxlc]+\b[^\n]{0,40}`),
	regexp.MustCompile(`(?i)^part\s+[0-9ivxlc]+\b[^\n]{0,40}`),
	regexp.MustCompile(`^[0-9]+(\.[0-9]+)*\s+\S[^\n]{0,40}`),
}

// DetectChapter scans the leading text of a chunk for a chapter or
// section heading. It is a best-effort, side-effect-free classifier:
// a miss yields the placeholder label and never blocks segmentation.
func DetectChapter(content string) string {
	head := content
	if len(head) > 200 {
		head = head[:200]
	}

	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, pattern := range headingPatterns {
			if m := pattern.FindString(line); m != "" {
				return strings.TrimSpace(m)
			}
		}
		// Only the first non-empty line can plausibly be a heading.
		break
	}
	return ChapterUnknown
}
