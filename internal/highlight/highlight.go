// Package highlight turns search-match information into marked-up message
// text. Matches arrive either as sentinel-delimited text from the FTS
// backend or as plain keywords to locate by scanning.
package highlight

import (
	"sort"
	"strings"
)

// MarkupStart and MarkupEnd wrap each highlighted region in rendered output.
const (
	MarkupStart = `<span class="highlight">`
	MarkupEnd   = `</span>`
)

// Span is a half-open [Start, End) byte range of matched text.
type Span struct {
	Start int
	End   int
}

// SpansFromMarked extracts match spans from text whose matched regions are
// wrapped in startMark/endMark delimiters. Returned offsets refer to the
// text with delimiters removed. Overlapping or adjacent spans are merged.
func SpansFromMarked(marked, startMark, endMark string) []Span {
	var spans []Span
	removed := 0
	pos := 0
	for {
		i := strings.Index(marked[pos:], startMark)
		if i < 0 {
			break
		}
		open := pos + i
		j := strings.Index(marked[open+len(startMark):], endMark)
		if j < 0 {
			break
		}
		start := open - removed
		spans = append(spans, Span{Start: start, End: start + j})
		removed += len(startMark) + len(endMark)
		pos = open + len(startMark) + j + len(endMark)
	}
	return merge(spans)
}

// Matches returns the matched substrings of sentinel-delimited text, in
// order of appearance.
func Matches(marked, startMark, endMark string) []string {
	var out []string
	pos := 0
	for {
		i := strings.Index(marked[pos:], startMark)
		if i < 0 {
			break
		}
		open := pos + i + len(startMark)
		j := strings.Index(marked[open:], endMark)
		if j < 0 {
			break
		}
		out = append(out, marked[open:open+j])
		pos = open + j + len(endMark)
	}
	return out
}

// SpansByScan locates each keyword in text case-insensitively and returns
// the merged match spans. Empty keywords are ignored.
func SpansByScan(text string, keywords []string) []Span {
	var spans []Span
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		for from := 0; ; {
			i := indexFold(text, kw, from)
			if i < 0 {
				break
			}
			spans = append(spans, Span{Start: i, End: i + len(kw)})
			from = i + len(kw)
		}
	}
	return merge(spans)
}

// Apply wraps each span of text in highlight markup. Spans that fall inside
// an HTML tag, or that cross a tag boundary, are dropped rather than risk
// producing invalid markup.
func Apply(text string, spans []Span) string {
	if len(spans) == 0 {
		return text
	}
	inTag := tagMap(text)

	var b strings.Builder
	b.Grow(len(text) + len(spans)*(len(MarkupStart)+len(MarkupEnd)))
	last := 0
	for _, s := range spans {
		if s.Start < last || s.End > len(text) || s.Start >= s.End {
			continue
		}
		if crossesTag(inTag, s) {
			continue
		}
		b.WriteString(text[last:s.Start])
		b.WriteString(MarkupStart)
		b.WriteString(text[s.Start:s.End])
		b.WriteString(MarkupEnd)
		last = s.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// tagMap marks each byte of text that sits inside an HTML tag, the angle
// brackets included.
func tagMap(text string) []bool {
	m := make([]bool, len(text))
	in := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '<':
			in = true
			m[i] = true
		case '>':
			m[i] = in
			in = false
		default:
			m[i] = in
		}
	}
	return m
}

func crossesTag(inTag []bool, s Span) bool {
	for i := s.Start; i < s.End; i++ {
		if inTag[i] {
			return true
		}
	}
	return false
}

// indexFold is a byte-offset, ASCII case-insensitive substring search
// starting at from.
func indexFold(s, substr string, from int) int {
	n := len(substr)
	for i := from; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

// merge sorts spans and coalesces overlapping or touching ranges.
func merge(spans []Span) []Span {
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
