package transform

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

var linkPattern = regexp.MustCompile(`https?://\S+`)

// span is a byte range of text. Links are kept whole when truncating.
type span struct {
	start, end int
	link       bool
}

// findLinks returns the byte ranges of the links in text, with trailing
// punctuation left outside the link.
func findLinks(text string) [][2]int {
	var out [][2]int
	for _, loc := range linkPattern.FindAllStringIndex(text, -1) {
		end := loc[0] + len(trimLinkPunctuation(text[loc[0]:loc[1]]))
		if end > loc[0] {
			out = append(out, [2]int{loc[0], end})
		}
	}
	return out
}

func trimLinkPunctuation(link string) string {
	for link != "" {
		last := link[len(link)-1]
		switch last {
		case '.', ',', ';', ':', '!', '?', '\'', '"':
			link = link[:len(link)-1]
			continue
		case ')':
			if strings.Count(link, "(") < strings.Count(link, ")") {
				link = link[:len(link)-1]
				continue
			}
		}
		break
	}
	return link
}

func splitSpans(text string) []span {
	var spans []span
	pos := 0
	for _, l := range findLinks(text) {
		if l[0] > pos {
			spans = append(spans, span{start: pos, end: l[0]})
		}
		spans = append(spans, span{start: l[0], end: l[1], link: true})
		pos = l[1]
	}
	if pos < len(text) {
		spans = append(spans, span{start: pos, end: len(text)})
	}
	return spans
}

// GraphemeLen returns the number of extended grapheme clusters in s.
func GraphemeLen(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// Length returns the length of text as a platform counts it: graphemes,
// with every link weighted linkWeight when linkWeight is positive.
func Length(text string, linkWeight int) int {
	n := 0
	for _, sp := range splitSpans(text) {
		n += spanLength(text[sp.start:sp.end], sp.link, linkWeight)
	}
	return n
}

func spanLength(s string, link bool, linkWeight int) int {
	if link && linkWeight > 0 {
		return linkWeight
	}
	return GraphemeLen(s)
}

// Truncate shortens text to at most limit (as counted by Length). The cut
// happens on a grapheme boundary, never inside a link, and the result ends
// with Ellipsis. Text that already fits is returned unchanged.
func Truncate(text string, limit, linkWeight int) string {
	if Length(text, linkWeight) <= limit {
		return text
	}
	if limit <= 0 {
		return ""
	}
	budget := limit - GraphemeLen(Ellipsis)

	var sb strings.Builder
	used := 0
loop:
	for _, sp := range splitSpans(text) {
		s := text[sp.start:sp.end]
		if sp.link {
			w := spanLength(s, true, linkWeight)
			if used+w > budget {
				break
			}
			sb.WriteString(s)
			used += w
			continue
		}
		g := uniseg.NewGraphemes(s)
		for g.Next() {
			if used+1 > budget {
				break loop
			}
			sb.WriteString(g.Str())
			used++
		}
	}
	return strings.TrimRightFunc(sb.String(), unicode.IsSpace) + Ellipsis
}

// cutGraphemes keeps the first n grapheme clusters of s without adding a marker.
func cutGraphemes(s string, n int) string {
	if n <= 0 || GraphemeLen(s) <= n {
		return s
	}
	var sb strings.Builder
	g := uniseg.NewGraphemes(s)
	for i := 0; i < n && g.Next(); i++ {
		sb.WriteString(g.Str())
	}
	return sb.String()
}
