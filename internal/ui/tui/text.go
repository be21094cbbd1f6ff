package tui

import (
	"strings"

	"github.com/rivo/uniseg"
)

// truncateText cuts text to width terminal cells, ending with "…" when cut.
func truncateText(text string, width int) string {
	if width <= 0 {
		return ""
	}
	if uniseg.StringWidth(text) <= width {
		return text
	}
	var b strings.Builder
	used := 0
	state := -1
	rest := text
	for len(rest) > 0 {
		var cluster string
		var w int
		cluster, rest, w, state = uniseg.FirstGraphemeClusterInString(rest, state)
		if used+w > width-1 {
			break
		}
		b.WriteString(cluster)
		used += w
	}
	b.WriteString("…")
	return b.String()
}

// wrapText wraps text at word boundaries into at most maxLines lines of
// width cells. The last line is truncated when text does not fit.
func wrapText(text string, width, maxLines int) []string {
	if width <= 0 {
		return []string{""}
	}
	var lines []string
	cur := ""
	for _, word := range strings.Fields(text) {
		switch {
		case cur == "":
			cur = word
		case uniseg.StringWidth(cur)+1+uniseg.StringWidth(word) <= width:
			cur += " " + word
		default:
			lines = append(lines, cur)
			cur = word
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	if maxLines > 0 && len(lines) > maxLines {
		rest := strings.Join(lines[maxLines-1:], " ")
		lines = append(lines[:maxLines-1], rest)
	}
	for i, l := range lines {
		lines[i] = truncateText(l, width)
	}
	return lines
}

// padLines extends lines with empty lines up to n.
func padLines(lines []string, n int) []string {
	for len(lines) < n {
		lines = append(lines, "")
	}
	return lines
}
