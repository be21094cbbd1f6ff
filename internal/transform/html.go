package transform

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToText converts Mastodon status HTML to plain text. Paragraphs are
// separated by a blank line, <br> becomes a newline, entities are decoded
// and every other tag is dropped while its text is kept. Mastodon splits
// long links into invisible spans; their text is kept so links stay whole.
func HTMLToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return s
	}

	var sb strings.Builder
	paragraphs := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Br:
				sb.WriteString("\n")
				return
			case atom.P:
				if paragraphs > 0 {
					sb.WriteString("\n\n")
				}
				paragraphs++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.TrimSpace(sb.String())
}
