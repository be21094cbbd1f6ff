package transform

import (
	"regexp"
	"sort"
	"strings"
)

// Facet annotates a byte range of post text with a link or a hashtag, the
// way Bluesky expects rich text. Exactly one of Link and Tag is set.
type Facet struct {
	ByteStart int    `json:"byte_start"`
	ByteEnd   int    `json:"byte_end"`
	Link      string `json:"link,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// RichText is text together with its facets.
type RichText struct {
	Text   string
	Facets []Facet
}

const (
	tagInvisible = `\s\x{00AD}\x{2060}\x{200A}\x{200B}\x{200C}\x{200D}\x{20E2}`
	maxTagBytes  = 64
	// shortLink is the displayed length of a shortened link, marker included.
	shortLink = 23
)

var (
	tagPattern = regexp.MustCompile(`(?:^|\s)([#＃])([^` + tagInvisible + `]*[^\d\p{P}` + tagInvisible +
		`]+[^` + tagInvisible + `]*)?`)
	trailingPunct = regexp.MustCompile(`\p{P}+$`)
)

// DetectFacets finds http(s) links and hashtags in text. Offsets are byte
// offsets into text.
func DetectFacets(text string) []Facet {
	var facets []Facet
	for _, l := range findLinks(text) {
		facets = append(facets, Facet{ByteStart: l[0], ByteEnd: l[1], Link: text[l[0]:l[1]]})
	}
	for _, m := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		if m[4] < 0 {
			continue
		}
		tag := trailingPunct.ReplaceAllString(text[m[4]:m[5]], "")
		if tag == "" || strings.HasPrefix(tag, "\ufe0f") || len(tag) > maxTagBytes {
			continue
		}
		if insideLink(facets, m[2]) {
			continue
		}
		facets = append(facets, Facet{ByteStart: m[2], ByteEnd: m[3] + len(tag), Tag: tag})
	}
	sort.Slice(facets, func(i, j int) bool { return facets[i].ByteStart < facets[j].ByteStart })
	return facets
}

func insideLink(facets []Facet, pos int) bool {
	for _, f := range facets {
		if f.Link != "" && pos >= f.ByteStart && pos < f.ByteEnd {
			return true
		}
	}
	return false
}

// BuildRichText detects the facets of text. When the text is longer than
// maxGraphemes, links are shortened for display starting from the last one
// until it fits; their facets still point at the full URL.
func BuildRichText(text string, maxGraphemes int) RichText {
	rt := RichText{Text: text, Facets: DetectFacets(text)}
	if maxGraphemes <= 0 || GraphemeLen(rt.Text) <= maxGraphemes {
		return rt
	}
	for i := len(rt.Facets) - 1; i >= 0; i-- {
		f := rt.Facets[i]
		if f.Link == "" || GraphemeLen(f.Link) <= shortLink {
			continue
		}
		short := cutGraphemes(f.Link, shortLink-1) + Ellipsis
		rt.replace(i, short)
		if GraphemeLen(rt.Text) <= maxGraphemes {
			break
		}
	}
	return rt
}

// replace swaps the displayed text of facet i and shifts later facets.
func (rt *RichText) replace(i int, display string) {
	f := rt.Facets[i]
	rt.Text = rt.Text[:f.ByteStart] + display + rt.Text[f.ByteEnd:]
	delta := len(display) - (f.ByteEnd - f.ByteStart)
	rt.Facets[i].ByteEnd = f.ByteStart + len(display)
	for j := i + 1; j < len(rt.Facets); j++ {
		rt.Facets[j].ByteStart += delta
		rt.Facets[j].ByteEnd += delta
	}
}
