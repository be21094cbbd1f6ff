package transform

import (
	"reflect"
	"strings"
	"testing"
)

func TestDetectFacets(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Facet
	}{
		{
			name: "none",
			text: "just words",
			want: nil,
		},
		{
			name: "tag and link with trailing period",
			text: "Go #golang https://go.dev.",
			want: []Facet{
				{ByteStart: 3, ByteEnd: 10, Tag: "golang"},
				{ByteStart: 11, ByteEnd: 25, Link: "https://go.dev"},
			},
		},
		{
			name: "tag punctuation stripped",
			text: "#go!",
			want: []Facet{{ByteStart: 0, ByteEnd: 3, Tag: "go"}},
		},
		{
			name: "numeric tag ignored",
			text: "issue #123",
			want: nil,
		},
		{
			name: "anchor inside link is not a tag",
			text: "https://example.com/#anchor",
			want: []Facet{{ByteStart: 0, ByteEnd: 27, Link: "https://example.com/#anchor"}},
		},
		{
			name: "byte offsets after multibyte text",
			text: "日本 #タグ",
			want: []Facet{{ByteStart: 7, ByteEnd: 14, Tag: "タグ"}},
		},
		{
			name: "closing paren without opening",
			text: "(see https://go.dev)",
			want: []Facet{{ByteStart: 5, ByteEnd: 19, Link: "https://go.dev"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectFacets(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectFacets(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
			for _, f := range got {
				if f.ByteEnd > len(tt.text) || f.ByteStart >= f.ByteEnd {
					t.Errorf("facet %+v out of range", f)
				}
			}
		})
	}
}

func TestBuildRichTextShortensLinks(t *testing.T) {
	link := "https://example.com/" + strings.Repeat("p", 40)
	text := strings.Repeat("a", 270) + " " + link + " #tag"

	rt := BuildRichText(text, 300)

	if n := GraphemeLen(rt.Text); n > 300 {
		t.Fatalf("text has %d graphemes, want <= 300", n)
	}
	if len(rt.Facets) != 2 {
		t.Fatalf("got %d facets, want 2", len(rt.Facets))
	}
	lf := rt.Facets[0]
	if lf.Link != link {
		t.Errorf("facet link = %q, want full url", lf.Link)
	}
	display := rt.Text[lf.ByteStart:lf.ByteEnd]
	if !strings.HasSuffix(display, Ellipsis) || GraphemeLen(display) != 23 {
		t.Errorf("display = %q, want 23 graphemes ending in ellipsis", display)
	}
	tf := rt.Facets[1]
	if got := rt.Text[tf.ByteStart:tf.ByteEnd]; got != "#tag" {
		t.Errorf("tag facet covers %q after shift, want #tag", got)
	}
}

func TestBuildRichTextShortTextUnchanged(t *testing.T) {
	text := "short https://example.com/" + strings.Repeat("x", 60)
	rt := BuildRichText(text, 300)
	if rt.Text != text {
		t.Errorf("text changed: %q", rt.Text)
	}
}
