package transform

import "testing"

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "no markup here",
			want: "no markup here",
		},
		{
			name: "paragraphs",
			in:   "<p>Hello</p><p>World</p>",
			want: "Hello\n\nWorld",
		},
		{
			name: "line breaks",
			in:   "<p>line one<br>line two<br />line three</p>",
			want: "line one\nline two\nline three",
		},
		{
			name: "entities decoded",
			in:   "<p>Fish &amp; chips &lt;3 &quot;yes&quot;</p>",
			want: `Fish & chips <3 "yes"`,
		},
		{
			name: "mentions and hashtags keep visible text",
			in: `<p><span class="h-card"><a href="https://m.example/@bob" class="u-url mention">@<span>bob</span></a></span> hi ` +
				`<a href="https://m.example/tags/go" class="mention hashtag" rel="tag">#<span>go</span></a></p>`,
			want: "@bob hi #go",
		},
		{
			name: "links split into spans stay whole",
			in: `<p>read <a href="https://example.com/long/path" rel="nofollow noopener" target="_blank">` +
				`<span class="invisible">https://</span><span class="ellipsis">example.com/lo</span>` +
				`<span class="invisible">ng/path</span></a></p>`,
			want: "read https://example.com/long/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.in); got != tt.want {
				t.Errorf("HTMLToText() = %q, want %q", got, tt.want)
			}
		})
	}
}
