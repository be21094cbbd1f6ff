package transform

import (
	"strings"
	"testing"
)

func TestLength(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		linkWeight int
		want       int
	}{
		{"ascii", "hello", 0, 5},
		{"family emoji is one cluster", "👨‍👩‍👧‍👦x", 0, 2},
		{"flag is one cluster", "🇩🇪", 0, 1},
		{"link counted by graphemes", "https://go.dev", 0, 14},
		{"link weighted", "https://example.com/x", 23, 23},
		{"text and weighted link", "ab https://x.io", 23, 26},
		{"trailing period outside link", "https://x.io.", 23, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Length(tt.text, tt.linkWeight); got != tt.want {
				t.Errorf("Length(%q, %d) = %d, want %d", tt.text, tt.linkWeight, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	family := "👨‍👩‍👧‍👦"
	tests := []struct {
		name       string
		text       string
		limit      int
		linkWeight int
		want       string
	}{
		{
			name:  "fits unchanged",
			text:  "hello world",
			limit: 20,
			want:  "hello world",
		},
		{
			name:  "exact fit unchanged",
			text:  "hello",
			limit: 5,
			want:  "hello",
		},
		{
			name:  "cut with marker",
			text:  "hello world",
			limit: 8,
			want:  "hello w…",
		},
		{
			name:  "trailing space trimmed",
			text:  "hello world again",
			limit: 7,
			want:  "hello…",
		},
		{
			name:  "cut on cluster boundary",
			text:  family + family + family + "abc",
			limit: 3,
			want:  family + family + "…",
		},
		{
			name:  "link is never split",
			text:  "see https://example.com/a/very/long/path ok",
			limit: 20,
			want:  "see…",
		},
		{
			name:       "weighted link kept whole",
			text:       "see https://example.com/a/very/long/path and more text here",
			limit:      30,
			linkWeight: 23,
			want:       "see https://example.com/a/very/long/path a…",
		},
		{
			name:  "zero limit",
			text:  "abc",
			limit: 0,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.text, tt.limit, tt.linkWeight)
			if got != tt.want {
				t.Errorf("Truncate() = %q, want %q", got, tt.want)
			}
			if n := Length(got, tt.linkWeight); n > tt.limit {
				t.Errorf("Length(result) = %d exceeds limit %d", n, tt.limit)
			}
		})
	}
}

func TestCutGraphemes(t *testing.T) {
	if got := cutGraphemes("abcdefgh", 5); got != "abcde" {
		t.Errorf("cutGraphemes() = %q, want %q", got, "abcde")
	}
	if got := cutGraphemes("abc", 0); got != "abc" {
		t.Errorf("cutGraphemes(n=0) = %q, want unchanged", got)
	}
	if got := cutGraphemes(strings.Repeat("🇩🇪", 3), 2); got != "🇩🇪🇩🇪" {
		t.Errorf("cutGraphemes(flags) = %q", got)
	}
}
