package model

import (
	"slices"
	"testing"
	"time"
)

func TestPlatformValidation(t *testing.T) {
	tests := map[string]struct {
		platform Platform
		valid    bool
	}{
		"mastodon valid":  {platform: Mastodon, valid: true},
		"bluesky valid":   {platform: Bluesky, valid: true},
		"empty invalid":   {platform: "", valid: false},
		"unknown invalid": {platform: "twitter", valid: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := tt.platform.IsValid()
			if got != tt.valid {
				t.Errorf("Platform(%q).IsValid() = %v, want %v",
					tt.platform, got, tt.valid)
			}
		})
	}
}

func TestAllPlatforms(t *testing.T) {
	platforms := AllPlatforms()

	if len(platforms) != 2 {
		t.Errorf("AllPlatforms() returned %d platforms, want 2", len(platforms))
	}

	for _, p := range platforms {
		if !p.IsValid() {
			t.Errorf("AllPlatforms() returned invalid platform: %q", p)
		}
		if p.Other() == p {
			t.Errorf("Platform(%q).Other() returned itself", p)
		}
	}
}

func TestParsePlatform(t *testing.T) {
	tests := map[string]struct {
		input   string
		want    Platform
		wantErr bool
	}{
		"full mastodon": {input: "mastodon", want: Mastodon},
		"short bsky":    {input: "bsky", want: Bluesky},
		"mixed case":    {input: " Bluesky ", want: Bluesky},
		"unknown":       {input: "myspace", wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParsePlatform(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePlatform(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePlatform(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDirection(t *testing.T) {
	tests := map[string]struct {
		input   string
		want    Direction
		source  Platform
		dest    Platform
		wantErr bool
	}{
		"explicit m2b":   {input: "mastodon-to-bluesky", want: MastodonToBluesky, source: Mastodon, dest: Bluesky},
		"explicit b2m":   {input: "bluesky-to-mastodon", want: BlueskyToMastodon, source: Bluesky, dest: Mastodon},
		"source only":    {input: "bsky", want: BlueskyToMastodon, source: Bluesky, dest: Mastodon},
		"invalid string": {input: "sideways", wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseDirection(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDirection(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParseDirection(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if got.Source() != tt.source || got.Dest() != tt.dest {
				t.Errorf("%s: source/dest = %s/%s, want %s/%s", got, got.Source(), got.Dest(), tt.source, tt.dest)
			}
			if got.Reverse().Reverse() != got {
				t.Errorf("%s: Reverse is not an involution", got)
			}
		})
	}
}

func TestCompareCreated(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	posts := []UnifiedPost{
		{ID: "c", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}
	slices.SortFunc(posts, CompareCreated)

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if posts[i].ID != id {
			t.Errorf("posts[%d].ID = %q, want %q", i, posts[i].ID, id)
		}
	}
}

func TestMediaKindFromMIME(t *testing.T) {
	tests := map[string]MediaKind{
		"image/png":             MediaImage,
		"image/jpeg":            MediaImage,
		"video/mp4":             MediaVideo,
		"application/x-mpegURL": MediaVideo,
		"text/plain":            MediaUnknown,
	}
	for mime, want := range tests {
		if got := MediaKindFromMIME(mime); got != want {
			t.Errorf("MediaKindFromMIME(%q) = %q, want %q", mime, got, want)
		}
	}
}
