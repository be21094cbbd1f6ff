// Package model defines the platform-agnostic types shared by the sync engine,
// the platform adapters and the sync cache.
package model

import (
	"fmt"
	"strings"
)

// Platform represents a supported social platform.
type Platform string

const (
	Mastodon Platform = "mastodon"
	Bluesky  Platform = "bluesky"
)

// IsValid returns true if the platform is recognized
func (p Platform) IsValid() bool {
	switch p {
	case Mastodon, Bluesky:
		return true
	default:
		return false
	}
}

// Other returns the platform on the opposite side of the sync pair.
func (p Platform) Other() Platform {
	if p == Mastodon {
		return Bluesky
	}
	return Mastodon
}

// String implements fmt.Stringer.
func (p Platform) String() string {
	return string(p)
}

// AllPlatforms returns all supported platforms
func AllPlatforms() []Platform {
	return []Platform{Mastodon, Bluesky}
}

// ParsePlatform converts user input into a Platform. Common short forms
// ("masto", "bsky") are accepted.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mastodon", "masto":
		return Mastodon, nil
	case "bluesky", "bsky":
		return Bluesky, nil
	default:
		return "", fmt.Errorf("unknown platform %q (valid: mastodon, bluesky)", s)
	}
}

// Direction names one leg of the bidirectional sync.
type Direction string

const (
	MastodonToBluesky Direction = "mastodon-to-bluesky"
	BlueskyToMastodon Direction = "bluesky-to-mastodon"
)

// Directions returns both sync directions in a stable order.
func Directions() []Direction {
	return []Direction{MastodonToBluesky, BlueskyToMastodon}
}

// DirectionFrom returns the direction that reads from source.
func DirectionFrom(source Platform) Direction {
	if source == Mastodon {
		return MastodonToBluesky
	}
	return BlueskyToMastodon
}

// ParseDirection converts user input such as "mastodon-to-bluesky" or
// "bsky" (the source platform) into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case MastodonToBluesky, BlueskyToMastodon:
		return d, nil
	}
	p, err := ParsePlatform(s)
	if err != nil {
		return "", fmt.Errorf("unknown direction %q (valid: %s, %s)", s, MastodonToBluesky, BlueskyToMastodon)
	}
	return DirectionFrom(p), nil
}

// Source returns the platform posts are read from.
func (d Direction) Source() Platform {
	if d == BlueskyToMastodon {
		return Bluesky
	}
	return Mastodon
}

// Dest returns the platform posts are published to.
func (d Direction) Dest() Platform {
	return d.Source().Other()
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	return DirectionFrom(d.Dest())
}

// String implements fmt.Stringer.
func (d Direction) String() string {
	return string(d)
}
