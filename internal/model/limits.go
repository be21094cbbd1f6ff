package model

import "slices"

// Limits describes what a destination platform accepts in a single post.
// Zero values mean "no limit" except for MaxGraphemes.
type Limits struct {
	Platform Platform

	// MaxGraphemes is the text budget in extended grapheme clusters.
	MaxGraphemes int
	// LinkWeight is the fixed length a link counts for, or 0 to count its
	// graphemes.
	LinkWeight int

	MaxMedia      int
	MaxAltText    int
	MaxImageBytes int
	// MaxImageDimension bounds the longest image side after recompression.
	MaxImageDimension int
	ImageTypes        []string

	SupportsVideo bool
	MaxVideoBytes int
	VideoTypes    []string
}

// AcceptsImage reports whether mime is an image format the platform takes.
func (l Limits) AcceptsImage(mime string) bool {
	return len(l.ImageTypes) == 0 || slices.Contains(l.ImageTypes, mime)
}

// AcceptsVideo reports whether mime is a video format the platform takes.
func (l Limits) AcceptsVideo(mime string) bool {
	if !l.SupportsVideo {
		return false
	}
	return len(l.VideoTypes) == 0 || slices.Contains(l.VideoTypes, mime)
}
