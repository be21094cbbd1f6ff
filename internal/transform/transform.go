// Package transform converts posts from one platform's conventions to the
// other's: plain text from Mastodon HTML, text length budgets counted in
// grapheme clusters, repost attribution, Bluesky rich-text facets and media
// re-encoding.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/logging"
	"github.com/klauern/postsync/internal/model"
)

// RepostMarker starts the text of a mirrored repost.
const RepostMarker = "♻️"

// Transformer converts posts for a destination platform.
type Transformer struct {
	transcoder Transcoder
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithTranscoder sets the collaborator used for video that the destination
// does not accept as-is.
func WithTranscoder(tc Transcoder) Option {
	return func(t *Transformer) {
		t.transcoder = tc
	}
}

// New creates a Transformer.
func New(opts ...Option) *Transformer {
	t := &Transformer{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RepostPrefix returns the attribution put in front of a repost's text.
func RepostPrefix(author string) string {
	return RepostMarker + " " + author + ": "
}

// Transform returns post rewritten for a platform with the given limits.
//
// Media the destination cannot take is dropped and reported with an
// UnsupportedMedia error alongside the converted post; callers that prefer
// to skip such posts can check the error kind. Any other error means the
// post could not be converted.
func (t *Transformer) Transform(ctx context.Context, post model.UnifiedPost, limits model.Limits) (model.UnifiedPost, error) {
	out := post
	out.Tags = append([]string(nil), post.Tags...)
	text, truncated := t.text(post, limits)
	out.Text = text
	if truncated && post.URL != "" {
		// Link the full post.
		out.EmbedURL = post.URL
	}

	media, err := t.media(ctx, post, limits)
	out.Media = media
	if err != nil && !apperr.IsKind(err, apperr.KindUnsupportedMedia) {
		return out, err
	}
	if err != nil && post.URL != "" && out.EmbedURL == "" && droppedVideo(post.Media, media) {
		// Point at the original so the video is one click away.
		out.EmbedURL = post.URL
	}
	return out, err
}

// text returns the converted text and whether it had to be shortened.
func (t *Transformer) text(post model.UnifiedPost, limits model.Limits) (string, bool) {
	if !post.IsRepost || post.RepostOfAuthor == "" {
		out := Truncate(post.Text, limits.MaxGraphemes, limits.LinkWeight)
		return out, out != post.Text
	}
	prefix := RepostPrefix(post.RepostOfAuthor)
	budget := limits.MaxGraphemes - Length(prefix, limits.LinkWeight)
	if budget <= GraphemeLen(Ellipsis) {
		full := prefix + post.Text
		out := Truncate(full, limits.MaxGraphemes, limits.LinkWeight)
		return out, out != full
	}
	body := Truncate(post.Text, budget, limits.LinkWeight)
	return prefix + body, body != post.Text
}

func (t *Transformer) media(ctx context.Context, post model.UnifiedPost, limits model.Limits) ([]model.Media, error) {
	var (
		out  []model.Media
		errs []error
	)
	for i, m := range post.Media {
		if limits.MaxMedia > 0 && len(out) >= limits.MaxMedia {
			logging.WithContext(ctx).Debug("dropping media beyond platform limit",
				logging.SourceID(post.ID),
				logging.Count(len(post.Media)-i),
			)
			break
		}
		converted, err := t.convert(ctx, m, limits)
		if err != nil {
			if !apperr.IsKind(err, apperr.KindUnsupportedMedia) {
				return nil, fmt.Errorf("convert media %d of %s: %w", i, post.ID, err)
			}
			errs = append(errs, err)
			continue
		}
		converted.AltText = cutGraphemes(converted.AltText, limits.MaxAltText)
		out = append(out, converted)
	}
	return out, errors.Join(errs...)
}

func (t *Transformer) convert(ctx context.Context, m model.Media, limits model.Limits) (model.Media, error) {
	dest := limits.Platform.String()
	switch m.Kind {
	case model.MediaImage:
		if !m.Loaded() {
			return m, fmt.Errorf("image %s was not downloaded", m.URL)
		}
		data, mime, err := FitImage(m.Data, m.MIMEType, limits.AcceptsImage, limits.MaxImageBytes, limits.MaxImageDimension)
		if err != nil {
			e := apperr.UnsupportedMedia(dest, "image "+m.URL)
			e.Err = err
			return m, e
		}
		if len(data) != len(m.Data) {
			logging.WithContext(ctx).Debug("recompressed image",
				logging.Platform(dest),
				slog.String("from", humanize.Bytes(uint64(len(m.Data)))),
				slog.String("to", humanize.Bytes(uint64(len(data)))),
			)
		}
		m.Data, m.MIMEType = data, mime
		return m, nil

	case model.MediaVideo, model.MediaGIFV:
		if !limits.SupportsVideo {
			return m, apperr.UnsupportedMedia(dest, "video is not supported: "+m.URL)
		}
		if m.IsStream() || !m.Loaded() || !limits.AcceptsVideo(m.MIMEType) {
			if t.transcoder == nil {
				return m, apperr.UnsupportedMedia(dest, "no transcoder for video "+m.URL)
			}
			data, err := t.transcoder.Transcode(ctx, m)
			if err != nil {
				return m, fmt.Errorf("transcode video: %w", err)
			}
			m.Data, m.MIMEType = data, mimeMP4
		}
		if limits.MaxVideoBytes > 0 && len(m.Data) > limits.MaxVideoBytes {
			return m, apperr.UnsupportedMedia(dest, fmt.Sprintf("video %s is %s, limit is %s", m.URL,
				humanize.Bytes(uint64(len(m.Data))), humanize.Bytes(uint64(limits.MaxVideoBytes))))
		}
		m.Kind = model.MediaVideo
		return m, nil

	default:
		return m, apperr.UnsupportedMedia(dest, fmt.Sprintf("unknown media type %q: %s", m.MIMEType, m.URL))
	}
}

func droppedVideo(in, out []model.Media) bool {
	videos := func(ms []model.Media) int {
		n := 0
		for _, m := range ms {
			if m.Kind == model.MediaVideo || m.Kind == model.MediaGIFV {
				n++
			}
		}
		return n
	}
	return videos(out) < videos(in)
}
